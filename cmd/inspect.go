package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/frame-export/internal/export/probe"
)

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
)

// InspectOptions holds the flags of the inspect command.
type InspectOptions struct {
	OutputFormat string
}

// NewInspectCommand creates the 'inspect' command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe an exported WebM or ZIP file",
		Example: `  gbox-export inspect out.webm
  gbox-export inspect shots.zip --output json`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", args[0])
			}
			return runInspect(cmd.OutOrStdout(), data, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.OutputFormat, "output", "o", "text", "Output format: text, json or toml")
	return cmd
}

func runInspect(w io.Writer, data []byte, opts *InspectOptions) error {
	var (
		summary interface{}
		text    func(io.Writer)
	)
	switch {
	case bytes.HasPrefix(data, ebmlMagic):
		s, err := probe.InspectWebM(bytes.NewReader(data))
		if err != nil {
			return err
		}
		summary, text = s, func(w io.Writer) { printWebM(w, s) }
	case bytes.HasPrefix(data, zipMagic):
		s, err := probe.InspectZip(data)
		if err != nil {
			return err
		}
		summary, text = s, func(w io.Writer) { printZip(w, s) }
	default:
		return fmt.Errorf("unrecognized file format")
	}

	switch opts.OutputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	case "toml":
		out, err := toml.Marshal(summary)
		if err != nil {
			return errors.Wrap(err, "failed to encode TOML")
		}
		_, err = w.Write(out)
		return err
	case "text", "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", opts.OutputFormat)
	}
}

func printWebM(w io.Writer, s *probe.WebMSummary) {
	label := color.New(color.Faint).Sprint
	fmt.Fprintf(w, "%s %s (version %d)\n", label("DocType:"), s.DocType, s.DocTypeVersion)
	fmt.Fprintf(w, "%s %d ns\n", label("TimecodeScale:"), s.TimecodeScale)
	fmt.Fprintf(w, "%s %s / %s\n", label("Application:"), s.MuxingApp, s.WritingApp)
	for _, t := range s.Tracks {
		fmt.Fprintf(w, "%s #%d %s %dx%d, %d ns per frame\n",
			label("Track:"), t.Number, color.CyanString(t.CodecID), t.Width, t.Height, t.DefaultDuration)
	}

	keyframes := 0
	for _, c := range s.Clusters {
		for _, b := range c.Blocks {
			if b.Keyframe {
				keyframes++
			}
		}
	}
	fmt.Fprintf(w, "%s %d clusters, %d blocks, %d keyframes\n", label("Content:"), len(s.Clusters), s.BlockCount(), keyframes)
	for i, c := range s.Clusters {
		first, last := c.Timecode, c.Timecode
		if n := len(c.Blocks); n > 0 {
			last = c.Blocks[n-1].AbsoluteMsec
		}
		fmt.Fprintf(w, "  cluster %d: %d-%d ms, %d blocks\n", i, first, last, len(c.Blocks))
	}
}

func printZip(w io.Writer, s *probe.ZipSummary) {
	fmt.Fprintf(w, "%s %d entries\n", color.New(color.Faint).Sprint("Archive:"), len(s.Entries))
	for _, e := range s.Entries {
		fmt.Fprintf(w, "  %-32s %10d bytes  crc %08x  @%d\n", color.CyanString(e.Name), e.Size, e.CRC32, e.HeaderOffset)
	}
}
