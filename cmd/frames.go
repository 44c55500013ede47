package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/frame-export/config"
	"github.com/babelcloud/gbox/packages/frame-export/internal/export"
	"github.com/babelcloud/gbox/packages/frame-export/internal/host"
)

// FramesOptions holds the flags of the frames command.
type FramesOptions struct {
	Width     int
	Height    int
	Frames    uint32
	FPS       uint32
	Prefix    string
	Particles int
	Seed      int64
	Output    string
	Open      bool
	Quiet     bool
}

// NewFramesCommand creates the 'frames' command.
func NewFramesCommand() *cobra.Command {
	defaults := config.GetVideo()
	opts := &FramesOptions{}

	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Render the scene and export every frame as PNG in a ZIP",
		Example: `  # 10 frames named shot_000000.png ... shot_000009.png
  gbox-export frames -n 10 --prefix shot -o shots.zip`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrames(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Width, "width", int(defaults.Width), "Frame width in pixels")
	flags.IntVar(&opts.Height, "height", int(defaults.Height), "Frame height in pixels")
	flags.Uint32VarP(&opts.Frames, "frames", "n", uint32(defaults.Frames), "Number of frames to render")
	flags.Uint32Var(&opts.FPS, "fps", config.GetFramesFPS(), "Frame rate used to time the scene")
	flags.StringVar(&opts.Prefix, "prefix", config.GetFramePrefix(), "Entry name prefix")
	flags.IntVar(&opts.Particles, "particles", config.GetSceneParticles(), "Particles in the scene")
	flags.Int64Var(&opts.Seed, "seed", config.GetSceneSeed(), "Scene random seed")
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file, '-' for stdout (default: a new file in the output directory)")
	flags.BoolVar(&opts.Open, "open", false, "Open the result with the system viewer")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide the progress spinner")

	return cmd
}

func runFrames(cmd *cobra.Command, opts *FramesOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out, err := resolveOutputPath(opts.Output, ".zip")
	if err != nil {
		return err
	}

	ui := newProgressUI("Rendering frames...", opts.Quiet || out == "-")
	res, err := host.SceneFramesJob{
		Width:  opts.Width,
		Height: opts.Height,
		Frames: export.ImageSequenceConfig{
			FrameCount: opts.Frames,
			FilePrefix: opts.Prefix,
			FPS:        opts.FPS,
		},
		Scene:    sceneConfig(opts.Particles, opts.Seed),
		Progress: ui.Update,
	}.Run(ctx)
	if err != nil {
		ui.Fail("Frame export failed")
		return errors.Wrap(err, "frame export failed")
	}

	if err := writeOutput(cmd.OutOrStdout(), out, res.Data); err != nil {
		ui.Fail("Could not save archive")
		return err
	}
	ui.Success(fmt.Sprintf("Exported %d images (%s) to %s",
		res.Entries, formatBytes(len(res.Data)), color.CyanString(displayPath(out))))

	if opts.Open {
		openOutput(out)
	}
	return nil
}
