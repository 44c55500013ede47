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
	"github.com/babelcloud/gbox/packages/frame-export/internal/version"
)

// VideoOptions holds the flags of the video command.
type VideoOptions struct {
	Width            uint32
	Height           uint32
	FPS              uint32
	Frames           uint32
	Codec            string
	Bitrate          uint32
	ClusterMaxMillis uint32
	Particles        int
	Seed             int64
	FFmpeg           string
	Output           string
	Open             bool
	Quiet            bool
}

// NewVideoCommand creates the 'video' command.
func NewVideoCommand() *cobra.Command {
	defaults := config.GetVideo()
	opts := &VideoOptions{}

	cmd := &cobra.Command{
		Use:   "video",
		Short: "Render the scene and export it as WebM",
		Long: `Render the particle scene frame by frame, encode every frame with ffmpeg
(libvpx) and mux the packets into a WebM file.`,
		Example: `  # 3 seconds of 640x360 VP9 into the default output directory
  gbox-export video

  # VP8 at 60 fps written to stdout
  gbox-export video --codec vp8 --fps 60 -o - > out.webm`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVideo(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var(&opts.Width, "width", defaults.Width, "Frame width in pixels")
	flags.Uint32Var(&opts.Height, "height", defaults.Height, "Frame height in pixels")
	flags.Uint32Var(&opts.FPS, "fps", defaults.FPS, "Frames per second")
	flags.Uint32VarP(&opts.Frames, "frames", "n", uint32(defaults.Frames), "Number of frames to render")
	flags.StringVar(&opts.Codec, "codec", defaults.Codec, "Codec string (vp8, vp9, vp09.00.10.08, ...)")
	flags.Uint32Var(&opts.Bitrate, "bitrate", defaults.Bitrate, "Target bitrate in bits per second")
	flags.Uint32Var(&opts.ClusterMaxMillis, "cluster-max-ms", defaults.ClusterMaxMillis, "Maximum cluster duration in milliseconds")
	flags.IntVar(&opts.Particles, "particles", config.GetSceneParticles(), "Particles in the scene")
	flags.Int64Var(&opts.Seed, "seed", config.GetSceneSeed(), "Scene random seed")
	flags.StringVar(&opts.FFmpeg, "ffmpeg", config.GetFFmpegBinary(), "ffmpeg executable")
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file, '-' for stdout (default: a new file in the output directory)")
	flags.BoolVar(&opts.Open, "open", false, "Open the result with the system viewer")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide the progress spinner")

	return cmd
}

func runVideo(cmd *cobra.Command, opts *VideoOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out, err := resolveOutputPath(opts.Output, ".webm")
	if err != nil {
		return err
	}

	ui := newProgressUI("Rendering video...", opts.Quiet || out == "-")
	factory := host.NewFFmpegFactory(opts.FFmpeg)
	res, err := host.SceneVideoJob{
		Video: export.VideoConfig{
			Width:            opts.Width,
			Height:           opts.Height,
			FPS:              opts.FPS,
			FrameCount:       opts.Frames,
			Codec:            opts.Codec,
			Bitrate:          opts.Bitrate,
			ClusterMaxMillis: opts.ClusterMaxMillis,
		},
		Scene:     sceneConfig(opts.Particles, opts.Seed),
		Encoders:  factory,
		Progress:  ui.Update,
		MuxingApp: version.WritingApp(),
	}.Run(ctx)
	if err != nil {
		ui.Fail("Video export failed")
		return errors.Wrap(err, "video export failed")
	}

	if err := writeOutput(cmd.OutOrStdout(), out, res.Data); err != nil {
		ui.Fail("Could not save video")
		return err
	}
	ui.Success(fmt.Sprintf("Exported %d frames in %d clusters (%s) to %s",
		res.Frames, res.Video.Clusters, formatBytes(len(res.Data)), color.CyanString(displayPath(out))))

	if opts.Open {
		openOutput(out)
	}
	return nil
}

func sceneConfig(particles int, seed int64) host.SceneConfig {
	cfg := host.DefaultSceneConfig
	if particles > 0 {
		cfg.Particles = particles
	}
	cfg.Seed = seed
	return cfg
}

func displayPath(path string) string {
	if path == "-" {
		return "stdout"
	}
	return path
}
