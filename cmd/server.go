package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/frame-export/config"
	"github.com/babelcloud/gbox/packages/frame-export/internal/host"
	"github.com/babelcloud/gbox/packages/frame-export/internal/server"
)

// NewServerCmd creates the server command with subcommands
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the export HTTP server",
	}
	cmd.AddCommand(newServerStartCmd())
	cmd.AddCommand(newServerStatusCmd())
	return cmd
}

func serverOptions(port int, ffmpeg string) server.Options {
	v := config.GetVideo()
	return server.Options{
		Port:     port,
		Encoders: host.NewFFmpegFactory(ffmpeg),
		Defaults: server.Defaults{
			Width:            v.Width,
			Height:           v.Height,
			FPS:              v.FPS,
			Frames:           uint32(v.Frames),
			Codec:            v.Codec,
			Bitrate:          v.Bitrate,
			ClusterMaxMillis: v.ClusterMaxMillis,
			FramePrefix:      config.GetFramePrefix(),
			Scene:            sceneConfig(config.GetSceneParticles(), config.GetSceneSeed()),
		},
		MaxFrames: uint32(config.GetServerMaxFrames()),
		Retention: config.GetProgressRetention(),
	}
}

func newServerStartCmd() *cobra.Command {
	var (
		port   int
		ffmpeg string
		open   bool
	)

	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Start the server in the foreground",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.NewExportServer(serverOptions(port, ffmpeg))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			statusURL := fmt.Sprintf("http://localhost:%d/api/status", port)
			fmt.Printf("Export server running at %s\n", color.CyanString(fmt.Sprintf("http://localhost:%d", port)))
			fmt.Printf("(Press %s to stop.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
			if open {
				if err := browser.OpenURL(statusURL); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to open browser: %v\n", err)
				}
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				fmt.Println("\nShutting down...")
				if err := srv.Stop(); err != nil {
					return errors.Wrap(err, "failed to stop server")
				}
				return <-errCh
			}
		},
		Example: `  gbox-export server start
  gbox-export server start -p 8080`,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", config.GetServerPort(), "Server port")
	flags.StringVar(&ffmpeg, "ffmpeg", config.GetFFmpegBinary(), "ffmpeg executable")
	flags.BoolVar(&open, "open", false, "Open the status page in a browser")
	return cmd
}

func newServerStatusCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client := &http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/status", port))
			if err != nil {
				fmt.Fprintln(out, color.RedString("Server is not running"))
				fmt.Fprintln(out, "   Use 'gbox-export server start' to start the server")
				return nil
			}
			defer resp.Body.Close()

			var status map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return errors.Wrap(err, "failed to decode server status")
			}
			fmt.Fprintln(out, color.GreenString("Server is running"))
			fmt.Fprintf(out, "   Version: %v\n", status["version"])
			fmt.Fprintf(out, "   Uptime:  %v\n", status["uptime"])
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", config.GetServerPort(), "Server port")
	return cmd
}
