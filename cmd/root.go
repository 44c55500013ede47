package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/frame-export/internal/util"
	"github.com/babelcloud/gbox/packages/frame-export/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "gbox-export",
	Short: "Render frames and export them as WebM video or a ZIP of stills",
	Long: `gbox-export renders a deterministic scene frame by frame and packages the result
as a WebM (VP8/VP9) video or as a store-only ZIP archive of PNG images.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		util.InitLogger(verbose || util.IsVerbose())
		util.SetupGlobalLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "gbox-export version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(NewVideoCommand())
	rootCmd.AddCommand(NewFramesCommand())
	rootCmd.AddCommand(NewInspectCommand())
	rootCmd.AddCommand(NewServerCmd())
	rootCmd.AddCommand(NewVersionCommand())
}
