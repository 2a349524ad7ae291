package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bootseq/internal/launch"
)

var launchCmd = &cobra.Command{
	Use:   "launch <artifact-id|tag>",
	Short: "Launch an artifact bound to the port in its declared variable",
	Long: `Reads the port from the variable the artifact declares (PORT unless the build
said otherwise), unpacks the artifact, binds 0.0.0.0:<port> and runs the
entrypoint. An unset or invalid port fails before anything is bound.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runDir, _ := cmd.Flags().GetString("run-dir")
		if runDir == "" {
			runDir = app.cfg.RunDir
		}
		l := &launch.Launcher{
			Store:       app.store,
			Registry:    app.registry,
			RunDir:      runDir,
			Metrics:     app.metrics,
			Logger:      app.logger,
			CORSOrigins: app.cfg.CORSOrigins,
			Stdout:      cmd.OutOrStdout(),
			Stderr:      cmd.ErrOrStderr(),
		}
		return l.Run(ctx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(launchCmd)
	launchCmd.Flags().String("run-dir", "", "directory for unpacked instances; overrides BOOTSEQ_RUN_DIR")
}
