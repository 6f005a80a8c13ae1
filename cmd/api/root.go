package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agrobuddy/backend/pkg/config"
	"github.com/agrobuddy/backend/pkg/logger"
)

type options struct {
	configPath string
	cfg        *config.Config
}

func rootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "agrobuddy",
		Short:         "AgroBuddy plant disease diagnosis backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			output := cfg.Logging.OutputPath
			// stdout belongs to the command output unless we are serving.
			if cmd.Name() != "serve" && cmd != cmd.Root() && (output == "" || output == "stdout") {
				output = "stderr"
			}
			if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, output); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default ./config.yaml)")

	serve := serveCommand(opts)
	root.AddCommand(serve, diagnoseCommand(opts), diseasesCommand(opts))

	// Running the bare binary starts the server.
	root.RunE = serve.RunE

	return root
}
