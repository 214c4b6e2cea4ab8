package cmd

import (
	"context"
	"os"

	"github.com/asaidimu/anansi-fixtures/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Schema-defined test fixture pool",
	Long: `fixtures stores schema-defined test records and hands each one out to
exactly one test runner. Expired schemas and records are swept on a schedule.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "fixtures version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newSchemasCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// setup loads configuration and builds the logger and application for a
// command. The returned cleanup closes both.
func setup(ctx context.Context) (*application, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Logging, debug)
	if err != nil {
		return nil, nil, err
	}

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		if err := app.Close(); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
		logger.Sync()
	}
	return app, cleanup, nil
}
