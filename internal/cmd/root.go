// Package cmd provides the ids-guard command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"ids-guard/internal/app"
	"ids-guard/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/ids_guard.yaml"

var (
	// Global flags
	configPath string
	logLevel   string // --log-level flag (debug, info, warn, error)

	// Loaded configuration
	cfg    *utils.GuardConfig
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ids-guard",
	Short: "ids-guard - IDS alert analysis and automatic IP blocking",
	Long: `ids-guard ingests IDS alerts and capture summaries, scores them with an
isolation forest and keeps the firewall in line with the human and
detection-proposed blocklists.

Run the API server (api/main.go) for continuous monitoring; the commands
below operate on the same data directory for one-off tasks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = strings.ToUpper(logLevel)
		}
		logger = utils.NewLoggerFromConfig(cfg.Logging)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default "+defaultConfigPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
}

// loadConfig reads path, or the default file when path is empty. A missing
// default file falls back to built-in defaults.
func loadConfig(path string) (*utils.GuardConfig, error) {
	if path != "" {
		c, err := utils.LoadGuardConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		return c, nil
	}
	if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
		c := utils.GetDefaultGuardConfig()
		return c, c.Validate()
	}
	return utils.LoadGuardConfig(defaultConfigPath)
}

// withApp builds the components, starts event delivery and closes everything
// once fn returns, so queued block events are flushed before exit.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.Start(ctx)

	runErr := fn(ctx, a)
	if err := a.Close(); err != nil {
		logger.Warnf("[CLI] shutdown: %v", err)
	}
	return runErr
}
