// Package cmd contains the loupe CLI commands.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loupe-dev/loupe/internal/config"
	"github.com/loupe-dev/loupe/internal/logging"
)

var (
	flagConfig string
	flagDebug  bool

	loadedConfig *config.Config
	logCleanup   func()
)

var rootCmd = &cobra.Command{
	Use:   "loupe",
	Short: "Local hybrid code-search service for AI coding agents",
	Long: `Loupe maintains a real-time lexical + semantic index over source
repositories and answers code-retrieval queries over MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			if cwd, err := os.Getwd(); err == nil {
				path = filepath.Join(cwd, config.ConfigFileName)
			}
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if flagDebug {
			cfg.Log.Level = "debug"
		}
		loadedConfig = cfg

		logCfg := logging.Config{Level: cfg.Log.Level, WriteToStderr: true}
		cleanup, err := logging.SetupDefault(logCfg)
		if err != nil {
			return err
		}
		logCleanup = cleanup
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to .loupe.yaml")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}
