package main

import (
	"os"

	"parley/internal/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	llmName    string
)

func main() {
	logger.Init("info")
	rootCmd := &cobra.Command{
		Use:          "parley",
		Short:        "Parley streams conversations with a completion service and dispatches its function calls",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/parley/config.toml)")
	rootCmd.PersistentFlags().StringVar(&llmName, "llm", "", "completion service to use (default from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(functionsCmd)
	rootCmd.AddCommand(journalCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
