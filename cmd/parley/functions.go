package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "Print the compiled function schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Journal.Enabled = false
		cfg.Trace.Enabled = false

		ctx := context.Background()
		s, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s.registry.CompileSchema())
	},
}
