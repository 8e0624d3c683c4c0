package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/statement-categorizer/internal/gemini"
	"github.com/dvloznov/statement-categorizer/internal/source"
	"github.com/spf13/cobra"
)

func (c *cli) tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <file>",
		Short: "Count the model input tokens a file would cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			if len(data) == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}

			mimeType := "text/plain"
			if _, err := source.FromBytes(data); err == nil {
				mimeType = "application/pdf"
			}

			client, err := gemini.NewClient(ctx, gemini.Config{APIKey: c.cfg.Gemini.APIKey, Model: c.cfg.Gemini.Model})
			if err != nil {
				return err
			}
			total, err := client.CountTokens(ctx, data, mimeType)
			if err != nil {
				return err
			}

			status := "OK"
			if c.cfg.Tokens.Limit > 0 && total > c.cfg.Tokens.Limit {
				status = "LIMIT_EXCEEDED"
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{
				"total_tokens": total,
				"status":       status,
				"filename":     filepath.Base(args[0]),
				"file_size":    len(data),
				"content_type": mimeType,
			})
		},
	}
}
