package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/app"
	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/export"
	"github.com/dvloznov/statement-categorizer/internal/gcsuploader"
	"github.com/dvloznov/statement-categorizer/internal/pipeline"
	"github.com/dvloznov/statement-categorizer/internal/source"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (c *cli) processCmd() *cobra.Command {
	var (
		password string
		userID   string
		xlsxPath string
	)

	cmd := &cobra.Command{
		Use:   "process <file|url>",
		Short: "Process a statement and print the categorized result as JSON",
		Example: `  statement process extrato.pdf --user 42
  statement process https://files.example.com/fatura.pdf --password 1234 --xlsx fatura.xlsx
  statement process gs://my-bucket/statements/extrato.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			job, err := jobFromArg(args[0])
			if err != nil {
				return err
			}
			job.UserID = strings.TrimSpace(userID)
			job.Document.Password = password

			a, err := app.Build(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Pipeline.Process(ctx, job)
			if err != nil {
				return fmt.Errorf("processing %s: %w", args[0], err)
			}
			if err := a.Pipeline.Wait(ctx); err != nil {
				c.log.Warn().Err(err).Msg("override writes did not finish")
			}

			if xlsxPath != "" {
				if err := writeXLSX(xlsxPath, result); err != nil {
					return err
				}
				c.log.Info().Str("path", xlsxPath).Msg("spreadsheet written")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("writing result: %w", err)
			}

			if !result.Success && !pipeline.IsBenignEmpty(result) {
				return fmt.Errorf("categorization failed: %s", result.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password of an encrypted PDF")
	cmd.Flags().StringVar(&userID, "user", "", "user ID for personalized categories")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the result to this .xlsx file")
	return cmd
}

// jobFromArg builds a job from a local path or a remote URL.
func jobFromArg(arg string) (pipeline.Job, error) {
	job := pipeline.Job{ID: uuid.NewString()}

	if isRemote(arg) {
		job.DocumentURL = arg
		if strings.HasPrefix(arg, "gs://") {
			job.Document.Filename = gcsuploader.ExtractFilenameFromGCSURI(arg)
		}
		return job, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return job, fmt.Errorf("reading %s: %w", arg, err)
	}
	data, err = source.FromBytes(data)
	if err != nil {
		return job, fmt.Errorf("%s: %w", arg, err)
	}
	job.Document = domain.RawDocument{Bytes: data, Filename: filepath.Base(arg)}
	return job, nil
}

func isRemote(arg string) bool {
	for _, prefix := range []string{"http://", "https://", "gs://"} {
		if strings.HasPrefix(arg, prefix) {
			return true
		}
	}
	return false
}

func writeXLSX(path string, result domain.DocumentResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	return export.WriteXLSX(f, result)
}
