package main

import (
	"fmt"
	"path/filepath"

	"github.com/dvloznov/statement-categorizer/internal/gcsuploader"
	"github.com/spf13/cobra"
)

func (c *cli) uploadCmd() *cobra.Command {
	var (
		bucketName string
		objectName string
		filePath   string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a statement to Cloud Storage for later processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if objectName == "" {
				objectName = filepath.Base(filePath)
			}

			storage, err := gcsuploader.NewGCSStorageService(ctx, c.cfg.GCP.CredentialsFile)
			if err != nil {
				return err
			}
			defer storage.Close()

			c.log.Info().
				Str("bucket", bucketName).
				Str("object", objectName).
				Str("file", filePath).
				Msg("Uploading file to GCS")

			if err := storage.UploadFile(ctx, bucketName, objectName, filePath); err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to gs://%s/%s\n", filePath, bucketName, objectName)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucketName, "bucket", "", "GCS bucket name")
	cmd.Flags().StringVar(&objectName, "object", "", "GCS object name (defaults to the file name)")
	cmd.Flags().StringVar(&filePath, "file", "", "path to the local PDF file")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
