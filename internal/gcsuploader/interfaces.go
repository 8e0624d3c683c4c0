package gcsuploader

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/statement-categorizer/internal/gcs"
	"google.golang.org/api/option"
)

// StorageService aliases the shared storage interface.
type StorageService = gcs.StorageService

// GCSStorageService is the concrete implementation of StorageService
// that interacts with Google Cloud Storage. It holds one shared client.
type GCSStorageService struct {
	client *storage.Client
}

// NewGCSStorageService creates a storage service. An empty credentialsFile
// falls back to Application Default Credentials.
func NewGCSStorageService(ctx context.Context, credentialsFile string) (*GCSStorageService, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: creating client: %w", err)
	}
	return &GCSStorageService{client: client}, nil
}

// Close closes the underlying storage client.
func (s *GCSStorageService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// FetchFromGCS delegates to FetchFromGCSWithClient with the shared client.
func (s *GCSStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return FetchFromGCSWithClient(ctx, s.client, gcsURI)
}

// UploadBytes delegates to UploadBytesWithClient with the shared client.
func (s *GCSStorageService) UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) (string, error) {
	return UploadBytesWithClient(ctx, s.client, bucketName, objectName, contentType, data)
}

// UploadFile delegates to UploadFileWithClient with the shared client.
func (s *GCSStorageService) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return UploadFileWithClient(ctx, s.client, bucketName, objectName, filePath)
}

var _ StorageService = (*GCSStorageService)(nil)
