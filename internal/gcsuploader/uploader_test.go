package gcsuploader

import (
	"testing"
	"time"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://bucket/a/b/file.pdf", wantBucket: "bucket", wantObject: "a/b/file.pdf"},
		{uri: "gs://bucket/file.pdf", wantBucket: "bucket", wantObject: "file.pdf"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs://bucket/", wantErr: true},
		{uri: "https://bucket/file.pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	if got := ExtractFilenameFromGCSURI("gs://bucket/folder/file.pdf"); got != "file.pdf" {
		t.Errorf("got %q, want file.pdf", got)
	}
	if got := ExtractFilenameFromGCSURI("gs://bucket"); got != "bucket" {
		t.Errorf("got %q, want bucket", got)
	}
}

func TestArchiveObjectName(t *testing.T) {
	now := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)

	got := ArchiveObjectName("42", "job-1", "../../fatura.pdf", now)
	want := "statements/42/2024/03/07/job-1-fatura.pdf"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = ArchiveObjectName("", "job-2", "", now)
	want = "statements/anonymous/2024/03/07/job-2-statement.pdf"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
