// Package source turns the ways a caller can hand over a statement (raw
// bytes, base64 text, an http(s) URL or a gs:// URI) into validated PDF bytes.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/gcs"
)

// magicWindow is how far into the payload the %PDF- header may appear.
const magicWindow = 1024

var pdfMagic = []byte("%PDF-")

// FromBytes validates that b looks like a PDF document.
func FromBytes(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("FromBytes: %w: empty payload", domain.ErrInvalidDocument)
	}
	head := b
	if len(head) > magicWindow {
		head = head[:magicWindow]
	}
	if !bytes.Contains(head, pdfMagic) {
		return nil, fmt.Errorf("FromBytes: %w: missing %%PDF- signature", domain.ErrInvalidDocument)
	}
	return b, nil
}

// FromBase64 decodes a base64 payload, optionally prefixed with a data URI
// header, and validates the decoded bytes.
func FromBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	decoded, err := decodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("FromBase64: %w: %v", domain.ErrInvalidDocument, err)
	}
	return FromBytes(decoded)
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Fetcher downloads statements from remote locations.
type Fetcher struct {
	client   *http.Client
	storage  gcs.StorageService
	maxBytes int64
}

// NewFetcher creates a Fetcher. storage may be nil, in which case gs:// URIs
// are rejected.
func NewFetcher(client *http.Client, storage gcs.StorageService, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &Fetcher{client: client, storage: storage, maxBytes: maxBytes}
}

// Fetch downloads the document at rawURL. Transport failures, timeouts and
// non-2xx responses wrap domain.ErrDownloadFailed; a payload that is not a PDF
// wraps domain.ErrInvalidDocument.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w: invalid URL: %v", domain.ErrDownloadFailed, err)
	}

	var data []byte
	switch u.Scheme {
	case "http", "https":
		data, err = f.fetchHTTP(ctx, u.String())
	case "gs":
		if f.storage == nil {
			return nil, fmt.Errorf("Fetch: %w: cloud storage is not configured", domain.ErrDownloadFailed)
		}
		data, err = f.storage.FetchFromGCS(ctx, u.String())
		if err != nil {
			err = fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
		}
	default:
		return nil, fmt.Errorf("Fetch: %w: unsupported scheme %q", domain.ErrDownloadFailed, u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	return FromBytes(data)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", domain.ErrDownloadFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %s", domain.ErrDownloadFailed, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrDownloadFailed, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: document larger than %d bytes", domain.ErrInvalidDocument, f.maxBytes)
	}
	return data, nil
}

// IsTimeout reports whether err came from a deadline being exceeded.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
