// Package pdf wraps the PDF libraries used to decrypt, read and rasterize
// statements.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Unlocker removes password protection from a document.
type Unlocker interface {
	Unlock(ctx context.Context, data []byte, password string) ([]byte, error)
}

// PDFCPUUnlocker decrypts documents with pdfcpu.
type PDFCPUUnlocker struct{}

// NewPDFCPUUnlocker creates a new PDFCPUUnlocker.
func NewPDFCPUUnlocker() *PDFCPUUnlocker {
	api.DisableConfigDir()
	return &PDFCPUUnlocker{}
}

// Unlock returns data unchanged when no password is given or the document is
// not encrypted. A wrong password yields domain.ErrInvalidCredentials and an
// unparseable file yields domain.ErrCorruptInput.
func (u *PDFCPUUnlocker) Unlock(ctx context.Context, data []byte, password string) (out []byte, err error) {
	if password == "" {
		return data, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("Unlock: %w: %v", domain.ErrCorruptInput, r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, classifyReadError("Unlock", err)
	}
	if pdfCtx.Encrypt == nil {
		return data, nil
	}

	var buf bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &buf, conf); err != nil {
		return nil, classifyReadError("Unlock", err)
	}
	return buf.Bytes(), nil
}

func classifyReadError(op string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "password") {
		return fmt.Errorf("%s: %w", op, domain.ErrInvalidCredentials)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrCorruptInput, err)
}
