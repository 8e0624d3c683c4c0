package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract is a local VisionModel. It ignores the instruction and
// transcribes each image in order, joining pages with domain.PageMarker.
type Tesseract struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseract creates a Tesseract model for the given language codes
// (for example "por", "eng").
func NewTesseract(languages []string) *Tesseract {
	return &Tesseract{languages: languages, clientFactory: gosseract.NewClient}
}

// Transcribe implements VisionModel.
func (t *Tesseract) Transcribe(ctx context.Context, images [][]byte, _ string) (string, error) {
	texts := make([]string, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := t.recognize(img)
		if err != nil {
			return "", fmt.Errorf("Transcribe: image %d: %w", i+1, err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, domain.PageMarker), nil
}

func (t *Tesseract) recognize(img []byte) (string, error) {
	c := t.clientFactory()
	defer c.Close()

	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
