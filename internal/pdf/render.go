package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"runtime"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// baseDPI is the PDF user-space resolution; a scale of 2 renders at 144 DPI.
const baseDPI = 72.0

// Renderer rasterizes every page of a document to PNG.
type Renderer interface {
	Render(ctx context.Context, data []byte) ([]domain.Page, error)
}

// FitzRenderer renders pages with MuPDF through go-fitz.
type FitzRenderer struct {
	scale   float64
	maxEdge int
}

// NewFitzRenderer creates a renderer. maxEdge caps the longest image side in
// pixels; zero disables the cap.
func NewFitzRenderer(scale float64, maxEdge int) *FitzRenderer {
	if scale <= 0 {
		scale = 2
	}
	return &FitzRenderer{scale: scale, maxEdge: maxEdge}
}

// Render returns pages in document order with Image set to PNG bytes.
// Rasterization is sequential (MuPDF documents are not safe for concurrent
// use); downscaling and PNG encoding run on a pool sized to GOMAXPROCS.
func (r *FitzRenderer) Render(ctx context.Context, data []byte) ([]domain.Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("Render: opening document: %w: %v", domain.ErrCorruptInput, err)
	}
	defer doc.Close()

	pages := make([]domain.Page, doc.NumPage())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range pages {
		if err := gctx.Err(); err != nil {
			break
		}
		img, err := doc.ImageDPI(i, baseDPI*r.scale)
		if err != nil {
			return nil, fmt.Errorf("Render: rasterizing page %d: %w", i+1, err)
		}

		g.Go(func() error {
			encoded, err := encodePNG(r.clamp(img))
			if err != nil {
				return fmt.Errorf("Render: encoding page %d: %w", i+1, err)
			}
			pages[i] = domain.Page{Index: i + 1, Image: encoded}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pages, nil
}

// clamp downsizes img so that its longest side does not exceed maxEdge.
func (r *FitzRenderer) clamp(img image.Image) image.Image {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if r.maxEdge <= 0 || longest <= r.maxEdge {
		return img
	}

	ratio := float64(r.maxEdge) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(b.Dx())*ratio), int(float64(b.Dy())*ratio)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
