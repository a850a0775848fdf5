package pdfrenderer

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements PDF rendering using go-fitz (requires MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// Name implements Renderer
func (r *FitzRenderer) Name() string {
	return BackendFitz
}

// PageCount implements Renderer
func (r *FitzRenderer) PageCount(filename string) (int, error) {
	doc, err := fitz.New(filename)
	if err != nil {
		return 0, fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// RenderPages converts all pages of a PDF file to images using go-fitz
func (r *FitzRenderer) RenderPages(ctx context.Context, filename string, dpi int, fn PageFunc) error {
	// Open PDF document using go-fitz
	doc, err := fitz.New(filename)
	if err != nil {
		return fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	Logger.Debug("Rendering PDF with fitz", "file", filename, "pages", numPages, "dpi", dpi)

	for pageNum := 0; pageNum < numPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(pageNum, float64(dpi))
		if err != nil {
			return fmt.Errorf("unable to render page %d: %w", pageNum, err)
		}
		if err := fn(pageNum, img); err != nil {
			return err
		}
	}

	return nil
}

// Close cleans up resources (no-op for Fitz renderer as doc is closed per-render)
func (r *FitzRenderer) Close() error {
	return nil
}
