package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Backend names accepted by NewRenderer
const (
	BackendPDFium = "pdfium"
	BackendFitz   = "fitz"
)

// PageFunc receives each rendered page in order, index is zero based.
// Returning an error stops rendering.
type PageFunc func(index int, img image.Image) error

// Renderer defines the interface for PDF to image conversion
type Renderer interface {
	// Name identifies the back-end in logs and the about endpoint
	Name() string

	// PageCount opens the document and returns its number of pages
	PageCount(filename string) (int, error)

	// RenderPages rasterizes every page at dpi and hands them to fn in page order.
	// A failure on any page aborts the whole document.
	RenderPages(ctx context.Context, filename string, dpi int, fn PageFunc) error

	// Close cleans up any resources used by the renderer
	Close() error
}

// NewRenderer creates the requested back-end, falling back to the other one
// when it cannot be initialised (no MuPDF library, WebAssembly failure).
func NewRenderer(backend string) (Renderer, error) {
	order := []string{BackendPDFium, BackendFitz}
	if strings.EqualFold(backend, BackendFitz) {
		order = []string{BackendFitz, BackendPDFium}
	}

	var errs []string
	for _, name := range order {
		r, err := newBackend(name)
		if err == nil {
			if name != order[0] {
				Logger.Warn("Preferred PDF renderer unavailable, using fallback", "preferred", order[0], "using", name)
			}
			return r, nil
		}
		Logger.Warn("PDF renderer failed to initialise", "backend", name, "error", err)
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}
	return nil, fmt.Errorf("no PDF renderer available (%s)", strings.Join(errs, "; "))
}

func newBackend(name string) (Renderer, error) {
	switch name {
	case BackendFitz:
		return NewFitzRenderer()
	case BackendPDFium:
		return NewPDFiumRenderer()
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}
