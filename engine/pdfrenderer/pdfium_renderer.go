package pdfrenderer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	// the single instance is not safe for concurrent use, render jobs run in parallel
	mu       sync.Mutex
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1, // Minimum idle workers
		MaxIdle:  1, // Maximum idle workers
		MaxTotal: 1, // Total worker limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	// Get a PDFium instance from the pool
	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// Name implements Renderer
func (r *PDFiumRenderer) Name() string {
	return BackendPDFium
}

// open reads and opens the document, the caller must hold r.mu and close the returned document
func (r *PDFiumRenderer) open(filename string) (*requests.FPDF_CloseDocument, int, error) {
	if r.instance == nil {
		return nil, 0, fmt.Errorf("PDFium renderer is closed")
	}

	pdfBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to read PDF file: %w", err)
	}

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("unable to open PDF document: %w", err)
	}
	closeReq := &requests.FPDF_CloseDocument{Document: doc.Document}

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		r.instance.FPDF_CloseDocument(closeReq)
		return nil, 0, fmt.Errorf("unable to get page count: %w", err)
	}

	return closeReq, pageCountResp.PageCount, nil
}

// PageCount implements Renderer
func (r *PDFiumRenderer) PageCount(filename string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	closeReq, numPages, err := r.open(filename)
	if err != nil {
		return 0, err
	}
	r.instance.FPDF_CloseDocument(closeReq)
	return numPages, nil
}

// RenderPages converts all pages of a PDF file to images using go-pdfium WebAssembly
func (r *PDFiumRenderer) RenderPages(ctx context.Context, filename string, dpi int, fn PageFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	closeReq, numPages, err := r.open(filename)
	if err != nil {
		return err
	}
	defer r.instance.FPDF_CloseDocument(closeReq)

	Logger.Debug("Rendering PDF with pdfium", "file", filename, "pages", numPages, "dpi", dpi)

	for pageIndex := 0; pageIndex < numPages; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageRender, err := r.instance.RenderPageInDPI(&requests.RenderPageInDPI{
			DPI: dpi,
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{
					Document: closeReq.Document,
					Index:    pageIndex,
				},
			},
		})
		if err != nil {
			return fmt.Errorf("unable to render page %d: %w", pageIndex, err)
		}

		// The result image lives in WebAssembly memory, copy it out before cleanup
		img := cloneRGBA(pageRender.Result.Image)
		pageRender.Cleanup()

		if err := fn(pageIndex, img); err != nil {
			return err
		}
	}

	return nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}
