package engine

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/drummonds/elibrary/config"
	"github.com/drummonds/elibrary/engine/imagecache"
	"github.com/drummonds/elibrary/engine/pdfrenderer"
	"github.com/drummonds/elibrary/engine/slides"
)

// ProgressFunc is told how many of total pages are cached so far
type ProgressFunc func(done, total int)

// Converter turns one document into an ordered list of cached PNG pages
type Converter struct {
	PDF        pdfrenderer.Renderer
	Native     *slides.NativeConverter // nil or unavailable disables the high fidelity slide path
	Cache      *imagecache.Cache
	DPI        int // paged documents
	SlideWidth int // fallback slide images
}

// Convert opens path, rasterizes every page or slide in order and caches them under jobID.
// On any failure nothing is left in the cache, a partial result is never returned.
func (c *Converter) Convert(ctx context.Context, jobID, path string, progress ProgressFunc) (pages []imagecache.Page, err error) {
	if progress == nil {
		progress = func(int, int) {}
	}
	doc, err := Open(path, c.PDF)
	if err != nil {
		return nil, err
	}

	batch, err := c.Cache.NewBatch(jobID, doc.Kind.Prefix())
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			batch.Discard()
			panic(r)
		}
		if err != nil {
			batch.Discard()
		}
	}()

	progress(0, doc.Pages)
	switch doc.Kind {
	case KindPagedDocument:
		err = c.rasterizePDF(ctx, doc.Path, doc.Pages, batch, progress)
	case KindSlideDeck:
		err = c.rasterizeDeck(ctx, doc, batch, progress)
	default:
		err = &FormatError{Path: path}
	}
	if err != nil {
		return nil, err
	}

	pages = batch.Pages()
	if len(pages) == 0 {
		err = &OpenError{Path: path, Kind: doc.Kind, Err: fmt.Errorf("document has no pages")}
		return nil, err
	}
	Logger.Info("Rendered document", "path", path, "kind", doc.Kind, "pages", len(pages), "dir", batch.Dir())
	return pages, nil
}

func (c *Converter) rasterizePDF(ctx context.Context, path string, total int, batch *imagecache.Batch, progress ProgressFunc) error {
	if c.PDF == nil {
		return fmt.Errorf("no PDF renderer available")
	}
	return c.PDF.RenderPages(ctx, path, c.DPI, func(index int, img image.Image) error {
		if _, err := batch.Add(index+1, img); err != nil {
			return &PageError{Index: index + 1, Err: err}
		}
		progress(index+1, total)
		return nil
	})
}

func (c *Converter) rasterizeDeck(ctx context.Context, doc *Document, batch *imagecache.Batch, progress ProgressFunc) error {
	if c.Native.Available() && c.PDF != nil {
		err := c.rasterizeNative(ctx, doc, batch, progress)
		if err == nil {
			return nil
		}
		Logger.Warn("Native slide rendering failed, using fallback renderer", "path", doc.Path, "error", err)
		if err := batch.Reset(); err != nil {
			return err
		}
		progress(0, doc.Pages)
	}

	renderer := slides.NewFallbackRenderer(c.SlideWidth)
	for _, slide := range doc.Deck.Slides {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := renderer.Render(doc.Deck, slide)
		if err != nil {
			return &PageError{Index: slide.Index, Err: err}
		}
		if _, err := batch.Add(slide.Index, img); err != nil {
			return &PageError{Index: slide.Index, Err: err}
		}
		progress(slide.Index, doc.Pages)
	}
	return nil
}

// rasterizeNative exports the deck to PDF and renders that. The export must keep one page per slide.
func (c *Converter) rasterizeNative(ctx context.Context, doc *Document, batch *imagecache.Batch, progress ProgressFunc) error {
	scratch, err := os.MkdirTemp("", "elibrary-export-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	pdfPath, err := c.Native.ConvertToPDF(ctx, doc.Path, scratch)
	if err != nil {
		return err
	}
	count, err := c.PDF.PageCount(pdfPath)
	if err != nil {
		return err
	}
	if count != doc.Pages {
		return fmt.Errorf("export has %d pages for %d slides", count, doc.Pages)
	}
	return c.rasterizePDF(ctx, pdfPath, doc.Pages, batch, progress)
}

// NewConverter builds the pipeline for cfg: the PDF back-end, the native slide
// exporter when enabled and the image cache. Close releases the PDF back-end.
func NewConverter(cfg config.RenderConfig) (*Converter, error) {
	cache, err := imagecache.New(cfg.RenderDir, cfg.MaxWidth)
	if err != nil {
		return nil, err
	}
	pdf, err := pdfrenderer.NewRenderer(cfg.PDFBackend)
	if err != nil {
		return nil, err
	}
	converter := &Converter{
		PDF:        pdf,
		Cache:      cache,
		DPI:        cfg.DPI(),
		SlideWidth: cfg.SlideWidth,
	}
	if cfg.NativeRender && cfg.SofficePath != "" {
		converter.Native = slides.NewNativeConverter(cfg.SofficePath)
	}
	Logger.Info("Render pipeline ready",
		"pdfBackend", pdf.Name(),
		"native", converter.Native.Available(),
		"dpi", converter.DPI,
		"dir", cache.Root)
	return converter, nil
}

// Close releases the PDF back-end
func (c *Converter) Close() error {
	if c.PDF == nil {
		return nil
	}
	return c.PDF.Close()
}
