package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/drummonds/elibrary/engine/imagecache"
	"github.com/drummonds/elibrary/engine/pdfrenderer"
	"github.com/drummonds/elibrary/engine/slides"
	"github.com/drummonds/elibrary/library"
)

// Kind is the type of a renderable file
type Kind string

const (
	KindSlideDeck     Kind = "slide-deck"
	KindPagedDocument Kind = "paged-document"
)

// Label is the short name used in user facing messages
func (k Kind) Label() string {
	switch k {
	case KindSlideDeck:
		return "PPTX"
	case KindPagedDocument:
		return "PDF"
	}
	return strings.ToUpper(string(k))
}

// Prefix is the cache file name prefix of the kind
func (k Kind) Prefix() string {
	if k == KindSlideDeck {
		return imagecache.PrefixSlide
	}
	return imagecache.PrefixPage
}

// FormatError is returned for a file whose extension is not renderable
type FormatError struct {
	Path string
	Ext  string
}

func (e *FormatError) Error() string {
	if e.Ext == "" {
		return fmt.Sprintf("unsupported file type: %s has no extension", filepath.Base(e.Path))
	}
	return fmt.Sprintf("unsupported file type %s", e.Ext)
}

// OpenError is returned when a file has the right extension but cannot be parsed
type OpenError struct {
	Path string
	Kind Kind
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("unable to open %s %s: %v", e.Kind.Label(), filepath.Base(e.Path), e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// PageError is a failure rendering one page or slide, Index is 1 based
type PageError struct {
	Index int
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Index, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// DetectKind maps a file extension, case-insensitively, onto a Kind
func DetectKind(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pptx":
		return KindSlideDeck, nil
	case ".pdf":
		return KindPagedDocument, nil
	}
	return "", &FormatError{Path: path, Ext: ext}
}

// Document is an opened file ready for rasterizing
type Document struct {
	Path  string
	Kind  Kind
	Pages int          // pages or slides
	Deck  *slides.Deck // set for slide decks
}

// Open checks the file exists and parses it with the library matching its kind.
// The PDF renderer is only consulted when the structural parser rejects a file.
func Open(path string, pdf pdfrenderer.Renderer) (*Document, error) {
	kind, err := DetectKind(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", library.ErrFileNotFound, path)
		}
		return nil, &OpenError{Path: path, Kind: kind, Err: err}
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", library.ErrFileNotFound, path)
	}

	doc := &Document{Path: path, Kind: kind}
	switch kind {
	case KindSlideDeck:
		deck, err := slides.Open(path)
		if err != nil {
			return nil, &OpenError{Path: path, Kind: kind, Err: err}
		}
		doc.Deck = deck
		doc.Pages = len(deck.Slides)
	case KindPagedDocument:
		pdfInfo, err := pdfrenderer.Inspect(path)
		if err == nil {
			doc.Pages = pdfInfo.Pages
			break
		}
		// some files the structural parser rejects still rasterize
		if pdf == nil {
			return nil, &OpenError{Path: path, Kind: kind, Err: err}
		}
		pages, rerr := pdf.PageCount(path)
		if rerr != nil || pages <= 0 {
			return nil, &OpenError{Path: path, Kind: kind, Err: err}
		}
		Logger.Debug("PDF parser rejected file, renderer accepted it", "path", path, "error", err)
		doc.Pages = pages
	}
	return doc, nil
}
