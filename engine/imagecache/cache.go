// Package imagecache writes rendered pages as PNG files, one directory per job.
package imagecache

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

var Logger = slog.Default()

// File name prefixes, the original page or slide number follows: page_3.png
const (
	PrefixPage  = "page"
	PrefixSlide = "slide"
)

// Page is one cached image
type Page struct {
	Index  int    `json:"index"` // 1 based position in the document
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Cache owns a root directory of render batches
type Cache struct {
	Root     string
	MaxWidth int // 0 keeps the rendered width
}

// New creates the cache root if needed
func New(root string, maxWidth int) (*Cache, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "elibrary-render")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("unable to create render cache %s: %w", root, err)
	}
	return &Cache{Root: root, MaxWidth: maxWidth}, nil
}

// Dir is where the batch for jobID lives
func (c *Cache) Dir(jobID string) string {
	return filepath.Join(c.Root, jobID)
}

// NewBatch starts an empty batch for jobID. Any earlier output for the same job is removed.
func (c *Cache) NewBatch(jobID, prefix string) (*Batch, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("invalid batch id %q", jobID)
	}
	b := &Batch{dir: c.Dir(jobID), prefix: prefix, maxWidth: c.MaxWidth}
	if err := b.Reset(); err != nil {
		return nil, err
	}
	return b, nil
}

// Batch collects the pages of one render
type Batch struct {
	dir      string
	prefix   string
	maxWidth int

	mu    sync.Mutex
	pages []Page
}

// Dir returns the directory the batch writes to
func (b *Batch) Dir() string {
	return b.dir
}

// PathFor is the file an index is written to
func (b *Batch) PathFor(index int) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_%d.png", b.prefix, index))
}

// Add encodes img as PNG under its index. The file appears atomically.
func (b *Batch) Add(index int, img image.Image) (Page, error) {
	if index < 1 {
		return Page{}, fmt.Errorf("page index %d out of range", index)
	}
	if b.maxWidth > 0 && img.Bounds().Dx() > b.maxWidth {
		img = imaging.Resize(img, b.maxWidth, 0, imaging.Lanczos)
	}

	path := b.PathFor(index)
	tmp, err := os.CreateTemp(b.dir, ".page-*.png")
	if err != nil {
		return Page{}, fmt.Errorf("unable to create image file: %w", err)
	}
	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Page{}, fmt.Errorf("unable to encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Page{}, fmt.Errorf("unable to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Page{}, fmt.Errorf("unable to store %s: %w", filepath.Base(path), err)
	}

	page := Page{Index: index, Path: path, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	b.mu.Lock()
	b.pages = append(b.pages, page)
	b.mu.Unlock()
	return page, nil
}

// Pages returns the stored pages in document order
func (b *Batch) Pages() []Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]Page(nil), b.pages...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset empties the batch directory so no stale page survives into a new result
func (b *Batch) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("unable to clear %s: %w", b.dir, err)
	}
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("unable to create %s: %w", b.dir, err)
	}
	b.pages = nil
	return nil
}

// Discard removes everything the batch wrote
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.RemoveAll(b.dir); err != nil {
		Logger.Warn("Unable to remove render batch", "dir", b.dir, "error", err)
	}
	b.pages = nil
}

// Sweep deletes batch directories not modified for olderThan and returns how many went
func (c *Cache) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("unable to read render cache: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		dir := filepath.Join(c.Root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			Logger.Warn("Unable to sweep render batch", "dir", dir, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		Logger.Info("Swept render cache", "removed", removed, "root", c.Root)
	}
	return removed, nil
}
