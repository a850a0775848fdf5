package engine

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drummonds/elibrary/engine/imagecache"
	"github.com/drummonds/elibrary/engine/pdfrenderer"
	"github.com/drummonds/elibrary/internal/testdocs"
	"github.com/drummonds/elibrary/library"
)

// fakePDF renders every page as a small grey square without any PDF engine
type fakePDF struct {
	pages   int
	failAt  int // 1 based page that fails, 0 for none
	panicAt int
}

func (f *fakePDF) Name() string { return "fake" }

func (f *fakePDF) PageCount(filename string) (int, error) {
	if f.pages <= 0 {
		return 0, fmt.Errorf("not a PDF")
	}
	return f.pages, nil
}

func (f *fakePDF) RenderPages(ctx context.Context, filename string, dpi int, fn pdfrenderer.PageFunc) error {
	for i := 0; i < f.pages; i++ {
		if f.panicAt == i+1 {
			panic("renderer crashed")
		}
		if f.failAt == i+1 {
			return fmt.Errorf("unable to render page %d", i)
		}
		if err := fn(i, testdocs.Square(dpi/8, color.Gray{Y: 128})); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePDF) Close() error { return nil }

type presenterCall struct {
	method  string
	job     *RenderJob
	title   string
	message string
	pages   []imagecache.Page
}

// recordingPresenter keeps every call in order
type recordingPresenter struct {
	mu    sync.Mutex
	calls []presenterCall
}

func (p *recordingPresenter) add(c presenterCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *recordingPresenter) ShowLoading(job *RenderJob) {
	p.add(presenterCall{method: "loading", job: job})
}

func (p *recordingPresenter) ShowProgress(job *RenderJob, done, total int) {
	p.add(presenterCall{method: "progress", job: job, message: fmt.Sprintf("%d/%d", done, total)})
}

func (p *recordingPresenter) ShowImages(job *RenderJob, pages []imagecache.Page) {
	p.add(presenterCall{method: "images", job: job, pages: pages})
}

func (p *recordingPresenter) ShowError(job *RenderJob, title, message string) {
	p.add(presenterCall{method: "error", job: job, title: title, message: message})
}

func (p *recordingPresenter) methods(job *RenderJob) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if c.job == job && c.method != "progress" {
			out = append(out, c.method)
		}
	}
	return out
}

func (p *recordingPresenter) last() presenterCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type fixture struct {
	lib        *library.Library
	cache      *imagecache.Cache
	pdf        *fakePDF
	presenter  *recordingPresenter
	dispatcher *Dispatcher
	loc        library.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	cache, err := imagecache.New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	f := &fixture{
		lib:       library.New(base, nil),
		cache:     cache,
		pdf:       &fakePDF{pages: 3},
		presenter: &recordingPresenter{},
		loc:       library.Location{Grade: 11, Quarter: 1, Subject: "Earth Science", Week: 3},
	}
	converter := &Converter{PDF: f.pdf, Cache: cache, DPI: 144, SlideWidth: 320}
	f.dispatcher = NewDispatcher(f.lib, converter, f.presenter, nil)
	return f
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	return testdocs.WriteFile(t, f.loc.Dir(f.lib.Base), name, data)
}

func waitDelivered(t *testing.T, job *RenderJob) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("Job %s not delivered, state %s", job.ID, job.State())
	}
}

func TestDispatchPDF(t *testing.T) {
	f := newFixture(t)
	f.write(t, "lesson.pdf", testdocs.PDF(3))

	job, err := f.dispatcher.Select(f.loc, "lesson.pdf")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	waitDelivered(t, job)

	if job.State() != JobDelivered || job.Outcome() != JobSucceeded {
		t.Fatalf("Expected delivered success, got %s/%s (%v)", job.State(), job.Outcome(), job.Err())
	}
	pages := job.Pages()
	if len(pages) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(pages))
	}
	for i, p := range pages {
		if filepath.Base(p.Path) != fmt.Sprintf("page_%d.png", i+1) {
			t.Errorf("Unexpected image name %s", p.Path)
		}
		if _, err := os.Stat(p.Path); err != nil {
			t.Errorf("Image %s missing: %v", p.Path, err)
		}
	}
	if got := strings.Join(f.presenter.methods(job), ","); got != "loading,images" {
		t.Errorf("Expected loading then images, got %s", got)
	}
	if last := f.presenter.last(); len(last.pages) != 3 {
		t.Errorf("Presenter got %d pages", len(last.pages))
	}
}

func TestDispatchSlides(t *testing.T) {
	f := newFixture(t)
	f.write(t, "Lesson.PPTX", testdocs.PPTX([]testdocs.Slide{
		{Title: "Layers of the atmosphere", Body: "Troposphere, stratosphere, mesosphere"},
		{Title: "Quiz", Picture: true},
	}))

	job, err := f.dispatcher.Select(f.loc, "Lesson.PPTX")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if job.Kind != KindSlideDeck {
		t.Errorf("Expected slide deck, got %s", job.Kind)
	}
	waitDelivered(t, job)

	pages := job.Pages()
	if len(pages) != 2 {
		t.Fatalf("Expected one image per slide, got %d (%v)", len(pages), job.Err())
	}
	for i, p := range pages {
		if filepath.Base(p.Path) != fmt.Sprintf("slide_%d.png", i+1) {
			t.Errorf("Unexpected image name %s", p.Path)
		}
		if p.Width != 320 || p.Height != 240 {
			t.Errorf("Expected 320x240 slide, got %dx%d", p.Width, p.Height)
		}
	}
}

func TestDispatchMissingFile(t *testing.T) {
	f := newFixture(t)

	job, err := f.dispatcher.Select(f.loc, "absent.pdf")
	if !errors.Is(err, library.ErrFileNotFound) {
		t.Fatalf("Expected ErrFileNotFound, got %v", err)
	}
	if job != nil {
		t.Error("No job should be started for a missing file")
	}
	f.dispatcher.Wait()

	last := f.presenter.last()
	if last.method != "error" || last.job != nil || last.title != ErrorTitle {
		t.Fatalf("Expected a job-less error, got %+v", last)
	}
	want := "File not found: " + filepath.Join(f.loc.Dir(f.lib.Base), "absent.pdf")
	if last.message != want {
		t.Errorf("Expected %q, got %q", want, last.message)
	}
	entries, _ := os.ReadDir(f.cache.Root)
	if len(entries) != 0 {
		t.Errorf("Expected empty cache, found %d entries", len(entries))
	}
}

func TestDispatchUnsupportedFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "notes.docx", []byte("word"))

	_, err := f.dispatcher.Submit(path)
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Expected FormatError, got %v", err)
	}
	if formatErr.Ext != ".docx" {
		t.Errorf("Unexpected extension %q", formatErr.Ext)
	}
}

func TestDispatchCorruptFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    []byte
		pdf     *fakePDF
		message string
	}{
		{"CorruptPDF", "broken.pdf", []byte("%PDF-1.4 truncated"), &fakePDF{}, "Failed to convert PDF: "},
		{"CorruptPPTX", "broken.pptx", []byte("not a zip"), &fakePDF{pages: 1}, "Failed to convert PPTX: "},
		{"PageFailure", "three.pdf", testdocs.PDF(3), &fakePDF{pages: 3, failAt: 2}, "Failed to convert PDF: "},
		{"SlideSizeOutOfRange", "wide.pptx", testdocs.RewritePart(testdocs.PPTX([]testdocs.Slide{{Title: "Wide"}}), "ppt/presentation.xml",
			func(s string) string { return strings.Replace(s, `cx="9144000"`, `cx="1828800000"`, 1) }),
			&fakePDF{pages: 1}, "Failed to convert PPTX: slide size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.dispatcher.Converter.PDF = tt.pdf
			f.write(t, tt.file, tt.data)

			job, err := f.dispatcher.Select(f.loc, tt.file)
			if err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			waitDelivered(t, job)

			if job.Outcome() != JobFailed {
				t.Fatalf("Expected failure, got %s", job.Outcome())
			}
			if len(job.Pages()) != 0 {
				t.Error("A failed job must not carry images")
			}
			if got := strings.Join(f.presenter.methods(job), ","); got != "loading,error" {
				t.Errorf("Expected loading then error, got %s", got)
			}
			last := f.presenter.last()
			if !strings.HasPrefix(last.message, tt.message) {
				t.Errorf("Expected message starting %q, got %q", tt.message, last.message)
			}
			if _, err := os.Stat(f.cache.Dir(job.ID.String())); !os.IsNotExist(err) {
				t.Error("Partial output should have been removed")
			}
		})
	}
}

func TestDispatchOversizedPicture(t *testing.T) {
	f := newFixture(t)
	f.write(t, "poster.pptx", testdocs.RewritePart(testdocs.PPTX([]testdocs.Slide{{Title: "Poster", Picture: true}}), "ppt/slides/slide1.xml",
		func(s string) string {
			return strings.Replace(s, `<a:ext cx="1828800" cy="1828800"/>`, `<a:ext cx="1828800000" cy="1828800000"/>`, 1)
		}))

	job, err := f.dispatcher.Select(f.loc, "poster.pptx")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	waitDelivered(t, job)

	if job.Outcome() != JobSucceeded {
		t.Fatalf("Expected success, got %s (%v)", job.Outcome(), job.Err())
	}
	if pages := job.Pages(); len(pages) != 1 || pages[0].Width != 320 {
		t.Errorf("Expected one 320 pixel slide, got %+v", pages)
	}
}

func TestDispatchPanicIsFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Converter.PDF = &fakePDF{pages: 3, panicAt: 2}
	f.write(t, "crash.pdf", testdocs.PDF(3))

	job, err := f.dispatcher.Select(f.loc, "crash.pdf")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	waitDelivered(t, job)
	f.dispatcher.Wait()

	if job.Outcome() != JobFailed || job.State() != JobDelivered {
		t.Fatalf("Expected failed then delivered, got %s/%s", job.Outcome(), job.State())
	}
	if !strings.Contains(job.Err().Error(), "renderer crashed") {
		t.Errorf("Unexpected error %v", job.Err())
	}
	if _, err := os.Stat(f.cache.Dir(job.ID.String())); !os.IsNotExist(err) {
		t.Error("Partial output should have been removed")
	}
}

func TestDispatchConcurrentJobs(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.pdf", testdocs.PDF(3))
	f.write(t, "b.pdf", testdocs.PDF(3))

	var jobs []*RenderJob
	for i := 0; i < 4; i++ {
		name := "a.pdf"
		if i%2 == 1 {
			name = "b.pdf"
		}
		job, err := f.dispatcher.Select(f.loc, name)
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, job)
	}
	f.dispatcher.Wait()

	dirs := map[string]bool{}
	for _, job := range jobs {
		waitDelivered(t, job)
		pages := job.Pages()
		if len(pages) != 3 {
			t.Fatalf("Job %s: expected 3 pages, got %d (%v)", job.ID, len(pages), job.Err())
		}
		dir := filepath.Dir(pages[0].Path)
		if dirs[dir] {
			t.Errorf("Jobs share directory %s", dir)
		}
		dirs[dir] = true
		for _, p := range pages {
			if _, err := os.Stat(p.Path); err != nil {
				t.Errorf("Image %s missing", p.Path)
			}
		}
	}
}

func TestLoopDeliversInOrder(t *testing.T) {
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() { stopped <- loop.Run(ctx) }()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	cancel()
	if err := <-stopped; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("Position %d ran %d", i, v)
		}
	}
}

func TestDispatchThroughLoop(t *testing.T) {
	f := newFixture(t)
	loop := NewLoop()
	f.dispatcher.Poster = loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	f.write(t, "lesson.pdf", testdocs.PDF(3))
	job, err := f.dispatcher.Select(f.loc, "lesson.pdf")
	if err != nil {
		t.Fatal(err)
	}
	waitDelivered(t, job)
	if got := strings.Join(f.presenter.methods(job), ","); got != "loading,images" {
		t.Errorf("Expected loading then images, got %s", got)
	}
}

func TestJobTransitions(t *testing.T) {
	job := newRenderJob("x.pdf", KindPagedDocument)
	if err := job.transition(JobDelivered); err == nil {
		t.Error("Started job cannot be delivered")
	}
	if err := job.transition(JobRunning); err != nil {
		t.Fatal(err)
	}
	if err := job.finish(nil, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	if err := job.transition(JobSucceeded); err == nil {
		t.Error("Failed job cannot succeed")
	}
	if err := job.transition(JobDelivered); err != nil {
		t.Fatal(err)
	}
	select {
	case <-job.Done():
	default:
		t.Error("Done should be closed after delivery")
	}
	if err := job.transition(JobDelivered); err == nil {
		t.Error("Job cannot be delivered twice")
	}
}

func TestOpenDocument(t *testing.T) {
	dir := t.TempDir()

	t.Run("PDF", func(t *testing.T) {
		path := testdocs.WriteFile(t, dir, "five.pdf", testdocs.PDF(5))
		doc, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if doc.Kind != KindPagedDocument || doc.Pages != 5 {
			t.Errorf("Unexpected document %+v", doc)
		}
	})

	t.Run("RendererRescuesPDF", func(t *testing.T) {
		path := testdocs.WriteFile(t, dir, "odd.pdf", []byte("%PDF-1.7 odd"))
		doc, err := Open(path, &fakePDF{pages: 2})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if doc.Pages != 2 {
			t.Errorf("Expected 2 pages, got %d", doc.Pages)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "gone.pptx"), nil)
		if !errors.Is(err, library.ErrFileNotFound) {
			t.Errorf("Expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := testdocs.WriteFile(t, dir, "bad.pptx", []byte("garbage"))
		_, err := Open(path, nil)
		var openErr *OpenError
		if !errors.As(err, &openErr) || openErr.Kind != KindSlideDeck {
			t.Errorf("Expected OpenError for slide deck, got %v", err)
		}
	})

	t.Run("Format", func(t *testing.T) {
		for _, name := range []string{"a.txt", "noext", "deck.ppt"} {
			if _, err := DetectKind(name); err == nil {
				t.Errorf("Expected FormatError for %s", name)
			}
		}
		if k, _ := DetectKind("X.PdF"); k != KindPagedDocument {
			t.Error("Extension match must ignore case")
		}
	})
}

func TestFailureMessage(t *testing.T) {
	err := &OpenError{Path: "a.pdf", Kind: KindPagedDocument, Err: errors.New("bad xref")}
	if got := FailureMessage(KindPagedDocument, err); got != "Failed to convert PDF: bad xref" {
		t.Errorf("Unexpected message %q", got)
	}
	if got := FailureMessage(KindSlideDeck, errors.New("boom")); got != "Failed to convert PPTX: boom" {
		t.Errorf("Unexpected message %q", got)
	}
}
