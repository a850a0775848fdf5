package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/drummonds/elibrary/config"
	"github.com/drummonds/elibrary/engine"
	"github.com/drummonds/elibrary/engine/imagecache"
)

type renderOpts struct {
	out        string
	zoom       float64
	maxWidth   int
	slideWidth int
	backend    string
	noNative   bool
}

func newRenderCmd() *cobra.Command {
	var opts renderOpts

	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render a slide deck or PDF into PNG pages",
		Long:  `Render converts every slide of a .pptx or every page of a .pdf into a PNG and prints the image paths in page order.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := renderConfig(cmd, &opts)
			return runRender(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output directory (default: RENDER_DIR or the system temp directory)")
	cmd.Flags().Float64Var(&opts.zoom, "zoom", 2.0, "PDF zoom factor, 1.0 is 72 DPI")
	cmd.Flags().IntVar(&opts.maxWidth, "width", 0, "maximum image width in pixels, 0 keeps the rendered width")
	cmd.Flags().IntVar(&opts.slideWidth, "slide-width", 960, "canvas width of fallback slide images")
	cmd.Flags().StringVar(&opts.backend, "backend", "pdfium", "PDF back-end: pdfium or fitz")
	cmd.Flags().BoolVar(&opts.noNative, "no-native", false, "skip the presentation suite and always use the fallback slide renderer")

	return cmd
}

// renderConfig starts from the environment and applies the flags the user set
func renderConfig(cmd *cobra.Command, opts *renderOpts) config.RenderConfig {
	cfg := config.LoadRenderConfig(config.Logger)
	flags := cmd.Flags()
	if flags.Changed("out") {
		if abs, err := filepath.Abs(opts.out); err == nil {
			cfg.RenderDir = abs
		} else {
			cfg.RenderDir = opts.out
		}
	}
	if flags.Changed("zoom") {
		cfg.Zoom = opts.zoom
	}
	if flags.Changed("width") {
		cfg.MaxWidth = opts.maxWidth
	}
	if flags.Changed("slide-width") {
		cfg.SlideWidth = opts.slideWidth
	}
	if flags.Changed("backend") {
		cfg.PDFBackend = opts.backend
	}
	if opts.noNative {
		cfg.NativeRender = false
		cfg.SofficePath = ""
	}
	return cfg
}

func runRender(ctx context.Context, out io.Writer, cfg config.RenderConfig, path string) error {
	logger := loggerFromContext(ctx)
	start := time.Now()

	converter, err := engine.NewConverter(cfg)
	if err != nil {
		return err
	}
	defer converter.Close()

	loop := engine.NewLoop()
	presenter := &consolePresenter{out: out, logger: logger}
	dispatcher := engine.NewDispatcher(nil, converter, presenter, loop)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	job, err := dispatcher.Submit(abs)
	if err != nil {
		// drain the queued error message
		cancel()
		loop.Run(loopCtx)
		return err
	}
	go func() {
		<-job.Done()
		cancel()
	}()
	if err := loop.Run(loopCtx); err != nil && ctx.Err() != nil {
		return err
	}
	dispatcher.Wait()

	if presenter.err != nil {
		return presenter.err
	}
	logger.Infof("Rendered %d %s images (%s)", presenter.count, job.Kind.Label(), elapsed(start))
	return nil
}

// consolePresenter prints image paths to out and everything else to the logger.
// It only runs on the loop goroutine.
type consolePresenter struct {
	out    io.Writer
	logger *charmlog.Logger
	count  int
	err    error
}

func (p *consolePresenter) ShowLoading(job *engine.RenderJob) {
	p.logger.Info("Rendering", "file", job.FileName(), "kind", job.Kind)
}

func (p *consolePresenter) ShowProgress(job *engine.RenderJob, done, total int) {
	p.logger.Debug("Progress", "file", job.FileName(), "done", done, "total", total)
}

func (p *consolePresenter) ShowImages(job *engine.RenderJob, pages []imagecache.Page) {
	for _, page := range pages {
		fmt.Fprintln(p.out, page.Path)
	}
	p.count = len(pages)
}

func (p *consolePresenter) ShowError(job *engine.RenderJob, title, message string) {
	p.logger.Error(title, "message", message)
	p.err = fmt.Errorf("%s", message)
}

// fileExists is used by list to mark missing folders
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
