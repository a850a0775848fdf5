package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckExecutables_ValidPath(t *testing.T) {
	tempDir := t.TempDir()
	validExe := filepath.Join(tempDir, "soffice")

	file, err := os.Create(validExe)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	file.Close()

	err = os.Chmod(validExe, 0755)
	if err != nil {
		t.Fatalf("Failed to chmod file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	err = checkExecutables(validExe, logger)
	if err != nil {
		t.Errorf("Expected no error with valid path, got: %v", err)
	}
}

func TestCheckExecutables_InvalidPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	invalidPath := "/nonexistent/path/to/soffice"
	err := checkExecutables(invalidPath, logger)
	if err == nil {
		t.Error("Expected error with invalid path, got nil")
	}
	t.Logf("Correctly returned error for invalid path: %v", err)
}

func TestCheckExecutables_Directory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := checkExecutables(t.TempDir(), logger); err == nil {
		t.Error("Expected error when path is a directory")
	}
}

func TestLoadRenderConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	renderDir := t.TempDir()

	t.Setenv("RENDER_DIR", renderDir)
	t.Setenv("RENDER_ZOOM", "1.5")
	t.Setenv("PDF_BACKEND", "FITZ")
	t.Setenv("NATIVE_RENDER", "false")
	t.Setenv("SLIDE_WIDTH", "")

	cfg := LoadRenderConfig(logger)

	if cfg.RenderDir != renderDir {
		t.Errorf("Expected render dir %s, got %s", renderDir, cfg.RenderDir)
	}
	if cfg.Zoom != 1.5 {
		t.Errorf("Expected zoom 1.5, got %v", cfg.Zoom)
	}
	if cfg.DPI() != 108 {
		t.Errorf("Expected 108 DPI, got %d", cfg.DPI())
	}
	if cfg.PDFBackend != "fitz" {
		t.Errorf("Expected fitz backend, got %s", cfg.PDFBackend)
	}
	if cfg.SofficePath != "" {
		t.Errorf("Native rendering disabled but soffice path set: %s", cfg.SofficePath)
	}
	if cfg.SlideWidth != 960 {
		t.Errorf("Expected default slide width 960, got %d", cfg.SlideWidth)
	}
}

func TestLoadRenderConfig_BadValuesFallBack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Setenv("RENDER_ZOOM", "-3")
	t.Setenv("PDF_BACKEND", "ghostscript")
	t.Setenv("NATIVE_RENDER", "false")

	cfg := LoadRenderConfig(logger)
	if cfg.Zoom != 2.0 {
		t.Errorf("Expected default zoom 2.0, got %v", cfg.Zoom)
	}
	if cfg.PDFBackend != "pdfium" {
		t.Errorf("Expected pdfium fallback, got %s", cfg.PDFBackend)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
