package slides

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// desktopOS lists the platforms where a presentation suite can be installed
var desktopOS = map[string]bool{
	"windows": true,
	"darwin":  true,
	"linux":   true,
	"freebsd": true,
}

// IsDesktop reports whether goos is a desktop operating system
func IsDesktop(goos string) bool {
	return desktopOS[goos]
}

// NativeConverter exports decks to PDF with a headless presentation suite
// (LibreOffice soffice). The PDF is then rasterized like any paged document.
type NativeConverter struct {
	SofficePath string
	GOOS        string // defaults to runtime.GOOS
}

// NewNativeConverter returns a converter for the given binary, empty disables it
func NewNativeConverter(sofficePath string) *NativeConverter {
	return &NativeConverter{SofficePath: sofficePath, GOOS: runtime.GOOS}
}

// Available reports whether the high fidelity path can be attempted
func (n *NativeConverter) Available() bool {
	if n == nil || n.SofficePath == "" {
		return false
	}
	goos := n.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return IsDesktop(goos)
}

// ConvertToPDF writes a PDF export of deckPath into outDir and returns its path
func (n *NativeConverter) ConvertToPDF(ctx context.Context, deckPath, outDir string) (string, error) {
	if !n.Available() {
		return "", fmt.Errorf("native slide rendering unavailable")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("unable to create export directory: %w", err)
	}

	// a private profile per export lets concurrent jobs run side by side
	profileDir, err := os.MkdirTemp("", "elibrary-soffice-")
	if err != nil {
		return "", fmt.Errorf("unable to create office profile: %w", err)
	}
	defer os.RemoveAll(profileDir)
	profileURL := fileURL(profileDir)

	cmd := exec.CommandContext(ctx, n.SofficePath,
		"-env:UserInstallation="+profileURL,
		"--headless",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", outDir,
		deckPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("presentation export failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	pdfPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath))+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("presentation export produced no PDF: %s", strings.TrimSpace(string(output)))
	}
	return pdfPath, nil
}

// fileURL returns a file:// URL for an absolute path, file:///C:/... for Windows drive paths
func fileURL(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
