package pdfrenderer

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/ledongthuc/pdf"
)

// Info is what the structural parser learns about a document without rasterizing it
type Info struct {
	Pages int
}

// Inspect parses the cross reference table and page tree of a PDF.
// The parser panics on some malformed inputs, those are returned as errors.
func Inspect(filename string) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	file, reader, err := pdf.Open(filename)
	if err != nil {
		return Info{}, fmt.Errorf("unable to parse PDF: %w", err)
	}
	defer file.Close()

	info.Pages = reader.NumPage()
	if info.Pages <= 0 {
		return Info{}, fmt.Errorf("PDF has no pages")
	}
	return info, nil
}

// cloneRGBA copies img into a fresh Go owned buffer
func cloneRGBA(img image.Image) *image.RGBA {
	if img == nil {
		return nil
	}
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	return out
}
