package slides

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	defaultFontPt = 18
	minFontPx     = 6
	// charWidthRatio is the approximate advance of an average glyph relative to the font size
	charWidthRatio = 0.5
	lineSpacing    = 1.2

	// maxAspect bounds height/width of the output canvas
	maxAspect = 8
	// maxPictureScale is how far a picture box may exceed the canvas before it is drawn as a placeholder
	maxPictureScale = 4
	// maxMediaPixels caps the decoded size of one embedded picture
	maxMediaPixels = 40 << 20
	// maxCoord keeps scaled EMU coordinates well inside int range
	maxCoord = 1 << 24
)

var (
	outlineColor     = color.RGBA{R: 0xc8, G: 0xc8, B: 0xc8, A: 0xff}
	placeholderColor = color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	textColor        = color.RGBA{A: 0xff}
)

var (
	fontsOnce sync.Once
	fontsErr  error
	regular   *opentype.Font
	bold      *opentype.Font
)

func loadFonts() error {
	fontsOnce.Do(func() {
		regular, fontsErr = opentype.Parse(goregular.TTF)
		if fontsErr != nil {
			return
		}
		bold, fontsErr = opentype.Parse(gobold.TTF)
	})
	return fontsErr
}

// FallbackRenderer draws an approximation of a slide without a presentation suite:
// shape boxes, naively wrapped text and embedded pictures. It is not a general scene renderer.
// Font faces are cached per renderer and are not safe for concurrent use, use one renderer per job.
type FallbackRenderer struct {
	Width int // output width in pixels, height follows the slide aspect ratio

	faces map[faceKey]font.Face
}

type faceKey struct {
	px   int
	bold bool
}

// NewFallbackRenderer returns a renderer producing images width pixels wide
func NewFallbackRenderer(width int) *FallbackRenderer {
	if width <= 0 {
		width = 960
	}
	return &FallbackRenderer{Width: width, faces: make(map[faceKey]font.Face)}
}

func (r *FallbackRenderer) face(px int, isBold bool) (font.Face, error) {
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("unable to load fonts: %w", err)
	}
	key := faceKey{px: px, bold: isBold}
	if f, ok := r.faces[key]; ok {
		return f, nil
	}
	src := regular
	if isBold {
		src = bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    float64(px),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	r.faces[key] = f
	return f, nil
}

// Render draws one slide of deck
func (r *FallbackRenderer) Render(deck *Deck, slide *Slide) (*image.RGBA, error) {
	width := r.Width
	if deck.Width <= 0 || deck.Height <= 0 {
		return nil, fmt.Errorf("invalid slide size %dx%d", deck.Width, deck.Height)
	}
	aspect := float64(deck.Height) / float64(deck.Width)
	if aspect > maxAspect {
		return nil, fmt.Errorf("slide size %dx%d is too tall to draw", deck.Width, deck.Height)
	}
	height := int(float64(width) * aspect)
	if height <= 0 {
		height = 1
	}
	scale := float64(width) / float64(deck.Width)

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	if slide.Background != nil {
		bg = *slide.Background
	}
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	for _, shape := range slide.Shapes {
		box := image.Rect(
			scaleCoord(float64(shape.Box.X), scale),
			scaleCoord(float64(shape.Box.Y), scale),
			scaleCoord(float64(shape.Box.X)+float64(shape.Box.W), scale),
			scaleCoord(float64(shape.Box.Y)+float64(shape.Box.H), scale),
		)
		switch shape.Kind {
		case ShapePicture:
			r.drawPicture(canvas, box, shape)
		case ShapeFrame:
			fillRect(canvas, box, placeholderColor)
			strokeRect(canvas, box, outlineColor)
			if err := r.drawLabel(canvas, box, shape.Name, scale); err != nil {
				return nil, err
			}
		default:
			if shape.Fill != nil {
				fillRect(canvas, box, *shape.Fill)
			} else if shape.HasText() {
				strokeRect(canvas, box, outlineColor)
			}
			if err := r.drawText(canvas, box, shape.Paragraphs, scale); err != nil {
				return nil, err
			}
		}
	}
	return canvas, nil
}

func scaleCoord(emu, scale float64) int {
	v := emu * scale
	switch {
	case v > maxCoord:
		return maxCoord
	case v < -maxCoord:
		return -maxCoord
	}
	return int(v)
}

func (r *FallbackRenderer) drawPicture(canvas *image.RGBA, box image.Rectangle, shape Shape) {
	visible := box.Intersect(canvas.Bounds())
	if visible.Empty() {
		return
	}
	bounds := canvas.Bounds()
	if box.Dx() <= maxPictureScale*bounds.Dx() && box.Dy() <= maxPictureScale*bounds.Dy() {
		if img := decodeMedia(shape.Media); img != nil {
			scaled := imaging.Resize(img, box.Dx(), box.Dy(), imaging.Lanczos)
			draw.Draw(canvas, visible, scaled, visible.Min.Sub(box.Min), draw.Over)
			return
		}
	}
	// missing, undecodable (EMF, WMF, SVG) or oversized media
	fillRect(canvas, visible, placeholderColor)
	strokeRect(canvas, box, outlineColor)
}

// decodeMedia returns nil for pictures that cannot be decoded or would be too large once decoded
func decodeMedia(data []byte) image.Image {
	if len(data) == 0 {
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxMediaPixels {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}

// fontPx converts a point size on the slide into output pixels
func fontPx(sizePt, scale float64) int {
	if sizePt <= 0 {
		sizePt = defaultFontPt
	}
	px := int(sizePt * emuPerPoint * scale)
	if px < minFontPx {
		px = minFontPx
	}
	return px
}

func (r *FallbackRenderer) drawLabel(canvas *image.RGBA, box image.Rectangle, label string, scale float64) error {
	if strings.TrimSpace(label) == "" {
		return nil
	}
	return r.drawText(canvas, box, []Paragraph{{Text: "[" + label + "]", SizePt: 12, Align: "ctr"}}, scale)
}

func (r *FallbackRenderer) drawText(canvas *image.RGBA, box image.Rectangle, paragraphs []Paragraph, scale float64) error {
	if len(paragraphs) == 0 {
		return nil
	}
	pad := box.Dx() / 40
	inner := image.Rect(box.Min.X+pad, box.Min.Y+pad, box.Max.X-pad, box.Max.Y-pad)
	y := inner.Min.Y

	for _, p := range paragraphs {
		px := fontPx(p.SizePt, scale)
		if maxPx := canvas.Bounds().Dy(); px > maxPx {
			px = maxPx
		}
		lineHeight := int(float64(px) * lineSpacing)
		if strings.TrimSpace(p.Text) == "" {
			y += lineHeight
			continue
		}
		face, err := r.face(px, p.Bold)
		if err != nil {
			return err
		}
		col := textColor
		if p.Color != nil {
			col = *p.Color
		}
		src := &image.Uniform{C: col}

		for _, line := range WrapText(p.Text, LineCapacity(inner.Dx(), px)) {
			y += px
			if y > canvas.Bounds().Max.Y {
				return nil
			}
			x := inner.Min.X
			if p.Align == "ctr" || p.Align == "r" {
				w := font.MeasureString(face, line).Round()
				if p.Align == "ctr" {
					x += (inner.Dx() - w) / 2
				} else {
					x = inner.Max.X - w
				}
			}
			d := &font.Drawer{
				Dst:  canvas,
				Src:  src,
				Face: face,
				Dot:  fixed.P(x, y),
			}
			d.DrawString(line)
			y += lineHeight - px
		}
	}
	return nil
}

// LineCapacity is how many characters of a px sized font fit in width pixels,
// assuming every glyph is charWidthRatio of the font size wide.
func LineCapacity(width, px int) int {
	charWidth := float64(px) * charWidthRatio
	if charWidth <= 0 {
		return 1
	}
	capacity := int(float64(width) / charWidth)
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// WrapText greedily breaks text into lines of at most capacity characters.
// A word longer than capacity is kept whole on its own line.
func WrapText(text string, capacity int) []string {
	if capacity < 1 {
		capacity = 1
	}
	var lines []string
	var current []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		switch {
		case len(current) == 0:
			current = append(current, w...)
		case len(current)+1+len(w) <= capacity:
			current = append(current, ' ')
			current = append(current, w...)
		default:
			lines = append(lines, string(current))
			current = append([]rune{}, w...)
		}
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	return lines
}

func fillRect(canvas *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(canvas, r.Intersect(canvas.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Over)
}

func strokeRect(canvas *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(canvas.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		canvas.SetRGBA(x, r.Min.Y, c)
		canvas.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		canvas.SetRGBA(r.Min.X, y, c)
		canvas.SetRGBA(r.Max.X-1, y, c)
	}
}
