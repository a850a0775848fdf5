// Package slides reads PowerPoint 2007+ decks and turns their slides into images.
package slides

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"image/color"
	"io"
	"path"
	"strconv"
	"strings"
)

// EMU per point, slide geometry in OOXML is measured in English Metric Units
const emuPerPoint = 12700

const relNamespace = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

// maxMediaSize caps how much of one embedded picture is read into memory
const maxMediaSize = 32 << 20

// slide dimensions PowerPoint accepts, 1 to 56 inches
const (
	minSlideEMU = 914400
	maxSlideEMU = 51206400
)

// Deck is a parsed presentation, geometry in EMU
type Deck struct {
	Width  int64
	Height int64
	Slides []*Slide
}

// Slide is one slide with its shapes in drawing order
type Slide struct {
	Index      int    // 1 based
	Part       string // zip part name, e.g. ppt/slides/slide3.xml
	Background *color.RGBA
	Shapes     []Shape
}

// ShapeKind tells the fallback renderer how to draw a shape
type ShapeKind int

const (
	ShapeBox ShapeKind = iota
	ShapePicture
	ShapeFrame
)

// Rect is an axis aligned box in EMU
type Rect struct {
	X, Y, W, H int64
}

// Shape is the subset of a DrawingML shape the fallback renderer understands
type Shape struct {
	Kind        ShapeKind
	Name        string
	Box         Rect
	Placeholder string // ph type for placeholders, "body" when untyped
	Fill        *color.RGBA
	Paragraphs  []Paragraph
	Media       []byte // picture bytes
	MediaName   string
}

// HasText reports whether any paragraph carries text
func (s Shape) HasText() bool {
	for _, p := range s.Paragraphs {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Paragraph is one line of text as authored, before wrapping
type Paragraph struct {
	Text   string
	SizePt float64 // 0 means inherit the default
	Bold   bool
	Align  string // l, ctr, r
	Color  *color.RGBA
}

// Text returns all slide text, one paragraph per line
func (s *Slide) Text() string {
	var lines []string
	for _, shape := range s.Shapes {
		for _, p := range shape.Paragraphs {
			if t := strings.TrimSpace(p.Text); t != "" {
				lines = append(lines, t)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// Open parses the deck at filename
func Open(filename string) (*Deck, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to open PPTX archive: %w", err)
	}
	defer zr.Close()
	return parse(&zr.Reader)
}

type pkg struct {
	files map[string]*zip.File
}

func parse(zr *zip.Reader) (*Deck, error) {
	p := &pkg{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		p.files[f.Name] = f
	}

	var pres xmlPresentation
	if err := p.decode("ppt/presentation.xml", &pres); err != nil {
		return nil, err
	}
	rels, err := p.rels("ppt/presentation.xml")
	if err != nil {
		return nil, err
	}

	deck := &Deck{Width: pres.SldSz.Cx, Height: pres.SldSz.Cy}
	switch {
	case deck.Width == 0 && deck.Height == 0:
		// PowerPoint's 4:3 default
		deck.Width, deck.Height = 9144000, 6858000
	case deck.Width < minSlideEMU || deck.Width > maxSlideEMU,
		deck.Height < minSlideEMU || deck.Height > maxSlideEMU:
		return nil, fmt.Errorf("slide size %dx%d EMU out of range", deck.Width, deck.Height)
	}

	for i, id := range pres.SldIDs {
		target, ok := rels[id.RID]
		if !ok {
			return nil, fmt.Errorf("slide %d: relationship %s not found", i+1, id.RID)
		}
		slide, err := p.slide(target, deck)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", i+1, err)
		}
		slide.Index = i + 1
		deck.Slides = append(deck.Slides, slide)
	}
	if len(deck.Slides) == 0 {
		return nil, fmt.Errorf("presentation has no slides")
	}
	return deck, nil
}

func (p *pkg) read(name string, limit int64) ([]byte, error) {
	f, ok := p.files[name]
	if !ok {
		return nil, fmt.Errorf("part %s missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open part %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read part %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("part %s larger than %d bytes", name, limit)
	}
	return data, nil
}

func (p *pkg) decode(name string, v any) error {
	data, err := p.read(name, maxMediaSize)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unable to parse %s: %w", name, err)
	}
	return nil
}

// rels maps relationship ids of part to resolved part names.
// A part without a rels file has no relationships.
func (p *pkg) rels(part string) (map[string]string, error) {
	relsName := path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
	out := map[string]string{}
	if _, ok := p.files[relsName]; !ok {
		return out, nil
	}
	var rels xmlRelationships
	if err := p.decode(relsName, &rels); err != nil {
		return nil, err
	}
	for _, r := range rels.Relationships {
		if strings.EqualFold(r.TargetMode, "External") {
			continue
		}
		target := r.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join(path.Dir(part), target)
		}
		out[r.ID] = target
	}
	return out, nil
}

func (p *pkg) slide(part string, deck *Deck) (*Slide, error) {
	var doc xmlSlide
	if err := p.decode(part, &doc); err != nil {
		return nil, err
	}
	rels, err := p.rels(part)
	if err != nil {
		return nil, err
	}

	slide := &Slide{Part: part}
	if doc.CSld.Bg != nil && doc.CSld.Bg.BgPr != nil {
		slide.Background = doc.CSld.Bg.BgPr.SolidFill.rgba()
	}

	b := &shapeBuilder{pkg: p, rels: rels, deck: deck}
	b.group(&doc.CSld.SpTree, identity)
	slide.Shapes = b.shapes
	return slide, nil
}

// transform maps child coordinates of a group onto slide coordinates
type transform struct {
	offX, offY     int64
	chOffX, chOffY int64
	sx, sy         float64
}

var identity = transform{sx: 1, sy: 1}

func (t transform) apply(r Rect) Rect {
	return Rect{
		X: t.offX + int64(float64(r.X-t.chOffX)*t.sx),
		Y: t.offY + int64(float64(r.Y-t.chOffY)*t.sy),
		W: int64(float64(r.W) * t.sx),
		H: int64(float64(r.H) * t.sy),
	}
}

func (t transform) child(x *xmlXfrm) transform {
	if x == nil || x.ChExt.Cx == 0 || x.ChExt.Cy == 0 {
		return t
	}
	local := transform{
		offX: x.Off.X, offY: x.Off.Y,
		chOffX: x.ChOff.X, chOffY: x.ChOff.Y,
		sx: float64(x.Ext.Cx) / float64(x.ChExt.Cx),
		sy: float64(x.Ext.Cy) / float64(x.ChExt.Cy),
	}
	// compose: child -> group -> parent
	return transform{
		offX: t.offX + int64(float64(local.offX-t.chOffX)*t.sx),
		offY: t.offY + int64(float64(local.offY-t.chOffY)*t.sy),
		chOffX: local.chOffX, chOffY: local.chOffY,
		sx: local.sx * t.sx, sy: local.sy * t.sy,
	}
}

type shapeBuilder struct {
	pkg    *pkg
	rels   map[string]string
	deck   *Deck
	shapes []Shape
}

func (b *shapeBuilder) group(g *xmlGroup, t transform) {
	for _, item := range g.Items {
		switch {
		case item.Shape != nil:
			b.shape(item.Shape, t)
		case item.Picture != nil:
			b.picture(item.Picture, t)
		case item.Frame != nil:
			b.frame(item.Frame, t)
		case item.Group != nil:
			b.group(item.Group, t.child(item.Group.GrpSpPr.Xfrm))
		}
	}
}

func (b *shapeBuilder) shape(sp *xmlShape, t transform) {
	shape := Shape{
		Kind: ShapeBox,
		Name: sp.NvSpPr.CNvPr.Name,
		Fill: sp.SpPr.SolidFill.rgba(),
	}
	if ph := sp.NvSpPr.NvPr.Ph; ph != nil {
		shape.Placeholder = ph.Type
		if shape.Placeholder == "" {
			shape.Placeholder = "body"
		}
	}
	if sp.SpPr.Xfrm != nil {
		shape.Box = t.apply(sp.SpPr.Xfrm.rect())
	} else {
		shape.Box = b.placeholderBox(shape.Placeholder)
	}
	if sp.TxBody != nil {
		shape.Paragraphs = sp.TxBody.paragraphs()
	}
	b.shapes = append(b.shapes, shape)
}

// placeholderBox approximates the layout inherited from the slide master
func (b *shapeBuilder) placeholderBox(ph string) Rect {
	w, h := b.deck.Width, b.deck.Height
	switch ph {
	case "title", "ctrTitle":
		return Rect{X: w / 20, Y: h / 20, W: w * 9 / 10, H: h / 6}
	case "subTitle":
		return Rect{X: w / 10, Y: h / 2, W: w * 8 / 10, H: h / 4}
	case "ftr", "dt", "sldNum":
		return Rect{X: w / 20, Y: h * 9 / 10, W: w * 9 / 10, H: h / 15}
	}
	return Rect{X: w / 20, Y: h / 4, W: w * 9 / 10, H: h * 2 / 3}
}

func (b *shapeBuilder) picture(pic *xmlPicture, t transform) {
	shape := Shape{
		Kind: ShapePicture,
		Name: pic.NvPicPr.CNvPr.Name,
	}
	if pic.SpPr.Xfrm != nil {
		shape.Box = t.apply(pic.SpPr.Xfrm.rect())
	} else {
		shape.Box = b.placeholderBox("pic")
	}
	if target, ok := b.rels[pic.BlipFill.Blip.Embed]; ok {
		shape.MediaName = target
		// unreadable media is drawn as a placeholder, it does not fail the slide
		if data, err := b.pkg.read(target, maxMediaSize); err == nil {
			shape.Media = data
		}
	}
	b.shapes = append(b.shapes, shape)
}

func (b *shapeBuilder) frame(f *xmlFrame, t transform) {
	b.shapes = append(b.shapes, Shape{
		Kind: ShapeFrame,
		Name: f.NvGraphicFramePr.CNvPr.Name,
		Box:  t.apply(f.Xfrm.rect()),
	})
}

// XML mapping. Tags omit namespaces so p:, a: and r: prefixes all match.

type xmlPresentation struct {
	SldIDs []struct {
		RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
	SldSz struct {
		Cx int64 `xml:"cx,attr"`
		Cy int64 `xml:"cy,attr"`
	} `xml:"sldSz"`
}

type xmlRelationships struct {
	Relationships []struct {
		ID         string `xml:"Id,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

type xmlSlide struct {
	CSld struct {
		Bg *struct {
			BgPr *struct {
				SolidFill *xmlSolidFill `xml:"solidFill"`
			} `xml:"bgPr"`
		} `xml:"bg"`
		SpTree xmlGroup `xml:"spTree"`
	} `xml:"cSld"`
}

type xmlCNvPr struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type xmlPoint struct {
	X int64 `xml:"x,attr"`
	Y int64 `xml:"y,attr"`
}

type xmlSize struct {
	Cx int64 `xml:"cx,attr"`
	Cy int64 `xml:"cy,attr"`
}

type xmlXfrm struct {
	Off   xmlPoint `xml:"off"`
	Ext   xmlSize  `xml:"ext"`
	ChOff xmlPoint `xml:"chOff"`
	ChExt xmlSize  `xml:"chExt"`
}

func (x *xmlXfrm) rect() Rect {
	return Rect{X: x.Off.X, Y: x.Off.Y, W: x.Ext.Cx, H: x.Ext.Cy}
}

type xmlSolidFill struct {
	SrgbClr *struct {
		Val string `xml:"val,attr"`
	} `xml:"srgbClr"`
	SchemeClr *struct {
		Val string `xml:"val,attr"`
	} `xml:"schemeClr"`
}

// schemeColors approximates the default Office theme
var schemeColors = map[string]string{
	"tx1": "000000", "dk1": "000000", "bg1": "FFFFFF", "lt1": "FFFFFF",
	"tx2": "44546A", "dk2": "44546A", "bg2": "E7E6E6", "lt2": "E7E6E6",
	"accent1": "4472C4", "accent2": "ED7D31", "accent3": "A5A5A5",
	"accent4": "FFC000", "accent5": "5B9BD5", "accent6": "70AD47",
}

func (f *xmlSolidFill) rgba() *color.RGBA {
	if f == nil {
		return nil
	}
	switch {
	case f.SrgbClr != nil:
		return parseHex(f.SrgbClr.Val)
	case f.SchemeClr != nil:
		if hex, ok := schemeColors[f.SchemeClr.Val]; ok {
			return parseHex(hex)
		}
	}
	return nil
}

func parseHex(s string) *color.RGBA {
	if len(s) != 6 {
		return nil
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil
	}
	return &color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

type xmlSpPr struct {
	Xfrm      *xmlXfrm      `xml:"xfrm"`
	SolidFill *xmlSolidFill `xml:"solidFill"`
}

type xmlShape struct {
	NvSpPr struct {
		CNvPr xmlCNvPr `xml:"cNvPr"`
		NvPr  struct {
			Ph *struct {
				Type string `xml:"type,attr"`
			} `xml:"ph"`
		} `xml:"nvPr"`
	} `xml:"nvSpPr"`
	SpPr   xmlSpPr    `xml:"spPr"`
	TxBody *xmlTxBody `xml:"txBody"`
}

type xmlRPr struct {
	Sz        int           `xml:"sz,attr"`
	B         string        `xml:"b,attr"`
	SolidFill *xmlSolidFill `xml:"solidFill"`
}

// xmlRun is an a:r, a:fld or a:br, told apart by XMLName
type xmlRun struct {
	XMLName xml.Name
	RPr     *xmlRPr `xml:"rPr"`
	T       string  `xml:"t"`
}

type xmlParagraph struct {
	PPr *struct {
		Algn string `xml:"algn,attr"`
	} `xml:"pPr"`
	EndParaRP *xmlRPr `xml:"endParaRPr"`
	// remaining children in document order
	Runs []xmlRun `xml:",any"`
}

type xmlTxBody struct {
	Paragraphs []xmlParagraph `xml:"p"`
}

func (tx *xmlTxBody) paragraphs() []Paragraph {
	out := make([]Paragraph, 0, len(tx.Paragraphs))
	for _, xp := range tx.Paragraphs {
		var p Paragraph
		var text strings.Builder
		for _, r := range xp.Runs {
			switch r.XMLName.Local {
			case "r", "fld":
				text.WriteString(r.T)
			case "br":
				text.WriteString(" ")
				continue
			default:
				continue
			}
			if r.RPr == nil {
				continue
			}
			if p.SizePt == 0 && r.RPr.Sz > 0 {
				p.SizePt = float64(r.RPr.Sz) / 100
			}
			if r.RPr.B == "1" || r.RPr.B == "true" {
				p.Bold = true
			}
			if p.Color == nil {
				p.Color = r.RPr.SolidFill.rgba()
			}
		}
		if p.SizePt == 0 && xp.EndParaRP != nil && xp.EndParaRP.Sz > 0 {
			p.SizePt = float64(xp.EndParaRP.Sz) / 100
		}
		if xp.PPr != nil {
			p.Align = xp.PPr.Algn
		}
		p.Text = text.String()
		out = append(out, p)
	}
	return out
}

type xmlPicture struct {
	NvPicPr struct {
		CNvPr xmlCNvPr `xml:"cNvPr"`
	} `xml:"nvPicPr"`
	BlipFill struct {
		Blip struct {
			Embed string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships embed,attr"`
		} `xml:"blip"`
	} `xml:"blipFill"`
	SpPr xmlSpPr `xml:"spPr"`
}

type xmlFrame struct {
	NvGraphicFramePr struct {
		CNvPr xmlCNvPr `xml:"cNvPr"`
	} `xml:"nvGraphicFramePr"`
	Xfrm xmlXfrm `xml:"xfrm"`
}

// xmlGroup keeps its children in document order, which is the drawing order
type xmlGroup struct {
	GrpSpPr struct {
		Xfrm *xmlXfrm `xml:"xfrm"`
	}
	Items []xmlGroupItem
}

type xmlGroupItem struct {
	Shape   *xmlShape
	Picture *xmlPicture
	Frame   *xmlFrame
	Group   *xmlGroup
}

// UnmarshalXML implements xml.Unmarshaler
func (g *xmlGroup) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	return g.decodeChildren(d)
}

// decodeChildren reads shapes until the enclosing element ends
func (g *xmlGroup) decodeChildren(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var item xmlGroupItem
			switch el.Name.Local {
			case "grpSpPr":
				var pr struct {
					Xfrm *xmlXfrm `xml:"xfrm"`
				}
				if err := d.DecodeElement(&pr, &el); err != nil {
					return err
				}
				g.GrpSpPr.Xfrm = pr.Xfrm
				continue
			case "AlternateContent":
				if err := g.decodeAlternate(d); err != nil {
					return err
				}
				continue
			case "sp":
				item.Shape = new(xmlShape)
				err = d.DecodeElement(item.Shape, &el)
			case "pic":
				item.Picture = new(xmlPicture)
				err = d.DecodeElement(item.Picture, &el)
			case "graphicFrame":
				item.Frame = new(xmlFrame)
				err = d.DecodeElement(item.Frame, &el)
			case "grpSp":
				item.Group = new(xmlGroup)
				err = d.DecodeElement(item.Group, &el)
			default:
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			g.Items = append(g.Items, item)
		case xml.EndElement:
			return nil
		}
	}
}

// decodeAlternate keeps the shapes of the first mc:Choice that has any,
// otherwise those of mc:Fallback
func (g *xmlGroup) decodeAlternate(d *xml.Decoder) error {
	taken := false
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if !taken && (el.Name.Local == "Choice" || el.Name.Local == "Fallback") {
				n := len(g.Items)
				if err := g.decodeChildren(d); err != nil {
					return err
				}
				taken = len(g.Items) > n
				continue
			}
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}
