// Package render composites substituted text fields onto a template's
// base image and encodes the result as PNG.
package render

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"slices"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/colornames"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/shineum/certmail-lite/internal/fonts"
	"github.com/shineum/certmail-lite/internal/template"
)

// Renderer kinds accepted by New.
const (
	KindCanvas   = "canvas"
	KindSnapshot = "snapshot"
)

// Background box padding in pixels.
const (
	padX = 4
	padY = 2
)

// Renderer rasterizes substituted fields over a base image.
type Renderer interface {
	Render(base []byte, fields []template.Field, width, height int) ([]byte, error)
}

// RenderError reports a render failure for one row: an undecodable base
// image, a bad canvas size or an unusable field style.
type RenderError struct {
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render: %s: %v", e.Reason, e.Err)
	}
	return "render: " + e.Reason
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// layout positions one field's text and background box.
type layout func(f template.Field, m font.Metrics, advance fixed.Int26_6) (dot fixed.Point26_6, box image.Rectangle)

// Compositor is the Renderer implementation. The layout decides how a
// field's (x, y) maps to the text baseline and background box.
type Compositor struct {
	kind   string
	fonts  *fonts.Registry
	layout layout
}

// New returns the compositor for kind ("canvas" or "snapshot"; "" means
// canvas) drawing with the fonts of reg.
func New(kind string, reg *fonts.Registry) (*Compositor, error) {
	if reg == nil {
		return nil, errors.New("render: font registry is required")
	}
	switch strings.ToLower(kind) {
	case "", KindCanvas:
		return &Compositor{kind: KindCanvas, fonts: reg, layout: canvasLayout}, nil
	case KindSnapshot:
		return &Compositor{kind: KindSnapshot, fonts: reg, layout: snapshotLayout}, nil
	default:
		return nil, fmt.Errorf("render: unknown renderer %q", kind)
	}
}

// Kind returns the layout name.
func (c *Compositor) Kind() string {
	return c.kind
}

// Fonts returns the registry the compositor draws with.
func (c *Compositor) Fonts() *fonts.Registry {
	return c.fonts
}

// ForTemplate returns a renderer that also knows the fonts shipped with
// t. A regular face replaces the family; bold and italic faces are added
// to it. The receiver's registry is not modified.
func (c *Compositor) ForTemplate(t *template.Template) (Renderer, error) {
	if len(t.Fonts) == 0 {
		return c, nil
	}
	faces := slices.Clone(t.Fonts)
	slices.SortStableFunc(faces, func(a, b template.Font) int {
		return cmp.Compare(fonts.VariantOf(a.Weight, a.Style), fonts.VariantOf(b.Weight, b.Style))
	})

	reg := c.fonts.Clone()
	for _, f := range faces {
		var err error
		if v := fonts.VariantOf(f.Weight, f.Style); v == fonts.Regular {
			err = reg.Register(f.Family, f.Data)
		} else {
			err = reg.RegisterVariant(f.Family, v, f.Data)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: font %s: %v", template.ErrInvalidTemplate, f.Family, err)
		}
	}
	return &Compositor{kind: c.kind, fonts: reg, layout: c.layout}, nil
}

// Render draws base scaled to width x height, then each field in order,
// and returns the PNG encoding. Identical inputs give identical bytes.
func (c *Compositor) Render(base []byte, fields []template.Field, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, &RenderError{Reason: fmt.Sprintf("invalid canvas size %dx%d", width, height)}
	}

	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, &RenderError{Reason: "cannot decode base image", Err: err}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)

	for _, f := range fields {
		if err := c.drawField(dst, f); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, &RenderError{Reason: "cannot encode png", Err: err}
	}
	return buf.Bytes(), nil
}

func (c *Compositor) drawField(dst *image.RGBA, f template.Field) error {
	fg, err := ParseColor(cmp.Or(f.Color, "black"))
	if err != nil {
		return &RenderError{Reason: fmt.Sprintf("field %d color", f.ID), Err: err}
	}
	bg, err := ParseColor(f.BackgroundColor)
	if err != nil {
		return &RenderError{Reason: fmt.Sprintf("field %d background", f.ID), Err: err}
	}
	if f.FontSize <= 0 {
		return &RenderError{Reason: fmt.Sprintf("field %d font size %v", f.ID, f.FontSize)}
	}

	face, err := c.fonts.Face(f.FontFamily, fonts.VariantOf(f.FontWeight, f.FontStyle), f.FontSize)
	if err != nil {
		return &RenderError{Reason: fmt.Sprintf("field %d font", f.ID), Err: err}
	}
	defer face.Close()

	d := &font.Drawer{Dst: dst, Face: face}
	dot, box := c.layout(f, face.Metrics(), d.MeasureString(f.Column))

	if bg != nil {
		draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Over)
	}
	if fg != nil {
		d.Src = image.NewUniform(fg)
		d.Dot = dot
		d.DrawString(f.Column)
	}
	return nil
}

// canvasLayout puts the baseline at (x, y) and the background box from
// (x - 4, y - fontSize) spanning the text width plus padding.
func canvasLayout(f template.Field, _ font.Metrics, advance fixed.Int26_6) (fixed.Point26_6, image.Rectangle) {
	dot := fixed.Point26_6{X: toFixed(f.X), Y: toFixed(f.Y)}
	w := float64(advance) / 64
	box := rect(f.X-padX, f.Y-f.FontSize, w+2*padX, f.FontSize+2*padY)
	return dot, box
}

// snapshotLayout treats (x, y) as the top-left of a padded box around
// the text, like the editor's preview element.
func snapshotLayout(f template.Field, m font.Metrics, advance fixed.Int26_6) (fixed.Point26_6, image.Rectangle) {
	ascent := float64(m.Ascent) / 64
	descent := float64(m.Descent) / 64
	w := float64(advance) / 64
	dot := fixed.Point26_6{X: toFixed(f.X + padX), Y: toFixed(f.Y + padY + ascent)}
	box := rect(f.X, f.Y, w+2*padX, ascent+descent+2*padY)
	return dot, box
}

func rect(x, y, w, h float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(x)), int(math.Floor(y)),
		int(math.Ceil(x+w)), int(math.Ceil(y+h)),
	)
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}

// ParseColor accepts "transparent" (returns nil), CSS color names and
// #rgb / #rrggbb hex values.
func ParseColor(s string) (color.Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == template.Transparent:
		return nil, nil
	case strings.HasPrefix(s, "#"):
		c, err := colorful.Hex(s)
		if err != nil {
			return nil, fmt.Errorf("bad hex color %q: %w", s, err)
		}
		r, g, b := c.Clamped().RGB255()
		return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
	}
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown color %q", s)
}
