package template

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"
)

// fallbackCanvas is the canvas edge used when neither the document nor
// the base image provides a size.
const fallbackCanvas = 500

// FontSource names a custom font file shipped with a template document.
// FontWeight and FontStyle select the variant the file provides; both
// default to normal.
type FontSource struct {
	Family     string `json:"family" yaml:"family"`
	File       string `json:"file" yaml:"file"`
	FontWeight string `json:"fontWeight,omitempty" yaml:"fontWeight,omitempty"`
	FontStyle  string `json:"fontStyle,omitempty" yaml:"fontStyle,omitempty"`
}

// FieldSource is the serialized form of a Field. Style attributes that
// are left out take the editor defaults; attributes that are present are
// kept as given, so an explicit fontSize of 0 fails validation.
type FieldSource struct {
	ID              int      `json:"id" yaml:"id"`
	Column          string   `json:"column" yaml:"column"`
	X               float64  `json:"x" yaml:"x"`
	Y               float64  `json:"y" yaml:"y"`
	Color           *string  `json:"color,omitempty" yaml:"color,omitempty"`
	BackgroundColor *string  `json:"backgroundColor,omitempty" yaml:"backgroundColor,omitempty"`
	FontSize        *float64 `json:"fontSize,omitempty" yaml:"fontSize,omitempty"`
	FontWeight      *string  `json:"fontWeight,omitempty" yaml:"fontWeight,omitempty"`
	FontStyle       *string  `json:"fontStyle,omitempty" yaml:"fontStyle,omitempty"`
	FontFamily      *string  `json:"fontFamily,omitempty" yaml:"fontFamily,omitempty"`
}

// Document is the serialized form of a template. Image and font files
// are paths relative to the document or data: URLs.
type Document struct {
	Image  string       `json:"image" yaml:"image"`
	Width  int          `json:"width,omitempty" yaml:"width,omitempty"`
	Height int          `json:"height,omitempty" yaml:"height,omitempty"`
	Fields []FieldSource `json:"fields" yaml:"fields"`
	Fonts  []FontSource `json:"fonts,omitempty" yaml:"fonts,omitempty"`
}

// LoadFile reads a YAML or JSON template document from path.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes a YAML or JSON template document. Relative file
// references are resolved against baseDir.
func Parse(data []byte, baseDir string) (*Template, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return doc.Resolve(baseDir)
}

// Resolve loads the referenced files, applies field defaults and
// validates the result. An empty baseDir only admits data: URLs.
func (d *Document) Resolve(baseDir string) (*Template, error) {
	if d.Image == "" {
		return nil, fmt.Errorf("%w: no base image", ErrInvalidTemplate)
	}
	img, err := readSource(d.Image, baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: image: %v", ErrInvalidTemplate, err)
	}

	fields, err := normalize(d.Fields)
	if err != nil {
		return nil, err
	}

	t := &Template{
		Image:  img,
		Width:  d.Width,
		Height: d.Height,
		Fields: fields,
	}
	if t.Width == 0 || t.Height == 0 {
		t.Width, t.Height = naturalSize(img, t.Width, t.Height)
	}
	if t.Width < 0 || t.Height < 0 {
		return nil, fmt.Errorf("%w: negative canvas size %dx%d", ErrInvalidTemplate, t.Width, t.Height)
	}

	for _, fs := range d.Fonts {
		if fs.Family == "" {
			return nil, fmt.Errorf("%w: font %q has no family", ErrInvalidTemplate, fs.File)
		}
		data, err := readSource(fs.File, baseDir)
		if err != nil {
			return nil, fmt.Errorf("%w: font %s: %v", ErrInvalidTemplate, fs.Family, err)
		}
		t.Fonts = append(t.Fonts, Font{
			Family: fs.Family,
			Weight: cmp.Or(strings.ToLower(fs.FontWeight), WeightNormal),
			Style:  cmp.Or(strings.ToLower(fs.FontStyle), StyleNormal),
			Data:   data,
		})
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// naturalSize fills the unset canvas edges from the image header. An
// image that cannot be decoded keeps the fallback size; rendering then
// reports it per row.
func naturalSize(img []byte, width, height int) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		cfg.Width, cfg.Height = fallbackCanvas, fallbackCanvas
	}
	if width == 0 {
		width = cfg.Width
	}
	if height == 0 {
		height = cfg.Height
	}
	return width, height
}

// readSource returns the bytes behind a data: URL or a file path.
func readSource(ref, baseDir string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		return DecodeDataURL(ref)
	}
	if baseDir == "" {
		return nil, errors.New("file references are not allowed here")
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return os.ReadFile(path)
}

// DecodeDataURL returns the payload of an RFC 2397 data: URL.
func DecodeDataURL(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("data URL has no payload")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("bad base64 payload: %w", err)
		}
		return data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("bad percent-encoded payload: %w", err)
	}
	return []byte(data), nil
}
