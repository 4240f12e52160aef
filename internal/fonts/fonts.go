// Package fonts is the explicit font registry handed to the renderer.
// It maps a family name to up to four parsed variants.
package fonts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// DefaultFamily is used for fields naming an unknown family.
const DefaultFamily = "Arial"

// Variant indexes the four faces of a family.
type Variant int

const (
	Regular Variant = iota
	Bold
	Italic
	BoldItalic
)

// VariantOf maps CSS-like weight and style names to a Variant.
func VariantOf(weight, style string) Variant {
	bold := strings.EqualFold(weight, "bold")
	italic := strings.EqualFold(style, "italic")
	switch {
	case bold && italic:
		return BoldItalic
	case bold:
		return Bold
	case italic:
		return Italic
	default:
		return Regular
	}
}

type family [4]*opentype.Font

// Registry holds parsed fonts by family. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
}

var builtins = sync.OnceValues(func() (map[string]*family, error) {
	parse := func(srcs ...[]byte) (*family, error) {
		var f family
		for i, src := range srcs {
			parsed, err := opentype.Parse(src)
			if err != nil {
				return nil, err
			}
			f[i] = parsed
		}
		return &f, nil
	}

	sans, err := parse(goregular.TTF, gobold.TTF, goitalic.TTF, gobolditalic.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Go sans: %w", err)
	}
	mono, err := parse(gomono.TTF, gomonobold.TTF, gomonoitalic.TTF, gomonobolditalic.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Go mono: %w", err)
	}

	return map[string]*family{
		key(DefaultFamily):    sans,
		key("Times New Roman"): sans,
		key("Courier New"):     mono,
	}, nil
})

// NewRegistry returns a registry preloaded with the built-in families
// Arial, Times New Roman and Courier New, all backed by the Go fonts.
// Each family is copied, so registering a variant never reaches another
// registry or another family sharing the same faces.
func NewRegistry() (*Registry, error) {
	b, err := builtins()
	if err != nil {
		return nil, err
	}
	r := &Registry{families: make(map[string]*family, len(b))}
	for k, f := range b {
		cp := *f
		r.families[k] = &cp
	}
	return r, nil
}

// Clone returns an independent registry with the same families, so
// per-template fonts can be added without touching the original.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{families: make(map[string]*family, len(r.families))}
	for k, f := range r.families {
		cp := *f
		c.families[k] = &cp
	}
	return c
}

// Register parses a TTF/OTF file and registers it as the regular face of
// family, replacing any previous registration of that family.
func (r *Registry) Register(name string, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse font %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[key(name)] = &family{Regular: f}
	return nil
}

// RegisterVariant parses data as one variant of an existing or new
// family. The family's other variants are kept.
func (r *Registry) RegisterVariant(name string, v Variant, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse font %q: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fam, ok := r.families[key(name)]
	if !ok {
		fam = &family{}
		r.families[key(name)] = fam
	}
	fam[v] = f
	return nil
}

// LoadDir registers every .ttf and .otf file in dir under its base name.
// It returns the registered family names.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read fonts dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return names, fmt.Errorf("failed to read font: %w", err)
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if err := r.Register(name, data); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Has reports whether family is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.families[key(name)]
	return ok
}

// Face returns a new face for the given family, variant and pixel size.
// A missing variant falls back to the family's regular face and an
// unknown family to DefaultFamily. Faces are not safe for concurrent
// use; callers close them when done.
func (r *Registry) Face(name string, v Variant, size float64) (font.Face, error) {
	f := r.lookup(name, v)
	if f == nil {
		return nil, fmt.Errorf("no font available for family %q", name)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face: %w", err)
	}
	return face, nil
}

func (r *Registry) lookup(name string, v Variant) *opentype.Font {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range []string{key(name), key(DefaultFamily)} {
		fam, ok := r.families[k]
		if !ok {
			continue
		}
		if fam[v] != nil {
			return fam[v]
		}
		if fam[Regular] != nil {
			return fam[Regular]
		}
	}
	return nil
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
