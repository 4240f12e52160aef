// Package template models a certificate template (a base image plus
// positioned text fields bound to recipient columns) and the pure
// substitution of one recipient row into it.
package template

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"dario.cat/mergo"

	"github.com/shineum/certmail-lite/internal/table"
)

// ErrInvalidTemplate is wrapped by every template validation failure.
var ErrInvalidTemplate = errors.New("invalid template")

// Font weights and styles accepted on a Field.
const (
	WeightNormal = "normal"
	WeightBold   = "bold"
	StyleNormal  = "normal"
	StyleItalic  = "italic"

	// Transparent disables the background box behind a field.
	Transparent = "transparent"
)

// Field binds a recipient column to a position and a text style.
//
// On a template Column names the bound column. Fields returned by
// SubstituteFields carry the row's literal value in Column instead.
type Field struct {
	ID              int     `json:"id" yaml:"id"`
	Column          string  `json:"column" yaml:"column"`
	X               float64 `json:"x" yaml:"x"`
	Y               float64 `json:"y" yaml:"y"`
	Color           string  `json:"color" yaml:"color"`
	BackgroundColor string  `json:"backgroundColor" yaml:"backgroundColor"`
	FontSize        float64 `json:"fontSize" yaml:"fontSize"`
	FontWeight      string  `json:"fontWeight" yaml:"fontWeight"`
	FontStyle       string  `json:"fontStyle" yaml:"fontStyle"`
	FontFamily      string  `json:"fontFamily" yaml:"fontFamily"`
}

// fieldDefaults are the editor's defaults for a newly added field.
var fieldDefaults = Field{
	Color:           "black",
	BackgroundColor: Transparent,
	FontSize:        16,
	FontWeight:      WeightNormal,
	FontStyle:       StyleNormal,
	FontFamily:      "Arial",
}

// Font is one face of a custom font family shipped with a template. An
// empty Weight or Style means normal.
type Font struct {
	Family string
	Weight string
	Style  string
	Data   []byte
}

// Template is an immutable snapshot of an edited template. Fields are
// painted in order, later fields over earlier ones.
type Template struct {
	Image  []byte
	Width  int
	Height int
	Fields []Field
	Fonts  []Font
}

// NewField returns a field bound to column at (x, y) with default styling.
func NewField(id int, column string, x, y float64) Field {
	f := Field{ID: id, Column: column, X: x, Y: y}
	mergo.Merge(&f, fieldDefaults)
	return f
}

// normalize turns field sources into fields: absent style attributes
// take the editor defaults and id-less fields get the next free id.
func normalize(srcs []FieldSource) ([]Field, error) {
	next := 0
	for _, src := range srcs {
		next = max(next, src.ID)
	}

	out := make([]Field, len(srcs))
	for i, src := range srcs {
		f := Field{ID: src.ID, Column: src.Column, X: src.X, Y: src.Y}
		if err := mergo.Merge(&f, fieldDefaults); err != nil {
			return nil, fmt.Errorf("failed to apply field defaults: %w", err)
		}
		override(&f.Color, src.Color)
		override(&f.BackgroundColor, src.BackgroundColor)
		override(&f.FontSize, src.FontSize)
		override(&f.FontWeight, src.FontWeight)
		override(&f.FontStyle, src.FontStyle)
		override(&f.FontFamily, src.FontFamily)

		if f.ID == 0 {
			next++
			f.ID = next
		}
		f.FontWeight = strings.ToLower(f.FontWeight)
		f.FontStyle = strings.ToLower(f.FontStyle)
		out[i] = f
	}
	return out, nil
}

func override[T any](dst, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Validate checks the field invariants: unique ids, a bound column,
// a positive size and a known weight and style.
func (t *Template) Validate() error {
	if len(t.Image) == 0 {
		return fmt.Errorf("%w: no base image", ErrInvalidTemplate)
	}
	seen := make(map[int]bool, len(t.Fields))
	for i, f := range t.Fields {
		switch {
		case seen[f.ID]:
			return fmt.Errorf("%w: field %d: duplicate id %d", ErrInvalidTemplate, i, f.ID)
		case strings.TrimSpace(f.Column) == "":
			return fmt.Errorf("%w: field %d: no column", ErrInvalidTemplate, f.ID)
		case strings.TrimSpace(f.Color) == "":
			return fmt.Errorf("%w: field %d: no color", ErrInvalidTemplate, f.ID)
		case f.FontSize <= 0:
			return fmt.Errorf("%w: field %d: font size must be positive", ErrInvalidTemplate, f.ID)
		case f.FontWeight != WeightNormal && f.FontWeight != WeightBold:
			return fmt.Errorf("%w: field %d: unknown font weight %q", ErrInvalidTemplate, f.ID, f.FontWeight)
		case f.FontStyle != StyleNormal && f.FontStyle != StyleItalic:
			return fmt.Errorf("%w: field %d: unknown font style %q", ErrInvalidTemplate, f.ID, f.FontStyle)
		}
		seen[f.ID] = true
	}
	for _, f := range t.Fonts {
		if f.Weight != "" && f.Weight != WeightNormal && f.Weight != WeightBold {
			return fmt.Errorf("%w: font %s: unknown weight %q", ErrInvalidTemplate, f.Family, f.Weight)
		}
		if f.Style != "" && f.Style != StyleNormal && f.Style != StyleItalic {
			return fmt.Errorf("%w: font %s: unknown style %q", ErrInvalidTemplate, f.Family, f.Style)
		}
	}
	return nil
}

// StaleFields returns the fields bound to a column outside columns. They
// substitute to "" like an empty cell does.
func (t *Template) StaleFields(columns []string) []Field {
	var stale []Field
	for _, f := range t.Fields {
		if !slices.Contains(columns, f.Column) {
			stale = append(stale, f)
		}
	}
	return stale
}

// SubstituteFields returns a copy of fields with each Column replaced by
// the row's value for it ("" when the row lacks the column). The input
// slice is never modified.
func SubstituteFields(fields []Field, row table.Row) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Column = row[f.Column]
		out[i] = f
	}
	return out
}

// SubstituteText replaces every ${column} placeholder for the given
// columns with the row's value. Placeholders naming other columns are
// left as they are. Substituted values are not scanned again.
func SubstituteText(text string, columns []string, row table.Row) string {
	if len(columns) == 0 || !strings.Contains(text, "${") {
		return text
	}
	pairs := make([]string, 0, 2*len(columns))
	for _, col := range columns {
		pairs = append(pairs, "${"+col+"}", row[col])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
