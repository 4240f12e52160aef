package template

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/certmail-lite/internal/table"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func dataURL(b []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}

func TestSubstituteFields(t *testing.T) {
	t.Parallel()

	fields := []Field{
		NewField(1, "name", 10, 20),
		NewField(2, "course", 10, 60),
		NewField(3, "removed", 10, 90),
	}
	before := append([]Field(nil), fields...)
	row := table.Row{"email": "ada@example.com", "name": "Ada", "course": "Go 101"}

	got := SubstituteFields(fields, row)

	require.Len(t, got, 3)
	assert.Equal(t, "Ada", got[0].Column)
	assert.Equal(t, "Go 101", got[1].Column)
	assert.Equal(t, "", got[2].Column)
	assert.Equal(t, fields[0].X, got[0].X)
	assert.Equal(t, fields[1].FontFamily, got[1].FontFamily)

	assert.Equal(t, before, fields, "input fields must not change")
	assert.Equal(t, got, SubstituteFields(fields, row))
}

func TestSubstituteFields_RowsDoNotLeak(t *testing.T) {
	t.Parallel()

	fields := []Field{NewField(1, "name", 0, 0)}
	rows := []table.Row{
		{"email": "a@example.com", "name": "Ada"},
		{"email": "b@example.com"},
		{"email": "c@example.com", "name": "Carol"},
	}
	want := []string{"Ada", "", "Carol"}

	for i, row := range rows {
		got := SubstituteFields(fields, row)
		assert.Equal(t, want[i], got[0].Column)
		assert.Equal(t, "name", fields[0].Column)
	}
}

func TestSubstituteText(t *testing.T) {
	t.Parallel()

	columns := []string{"email", "name", "course"}
	row := table.Row{"email": "ada@example.com", "name": "Ada"}

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "single", text: "Hello ${name}", want: "Hello Ada"},
		{name: "every occurrence", text: "${name}, ${name}!", want: "Ada, Ada!"},
		{name: "absent cell", text: "Course: ${course}.", want: "Course: ."},
		{name: "unknown column kept", text: "Hi ${nickname}", want: "Hi ${nickname}"},
		{name: "no placeholders", text: "Plain", want: "Plain"},
		{name: "bare name untouched", text: "name and $name", want: "name and $name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SubstituteText(tt.text, columns, row))
		})
	}
}

func TestSubstituteText_ValuesAreNotRescanned(t *testing.T) {
	t.Parallel()

	columns := []string{"a", "b"}
	row := table.Row{"a": "${b}", "b": "B"}
	assert.Equal(t, "${b} B", SubstituteText("${a} ${b}", columns, row))
}

func TestStaleFields(t *testing.T) {
	t.Parallel()

	tpl := &Template{Fields: []Field{
		NewField(1, "name", 0, 0),
		NewField(2, "var9", 0, 0),
	}}

	stale := tpl.StaleFields([]string{"email", "name"})
	require.Len(t, stale, 1)
	assert.Equal(t, 2, stale[0].ID)
	assert.Empty(t, tpl.StaleFields([]string{"name", "var9"}))
}

func TestParse_AppliesDefaults(t *testing.T) {
	t.Parallel()

	doc := []byte(`
image: ` + dataURL(pngBytes(t, 40, 30)) + `
fields:
  - column: name
    x: 10
    y: 20
  - id: 7
    column: course
    x: 10
    y: 40
    color: "#336699"
    fontSize: 24
    fontWeight: Bold
    fontFamily: Courier New
`)

	tpl, err := Parse(doc, "")
	require.NoError(t, err)

	assert.Equal(t, 40, tpl.Width)
	assert.Equal(t, 30, tpl.Height)
	require.Len(t, tpl.Fields, 2)

	first := tpl.Fields[0]
	assert.Equal(t, 8, first.ID)
	assert.Equal(t, "black", first.Color)
	assert.Equal(t, Transparent, first.BackgroundColor)
	assert.Equal(t, 16.0, first.FontSize)
	assert.Equal(t, WeightNormal, first.FontWeight)
	assert.Equal(t, StyleNormal, first.FontStyle)
	assert.Equal(t, "Arial", first.FontFamily)

	second := tpl.Fields[1]
	assert.Equal(t, 7, second.ID)
	assert.Equal(t, "#336699", second.Color)
	assert.Equal(t, 24.0, second.FontSize)
	assert.Equal(t, WeightBold, second.FontWeight)
	assert.Equal(t, "Courier New", second.FontFamily)
}

func TestParse_JSONDocument(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"image":"` + dataURL(pngBytes(t, 8, 8)) + `","width":200,"height":100,` +
		`"fields":[{"id":1,"column":"name","x":5,"y":5,"backgroundColor":"yellow"}]}`)

	tpl, err := Parse(doc, "")
	require.NoError(t, err)
	assert.Equal(t, 200, tpl.Width)
	assert.Equal(t, 100, tpl.Height)
	assert.Equal(t, "yellow", tpl.Fields[0].BackgroundColor)
}

func TestLoadFile_RelativeReferences(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.png"), pngBytes(t, 12, 9), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brand.ttf"), []byte("font-bytes"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cert.yaml"), []byte(`
image: base.png
fonts:
  - family: Brand
    file: brand.ttf
fields:
  - id: 1
    column: name
    fontFamily: Brand
`), 0o600))

	tpl, err := LoadFile(filepath.Join(dir, "cert.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 12, tpl.Width)
	assert.Equal(t, 9, tpl.Height)
	require.Len(t, tpl.Fonts, 1)
	assert.Equal(t, Font{Family: "Brand", Weight: WeightNormal, Style: StyleNormal, Data: []byte("font-bytes")}, tpl.Fonts[0])
}

func TestParse_FontVariants(t *testing.T) {
	t.Parallel()

	doc := []byte(`
image: ` + dataURL(pngBytes(t, 8, 8)) + `
fonts:
  - {family: Brand, file: 'data:,regular'}
  - {family: Brand, file: 'data:,bold', fontWeight: Bold}
  - {family: Brand, file: 'data:,bold-italic', fontWeight: bold, fontStyle: italic}
`)

	tpl, err := Parse(doc, "")
	require.NoError(t, err)
	require.Len(t, tpl.Fonts, 3)
	assert.Equal(t, Font{Family: "Brand", Weight: WeightNormal, Style: StyleNormal, Data: []byte("regular")}, tpl.Fonts[0])
	assert.Equal(t, Font{Family: "Brand", Weight: WeightBold, Style: StyleNormal, Data: []byte("bold")}, tpl.Fonts[1])
	assert.Equal(t, Font{Family: "Brand", Weight: WeightBold, Style: StyleItalic, Data: []byte("bold-italic")}, tpl.Fonts[2])
}

func TestParse_UndecodableImageKeepsFallbackCanvas(t *testing.T) {
	t.Parallel()

	doc := []byte("image: data:text/plain,not%20an%20image\nfields: []\n")
	tpl, err := Parse(doc, "")
	require.NoError(t, err)
	assert.Equal(t, 500, tpl.Width)
	assert.Equal(t, 500, tpl.Height)
	assert.Equal(t, []byte("not an image"), tpl.Image)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	img := dataURL(pngBytes(t, 4, 4))
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no image", doc: "fields: []"},
		{name: "file reference without base dir", doc: "image: base.png"},
		{name: "duplicate ids", doc: "image: " + img + "\nfields:\n  - {id: 1, column: a}\n  - {id: 1, column: b}\n"},
		{name: "empty column", doc: "image: " + img + "\nfields:\n  - {id: 1, column: ''}\n"},
		{name: "explicit zero font size", doc: "image: " + img + "\nfields:\n  - {id: 1, column: a, fontSize: 0}\n"},
		{name: "explicit empty color", doc: "image: " + img + "\nfields:\n  - {id: 1, column: a, color: ''}\n"},
		{name: "unknown font weight", doc: "image: " + img + "\nfonts:\n  - {family: Brand, file: 'data:,x', fontWeight: heavy}\n"},
		{name: "negative font size", doc: "image: " + img + "\nfields:\n  - {id: 1, column: a, fontSize: -3}\n"},
		{name: "unknown weight", doc: "image: " + img + "\nfields:\n  - {id: 1, column: a, fontWeight: heavy}\n"},
		{name: "unknown style", doc: "image: " + img + "\nfields:\n  - {id: 1, column: a, fontStyle: oblique}\n"},
		{name: "font without family", doc: "image: " + img + "\nfonts:\n  - {file: 'data:,x'}\n"},
		{name: "malformed yaml", doc: "image: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc), "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTemplate), "got %v", err)
		})
	}
}

func TestDecodeDataURL(t *testing.T) {
	t.Parallel()

	got, err := DecodeDataURL("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = DecodeDataURL("data:,a%20b")
	require.NoError(t, err)
	assert.Equal(t, []byte("a b"), got)

	_, err = DecodeDataURL("http://example.com/x.png")
	assert.Error(t, err)
	_, err = DecodeDataURL("data:image/png;base64")
	assert.Error(t, err)
	_, err = DecodeDataURL("data:image/png;base64,@@@")
	assert.Error(t, err)
}
