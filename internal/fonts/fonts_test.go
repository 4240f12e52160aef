package fonts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

func advance(t *testing.T, r *Registry, family string, v Variant, text string) float64 {
	t.Helper()
	face, err := r.Face(family, v, 32)
	require.NoError(t, err)
	defer face.Close()
	w := font.MeasureString(face, text)
	return float64(w) / 64
}

func TestVariantOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Regular, VariantOf("normal", "normal"))
	assert.Equal(t, Bold, VariantOf("bold", "normal"))
	assert.Equal(t, Italic, VariantOf("normal", "italic"))
	assert.Equal(t, BoldItalic, VariantOf("BOLD", "Italic"))
}

func TestBuiltinFamilies(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range []string{"Arial", "times new roman", "Courier New"} {
		assert.True(t, r.Has(name), name)
	}

	sans := advance(t, r, "Arial", Regular, "iiii")
	mono := advance(t, r, "Courier New", Regular, "iiii")
	assert.Greater(t, mono, sans, "monospace i is wider than proportional i")

	bold := advance(t, r, "Arial", Bold, "Certificate")
	regular := advance(t, r, "Arial", Regular, "Certificate")
	assert.NotEqual(t, regular, bold)
}

func TestFace_UnknownFamilyFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)

	assert.Equal(t,
		advance(t, r, "Arial", Italic, "Hello"),
		advance(t, r, "Comic Sans", Italic, "Hello"))
}

func TestRegister_MissingVariantUsesRegular(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, r.Register("Brand", gomono.TTF))

	assert.Equal(t,
		advance(t, r, "Courier New", Regular, "Hello"),
		advance(t, r, "Brand", BoldItalic, "Hello"))
}

func TestRegister_InvalidData(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Register("Broken", []byte("not a font")))
	assert.False(t, r.Has("Broken"))
}

func TestRegisterVariant(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, r.RegisterVariant("Brand", Bold, gomono.TTF))

	// Only a bold face exists: other variants fall through to the default family.
	assert.Equal(t, advance(t, r, "Courier New", Regular, "x"), advance(t, r, "Brand", Bold, "x"))
	assert.Equal(t, advance(t, r, "Arial", Regular, "x"), advance(t, r, "Brand", Regular, "x"))
}

func TestRegisterVariant_DoesNotLeakAcrossRegistries(t *testing.T) {
	t.Parallel()

	a, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, a.RegisterVariant("Arial", Bold, gomono.TTF))

	b, err := NewRegistry()
	require.NoError(t, err)

	assert.NotSame(t, a.lookup("Arial", Bold), b.lookup("Arial", Bold))
	assert.NotSame(t, a.lookup("Arial", Bold), a.lookup("Times New Roman", Bold))
	assert.Same(t, b.lookup("Arial", Bold), b.lookup("Times New Roman", Bold))
	assert.Equal(t, advance(t, b, "Arial", Bold, "Certificate"), advance(t, a, "Times New Roman", Bold, "Certificate"))
}

func TestClone_IsIndependent(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	require.NoError(t, err)

	c := r.Clone()
	require.NoError(t, c.Register("Brand", goregular.TTF))

	assert.True(t, c.Has("Brand"))
	assert.False(t, r.Has("Brand"))
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Brand.ttf"), goregular.TTF, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Code.OTF"), gomono.TTF, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("fonts"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.ttf"), 0o700))

	r, err := NewRegistry()
	require.NoError(t, err)

	names, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Brand", "Code"}, names)
	assert.True(t, r.Has("brand"))
	assert.True(t, r.Has("Code"))

	_, err = r.LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
