package table

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	t.Parallel()

	input := "email,name,course\n" +
		"ada@example.com,Ada,Go 101\n" +
		"\n" +
		"grace@example.com,Grace\n" +
		"linus@example.com,Linus,Kernels,extra\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "name", "course"}, tbl.Columns)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, Row{"email": "ada@example.com", "name": "Ada", "course": "Go 101"}, tbl.Rows[0])
	assert.Equal(t, Row{"email": "grace@example.com", "name": "Grace", "course": ""}, tbl.Rows[1])
	assert.Equal(t, "Kernels", tbl.Rows[2]["course"])
	assert.NotContains(t, tbl.Rows[2], "")
}

func TestReadCSV_QuotedAndBOM(t *testing.T) {
	t.Parallel()

	input := "\ufeffemail,name\n\"ada@example.com\",\"Lovelace, Ada\"\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, tbl.Columns)
	assert.Equal(t, "Lovelace, Ada", tbl.Rows[0]["name"])
}

func TestReadCSV_NoHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty file", input: ""},
		{name: "blank header", input: ",,\nada@example.com,Ada,x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadCSV(strings.NewReader(tt.input))
			assert.True(t, errors.Is(err, ErrNoHeader), "got %v", err)
		})
	}
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	t.Parallel()

	tbl, err := ReadCSV(strings.NewReader("email,name\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, tbl.Columns)
	assert.Empty(t, tbl.Rows)
}

func TestRowEmail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ada@example.com", Row{"email": " ada@example.com "}.Email())
	assert.Equal(t, "", Row{"name": "Ada"}.Email())
}

func TestNew(t *testing.T) {
	t.Parallel()

	tbl := New()
	assert.Equal(t, []string{"email", "var1", "var2"}, tbl.Columns)
	assert.True(t, tbl.HasColumn("var1"))
	assert.False(t, tbl.HasColumn("name"))

	tbl.Columns[0] = "changed"
	assert.Equal(t, "email", DefaultColumns[0])
}

func TestAddColumn(t *testing.T) {
	t.Parallel()

	tbl := New()
	tbl.AddColumn("course")
	tbl.AddColumn("var1")
	tbl.AddColumn("  ")
	assert.Equal(t, []string{"email", "var1", "var2", "course"}, tbl.Columns)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	tbl := &Table{
		Columns: []string{"email", "name"},
		Rows: []Row{
			{"email": "ada@example.com", "name": "Lovelace, Ada"},
			{"name": "Alan"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	assert.Equal(t, "email,name\nada@example.com,\"Lovelace, Ada\"\n,Alan\n", buf.String())

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, got.Columns)
	assert.Equal(t, "Lovelace, Ada", got.Rows[0]["name"])
	assert.Equal(t, "", got.Rows[1].Email())
}
