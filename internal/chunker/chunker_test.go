package chunker

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDataset = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("chunker-test"))

const goSource = `package widget

import "fmt"

// Widget is a thing.
type Widget struct {
	Name string
}

// Render draws the widget.
func (w *Widget) Render() string {
	return fmt.Sprintf("<%s>", w.Name)
}

// New creates a widget.
func New(name string) *Widget {
	return &Widget{Name: name}
}
`

func TestChunkGoFile(t *testing.T) {
	c := New(Options{})
	chunks := c.ChunkFile(testDataset, "pkg/widget/widget.go", []byte(goSource))
	require.Len(t, chunks, 4)

	// Preamble carries no symbol.
	assert.Nil(t, chunks[0].Symbol)
	assert.Contains(t, chunks[0].Content, "package widget")

	typ := chunks[1]
	require.NotNil(t, typ.Symbol)
	assert.Equal(t, "Widget", typ.Symbol.Name)
	assert.Equal(t, "type", typ.Symbol.Kind)
	assert.Equal(t, "Widget is a thing.", typ.Symbol.Docstring)

	method := chunks[2]
	require.NotNil(t, method.Symbol)
	assert.Equal(t, "Render", method.Symbol.Name)
	assert.Equal(t, "method", method.Symbol.Kind)
	assert.Equal(t, "Widget", method.Symbol.Parent)
	assert.Contains(t, method.Content, "// Render draws the widget.")

	fn := chunks[3]
	require.NotNil(t, fn.Symbol)
	assert.Equal(t, "New", fn.Symbol.Name)
	assert.Equal(t, "function", fn.Symbol.Kind)
	assert.Equal(t, "go", fn.Language)
}

func TestChunkPythonDocstring(t *testing.T) {
	src := `import os

class Loader:
    """Loads things from disk."""

    def load(self, path):
        return os.stat(path)

def main():
    """Entry point.

    Runs the loader.
    """
    Loader().load("/tmp")
`
	c := New(Options{})
	chunks := c.ChunkFile(testDataset, "loader.py", []byte(src))
	require.Len(t, chunks, 3)

	cls := chunks[1]
	require.NotNil(t, cls.Symbol)
	assert.Equal(t, "Loader", cls.Symbol.Name)
	assert.Equal(t, "class", cls.Symbol.Kind)
	assert.Equal(t, "Loads things from disk.", cls.Symbol.Docstring)
	// Indented methods stay inside the class chunk.
	assert.Contains(t, cls.Content, "def load")

	fn := chunks[2]
	require.NotNil(t, fn.Symbol)
	assert.Equal(t, "main", fn.Symbol.Name)
	assert.Contains(t, fn.Symbol.Docstring, "Entry point.")
	assert.Contains(t, fn.Symbol.Docstring, "Runs the loader.")
}

func TestChunkTypeScript(t *testing.T) {
	src := `import { x } from "./x";

export interface Config {
  name: string;
}

export async function run(cfg: Config) {
  return cfg.name;
}

export const defaultConfig = { name: "a" };
`
	c := New(Options{})
	chunks := c.ChunkFile(testDataset, "src/run.ts", []byte(src))
	require.Len(t, chunks, 4)
	assert.Equal(t, "type", chunks[1].Symbol.Kind)
	assert.Equal(t, "Config", chunks[1].Symbol.Name)
	assert.Equal(t, "function", chunks[2].Symbol.Kind)
	assert.Equal(t, "run", chunks[2].Symbol.Name)
	assert.Equal(t, "var", chunks[3].Symbol.Kind)
	assert.Equal(t, "defaultConfig", chunks[3].Symbol.Name)
}

func TestChunkMarkdownSections(t *testing.T) {
	src := "Intro text.\n\n# Setup\n\nInstall it.\n\n```sh\n# not a heading\nmake install\n```\n\n## Usage\n\nRun it.\n"
	c := New(Options{})
	chunks := c.ChunkFile(testDataset, "README.md", []byte(src))
	require.Len(t, chunks, 3)

	assert.Nil(t, chunks[0].Symbol)
	require.NotNil(t, chunks[1].Symbol)
	assert.Equal(t, "Setup", chunks[1].Symbol.Name)
	assert.Equal(t, "section", chunks[1].Symbol.Kind)
	// The fenced "# not a heading" stays inside the Setup section.
	assert.Contains(t, chunks[1].Content, "# not a heading")
	assert.Equal(t, "Usage", chunks[2].Symbol.Name)
}

func TestChunkPlainTextWindows(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line of plain text\n")
	}
	c := New(Options{WindowLines: 50, OverlapLines: 10})
	chunks := c.ChunkFile(testDataset, "notes.txt", []byte(b.String()))
	require.Greater(t, len(chunks), 3)

	// Consecutive windows overlap by the configured number of lines.
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 41, chunks[1].StartLine)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\nb", Normalize([]byte("a  \r\nb\t")))
}

func TestChunkIDDeterministic(t *testing.T) {
	c := New(Options{})
	a := c.ChunkFile(testDataset, "widget.go", []byte(goSource))
	b := c.ChunkFile(testDataset, "widget.go", []byte(goSource))
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}

	// CRLF input chunks identically to LF input.
	crlf := strings.ReplaceAll(goSource, "\n", "\r\n")
	d := c.ChunkFile(testDataset, "widget.go", []byte(crlf))
	require.Equal(t, len(a), len(d))
	assert.Equal(t, a[0].ID, d[0].ID)

	// Different datasets produce different ids for identical content.
	other := c.ChunkFile(uuid.NewSHA1(uuid.NameSpaceDNS, []byte("other")), "widget.go", []byte(goSource))
	assert.NotEqual(t, a[0].ID, other[0].ID)
}

func TestEmptyFileNoChunks(t *testing.T) {
	c := New(Options{})
	assert.Nil(t, c.ChunkFile(testDataset, "empty.go", nil))
	assert.Nil(t, c.ChunkFile(testDataset, "blank.md", []byte("  \n\t\n")))
	assert.Nil(t, c.ChunkPage(testDataset, "https://example.com", "   "))
}

func TestOversizedSectionIsWindowed(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big\n\n")
	for i := 0; i < 400; i++ {
		b.WriteString("some documentation line with enough text to add up\n")
	}
	c := New(Options{MaxChunkBytes: 2048, WindowLines: 30, OverlapLines: 5})
	chunks := c.ChunkFile(testDataset, "big.md", []byte(b.String()))
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 2048)
		require.NotNil(t, ch.Symbol)
		assert.Equal(t, "Big", ch.Symbol.Name)
	}
}
