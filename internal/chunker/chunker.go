package chunker

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Options configures chunk sizing.
type Options struct {
	// MaxChunkBytes caps a single chunk; oversized sections are
	// window-split.
	MaxChunkBytes int

	// WindowLines is the window height for unstructured content.
	WindowLines int

	// OverlapLines is the window overlap for unstructured content.
	OverlapLines int
}

// Defaults used when an option is zero.
const (
	DefaultMaxChunkBytes = 4096
	DefaultWindowLines   = 80
	DefaultOverlapLines  = 10
)

func (o Options) withDefaults() Options {
	if o.MaxChunkBytes <= 0 {
		o.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if o.WindowLines <= 0 {
		o.WindowLines = DefaultWindowLines
	}
	if o.OverlapLines < 0 || o.OverlapLines >= o.WindowLines {
		o.OverlapLines = DefaultOverlapLines
	}
	return o
}

// Chunker splits files into chunks. Zero value is not usable; call New.
type Chunker struct {
	opts Options
}

// New creates a chunker.
func New(opts Options) *Chunker {
	return &Chunker{opts: opts.withDefaults()}
}

// languageByExt maps file extensions to declaration scanners.
var languageByExt = map[string]string{
	".go":  "go",
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
}

var markdownExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdx":      true,
}

// ChunkFile normalizes content and splits it by the strategy matching the
// file extension: declaration scanning for known languages, section
// splitting for markdown, fixed windows otherwise. Empty and
// whitespace-only files produce no chunks.
func (c *Chunker) ChunkFile(datasetID uuid.UUID, sourcePath string, content []byte) []Chunk {
	normalized := Normalize(content)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	var sections []section
	language := ""

	switch {
	case languageByExt[ext] != "":
		language = languageByExt[ext]
		sections = scanDeclarations(normalized, language)
	case markdownExts[ext]:
		sections = splitMarkdown(normalized)
	}
	if len(sections) == 0 {
		sections = windowSections(normalized, c.opts.WindowLines, c.opts.OverlapLines)
	}

	return c.assemble(datasetID, sourcePath, language, normalized, sections)
}

// ChunkPage splits crawled page markdown. The page URL stands in for the
// source path.
func (c *Chunker) ChunkPage(datasetID uuid.UUID, pageURL string, markdown string) []Chunk {
	normalized := Normalize([]byte(markdown))
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	sections := splitMarkdown(normalized)
	if len(sections) == 0 {
		sections = windowSections(normalized, c.opts.WindowLines, c.opts.OverlapLines)
	}
	return c.assemble(datasetID, pageURL, "", normalized, sections)
}

// assemble turns sections into chunks, window-splitting any section that
// exceeds the byte cap.
func (c *Chunker) assemble(datasetID uuid.UUID, sourcePath, language, content string, sections []section) []Chunk {
	chunks := make([]Chunk, 0, len(sections))
	for _, sec := range sections {
		body := content[sec.startByte:sec.endByte]
		if strings.TrimSpace(body) == "" {
			continue
		}

		if len(body) > c.opts.MaxChunkBytes {
			for _, sub := range windowSections(body, c.opts.WindowLines, c.opts.OverlapLines) {
				subBody := body[sub.startByte:sub.endByte]
				if strings.TrimSpace(subBody) == "" {
					continue
				}
				chunks = append(chunks, c.build(datasetID, sourcePath, language, subBody,
					sec.startByte+sub.startByte, sec.startByte+sub.endByte,
					sec.startLine+sub.startLine-1, sec.startLine+sub.endLine-1, sec.symbol))
			}
			continue
		}

		chunks = append(chunks, c.build(datasetID, sourcePath, language, body,
			sec.startByte, sec.endByte, sec.startLine, sec.endLine, sec.symbol))
	}
	return chunks
}

func (c *Chunker) build(datasetID uuid.UUID, sourcePath, language, body string, startByte, endByte, startLine, endLine int, sym *Symbol) Chunk {
	return Chunk{
		ID:         ChunkID(datasetID, sourcePath, startByte, endByte, body),
		DatasetID:  datasetID,
		SourcePath: sourcePath,
		Language:   language,
		Content:    body,
		StartByte:  startByte,
		EndByte:    endByte,
		StartLine:  startLine,
		EndLine:    endLine,
		Symbol:     sym,
	}
}

// Normalize converts CRLF to LF and strips trailing whitespace from each
// line, so the same logical content always hashes the same.
func Normalize(content []byte) string {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// section is a half-open byte span with 1-based line numbers.
type section struct {
	startByte, endByte int
	startLine, endLine int
	symbol             *Symbol
}

// windowSections splits content into fixed line windows with overlap.
func windowSections(content string, window, overlap int) []section {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	// Byte offset of each line start.
	offsets := make([]int, len(lines)+1)
	for i, line := range lines {
		offsets[i+1] = offsets[i] + len(line)
	}

	step := window - overlap
	var out []section
	for start := 0; start < len(lines); start += step {
		end := start + window
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, section{
			startByte: offsets[start],
			endByte:   offsets[end],
			startLine: start + 1,
			endLine:   end,
		})
		if end == len(lines) {
			break
		}
	}
	return out
}
