package chunker

import (
	"regexp"
	"strings"
)

// declPattern recognizes a top-level declaration line and extracts its
// symbol name and kind.
type declPattern struct {
	re   *regexp.Regexp
	kind func(match []string) string
	name func(match []string) string
}

var goReceiver = regexp.MustCompile(`^func\s+\(\s*\w+\s+\*?([A-Za-z0-9_]+)\s*\)`)

var declPatterns = map[string][]declPattern{
	"go": {
		{
			re: regexp.MustCompile(`^func\s+(?:\(\s*\w+\s+\*?[A-Za-z0-9_]+\s*\)\s+)?([A-Za-z0-9_]+)\s*\(`),
			kind: func(m []string) string {
				if strings.HasPrefix(m[0], "func (") {
					return "method"
				}
				return "function"
			},
			name: func(m []string) string { return m[1] },
		},
		{
			re:   regexp.MustCompile(`^type\s+([A-Za-z0-9_]+)`),
			kind: func([]string) string { return "type" },
			name: func(m []string) string { return m[1] },
		},
		{
			re:   regexp.MustCompile(`^(const|var)\s+(\(|([A-Za-z0-9_]+))`),
			kind: func(m []string) string { return m[1] },
			name: func(m []string) string { return m[3] },
		},
	},
	"python": {
		{
			re:   regexp.MustCompile(`^class\s+([A-Za-z0-9_]+)`),
			kind: func([]string) string { return "class" },
			name: func(m []string) string { return m[1] },
		},
		{
			re:   regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z0-9_]+)`),
			kind: func([]string) string { return "function" },
			name: func(m []string) string { return m[1] },
		},
	},
	"javascript": jsDecls,
	"typescript": append(jsDecls, declPattern{
		re:   regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?(interface|type|enum)\s+([A-Za-z0-9_]+)`),
		kind: func([]string) string { return "type" },
		name: func(m []string) string { return m[2] },
	}),
}

var jsDecls = []declPattern{
	{
		re:   regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z0-9_$]+)`),
		kind: func([]string) string { return "function" },
		name: func(m []string) string { return m[1] },
	},
	{
		re:   regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+([A-Za-z0-9_$]+)`),
		kind: func([]string) string { return "class" },
		name: func(m []string) string { return m[1] },
	},
	{
		re:   regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z0-9_$]+)\s*=`),
		kind: func([]string) string { return "var" },
		name: func(m []string) string { return m[1] },
	},
}

// scanDeclarations splits code at top-level declaration boundaries. Each
// section covers one declaration plus its preceding comment block; the
// file preamble (package clause, imports) becomes a section of its own.
// Returns nil when no declarations are found so the caller falls back to
// windows.
func scanDeclarations(content, language string) []section {
	patterns, ok := declPatterns[language]
	if !ok {
		return nil
	}

	lines := strings.SplitAfter(content, "\n")
	offsets := make([]int, len(lines)+1)
	for i, line := range lines {
		offsets[i+1] = offsets[i] + len(line)
	}

	type decl struct {
		line int
		sym  *Symbol
	}
	var decls []decl
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\n")
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			sym := &Symbol{
				Name:      p.name(m),
				Kind:      p.kind(m),
				Signature: strings.TrimSpace(line),
			}
			if language == "go" && sym.Kind == "method" {
				if recv := goReceiver.FindStringSubmatch(line); recv != nil {
					sym.Parent = recv[1]
				}
			}
			decls = append(decls, decl{line: i, sym: sym})
			break
		}
	}
	if len(decls) == 0 {
		return nil
	}

	var out []section
	for idx, d := range decls {
		start := commentBlockStart(lines, d.line, language)
		// Fold the preamble into the first section boundary decision but
		// keep it as its own symbol-less chunk.
		if idx == 0 && start > 0 {
			out = append(out, section{
				startByte: 0,
				endByte:   offsets[start],
				startLine: 1,
				endLine:   start,
			})
		}
		if idx > 0 {
			prevStart := out[len(out)-1].startLine - 1
			if start <= prevStart {
				start = d.line
			}
		}

		end := len(lines)
		if idx+1 < len(decls) {
			end = commentBlockStart(lines, decls[idx+1].line, language)
			if end <= d.line {
				end = decls[idx+1].line
			}
		}

		d.sym.Docstring = docstring(lines, d.line, start, language)
		out = append(out, section{
			startByte: offsets[start],
			endByte:   offsets[end],
			startLine: start + 1,
			endLine:   end,
			symbol:    d.sym,
		})
	}
	return out
}

// commentBlockStart walks upward from a declaration over its contiguous
// comment block and blank-free prefix, returning the first line index of
// the block.
func commentBlockStart(lines []string, declLine int, language string) int {
	start := declLine
	for start > 0 {
		prev := strings.TrimSpace(strings.TrimRight(lines[start-1], "\n"))
		if !isCommentLine(prev, language) {
			break
		}
		start--
	}
	return start
}

func isCommentLine(line, language string) bool {
	if line == "" {
		return false
	}
	switch language {
	case "python":
		return strings.HasPrefix(line, "#")
	default:
		return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") ||
			strings.HasPrefix(line, "*") || strings.HasPrefix(line, "*/")
	}
}

// docstring extracts the documentation attached to a declaration: the
// preceding comment block, or for Python the triple-quoted string opening
// the body.
func docstring(lines []string, declLine, blockStart int, language string) string {
	if blockStart < declLine {
		var b []string
		for i := blockStart; i < declLine; i++ {
			line := strings.TrimSpace(strings.TrimRight(lines[i], "\n"))
			line = strings.TrimPrefix(line, "//")
			line = strings.TrimPrefix(line, "/*")
			line = strings.TrimSuffix(line, "*/")
			line = strings.TrimPrefix(line, "*")
			line = strings.TrimPrefix(line, "#")
			b = append(b, strings.TrimSpace(line))
		}
		return strings.TrimSpace(strings.Join(b, "\n"))
	}

	if language != "python" {
		return ""
	}
	// Triple-quoted string on the first body line.
	for i := declLine + 1; i < len(lines) && i <= declLine+2; i++ {
		line := strings.TrimSpace(strings.TrimRight(lines[i], "\n"))
		if line == "" {
			continue
		}
		for _, q := range []string{`"""`, "'''"} {
			if !strings.HasPrefix(line, q) {
				continue
			}
			rest := strings.TrimPrefix(line, q)
			if end := strings.Index(rest, q); end >= 0 {
				return strings.TrimSpace(rest[:end])
			}
			doc := []string{strings.TrimSpace(rest)}
			for j := i + 1; j < len(lines); j++ {
				body := strings.TrimRight(lines[j], "\n")
				if end := strings.Index(body, q); end >= 0 {
					doc = append(doc, strings.TrimSpace(body[:end]))
					return strings.TrimSpace(strings.Join(doc, "\n"))
				}
				doc = append(doc, strings.TrimSpace(body))
			}
			return strings.TrimSpace(strings.Join(doc, "\n"))
		}
		break
	}
	return ""
}
