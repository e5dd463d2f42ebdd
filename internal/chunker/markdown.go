package chunker

import (
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// splitMarkdown splits markdown at headings, ignoring headings inside
// fenced code blocks. Content before the first heading becomes a
// symbol-less preamble section. Returns nil for heading-free documents so
// the caller falls back to windows.
func splitMarkdown(content string) []section {
	lines := strings.SplitAfter(content, "\n")
	offsets := make([]int, len(lines)+1)
	for i, line := range lines {
		offsets[i+1] = offsets[i] + len(line)
	}

	type heading struct {
		line  int
		title string
	}
	var headings []heading
	inFence := false
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\n")
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			headings = append(headings, heading{line: i, title: m[2]})
		}
	}
	if len(headings) == 0 {
		return nil
	}

	var out []section
	if headings[0].line > 0 {
		out = append(out, section{
			startByte: 0,
			endByte:   offsets[headings[0].line],
			startLine: 1,
			endLine:   headings[0].line,
		})
	}
	for idx, h := range headings {
		end := len(lines)
		if idx+1 < len(headings) {
			end = headings[idx+1].line
		}
		out = append(out, section{
			startByte: offsets[h.line],
			endByte:   offsets[end],
			startLine: h.line + 1,
			endLine:   end,
			symbol:    &Symbol{Name: h.title, Kind: "section"},
		})
	}
	return out
}
