// Package nbformat reads and writes the two representations of a synced
// notebook: the py:percent script edited outside the notebook and the nbformat
// v4 JSON document.
package nbformat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ascending/ascend/internal/notebook"
)

var (
	// ErrHeader is returned when a percent script opens a YAML header that
	// never closes or does not parse.
	ErrHeader = errors.New("invalid percent header")

	// ErrNotNotebook is returned for JSON documents that are not nbformat v4.
	ErrNotNotebook = errors.New("not an nbformat v4 notebook")
)

const (
	headerFence  = "# ---"
	cellMarker   = "# %%"
	commentSpace = "# "
)

// Document is a notebook in either representation.
type Document struct {
	// Metadata is the notebook-level metadata: the YAML header of a
	// percent script, or the "metadata" object of an .ipynb file.
	Metadata map[string]any

	Cells []notebook.Cell
}

// StarterScript is the content of a freshly paired script.
const StarterScript = `# ---
# jupyter:
#   jupytext:
#     text_representation:
#       extension: .py
#       format_name: percent
#       format_version: '1.3'
#   kernelspec:
#     display_name: Python 3
#     language: python
#     name: python3
# ---

# %%
`

// ParsePercent parses a py:percent script.
//
// Cells start at lines beginning with "# %%". A "[markdown]" (or "[md]") or
// "[raw]" tag on the marker line selects the kind; the "# " comment prefix is
// removed from every line of those cells. Text before the first marker becomes
// a code cell unless it is blank. Leading and trailing blank lines of each cell
// are dropped.
func ParsePercent(text string) (Document, error) {
	lines := splitLines(text)
	doc := Document{}

	end, err := headerEnd(lines)
	if err != nil {
		return Document{}, err
	}
	if end > 0 {
		header := make([]string, 0, end-1)
		for _, line := range lines[1:end] {
			header = append(header, uncomment(line))
		}
		var meta map[string]any
		if err := yaml.Unmarshal([]byte(strings.Join(header, "\n")), &meta); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrHeader, err)
		}
		// Notebook metadata lives under the "jupyter" key of the header.
		if inner, ok := meta["jupyter"].(map[string]any); ok {
			doc.Metadata = inner
		} else {
			doc.Metadata = meta
		}
		lines = lines[end+1:]
	}

	var (
		kind    = notebook.KindCode
		body    []string
		started bool
	)
	flush := func() {
		source := trimBlank(body)
		if kind != notebook.KindCode {
			for i, line := range source {
				source[i] = uncomment(line)
			}
		}
		joined := strings.Join(source, "\n")
		if started || strings.TrimSpace(joined) != "" {
			doc.Cells = append(doc.Cells, notebook.Cell{
				Index:   len(doc.Cells),
				Kind:    kind,
				Source:  joined,
				Outputs: []json.RawMessage{},
			})
		}
		body = nil
	}

	for _, line := range lines {
		if k, ok := parseMarker(line); ok {
			flush()
			kind = k
			started = true
			continue
		}
		body = append(body, line)
	}
	flush()

	return doc, nil
}

// CellAt returns the index of the cell holding the given 0-based line of a
// percent script, numbering cells the way ParsePercent does. Lines inside the
// header or before the first cell belong to cell 0.
func CellAt(text string, line int) (int, error) {
	if line < 0 {
		return 0, fmt.Errorf("invalid line number %d", line)
	}
	lines := splitLines(text)
	start, err := headerEnd(lines)
	if err != nil {
		return 0, err
	}
	if start > 0 {
		start++
	}

	markers, preamble := 0, false
	for i := start; i < len(lines) && i <= line; i++ {
		if _, ok := parseMarker(lines[i]); ok {
			markers++
		} else if markers == 0 && strings.TrimSpace(lines[i]) != "" {
			preamble = true
		}
	}

	index := markers - 1
	if preamble {
		index++
	}
	if index < 0 {
		index = 0
	}
	return index, nil
}

// headerEnd returns the line of the closing header fence, or 0 when the
// script has no header.
func headerEnd(lines []string) (int, error) {
	if len(lines) == 0 || strings.TrimRight(lines[0], " ") != headerFence {
		return 0, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " ") == headerFence {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: header is not closed", ErrHeader)
}

// FormatPercent renders doc as a py:percent script. It is the inverse of
// ParsePercent up to blank lines around cells.
func FormatPercent(doc Document) (string, error) {
	var b strings.Builder

	if len(doc.Metadata) > 0 {
		data, err := yaml.Marshal(map[string]any{"jupyter": doc.Metadata})
		if err != nil {
			return "", fmt.Errorf("failed to encode header: %w", err)
		}
		b.WriteString(headerFence + "\n")
		for _, line := range splitLines(strings.TrimRight(string(data), "\n")) {
			b.WriteString(comment(line) + "\n")
		}
		b.WriteString(headerFence + "\n\n")
	}

	for i, cell := range doc.Cells {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(markerFor(cell.Kind) + "\n")

		if cell.Source == "" {
			continue
		}
		for _, line := range splitLines(cell.Source) {
			if cell.Kind != notebook.KindCode && cell.Kind != "" {
				line = comment(line)
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String(), nil
}

// parseMarker reports whether line starts a cell and which kind it opens.
func parseMarker(line string) (notebook.CellKind, bool) {
	if !strings.HasPrefix(line, cellMarker) {
		return "", false
	}
	rest := line[len(cellMarker):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '[' {
		// "# %%time" and similar are magics, not markers.
		return "", false
	}

	switch {
	case strings.Contains(rest, "[markdown]"), strings.Contains(rest, "[md]"):
		return notebook.KindMarkdown, true
	case strings.Contains(rest, "[raw]"):
		return notebook.KindRaw, true
	default:
		return notebook.KindCode, true
	}
}

func markerFor(kind notebook.CellKind) string {
	switch kind {
	case notebook.KindMarkdown:
		return cellMarker + " [markdown]"
	case notebook.KindRaw:
		return cellMarker + " [raw]"
	default:
		return cellMarker
	}
}

func comment(line string) string {
	if line == "" {
		return "#"
	}
	return commentSpace + line
}

func uncomment(line string) string {
	switch {
	case strings.HasPrefix(line, commentSpace):
		return line[len(commentSpace):]
	case line == "#":
		return ""
	default:
		return line
	}
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func trimBlank(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := make([]string, end-start)
	copy(out, lines[start:end])
	return out
}
