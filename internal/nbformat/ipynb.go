package nbformat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ascending/ascend/internal/notebook"
)

const (
	formatMajor = 4
	formatMinor = 5
)

type ipynb struct {
	Cells         []ipynbCell    `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

type ipynbCell struct {
	CellType       string             `json:"cell_type"`
	ID             string             `json:"id,omitempty"`
	Metadata       map[string]any     `json:"metadata"`
	Source         multiline          `json:"source"`
	Outputs        *[]json.RawMessage `json:"outputs,omitempty"`
	ExecutionCount json.RawMessage    `json:"execution_count,omitempty"`
}

// multiline is nbformat's source field: a string, or a list of strings
// each ending in a newline except the last.
type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("source must be a string or a list of strings: %w", err)
	}
	*m = multiline(strings.Join(parts, ""))
	return nil
}

func (m multiline) MarshalJSON() ([]byte, error) {
	parts := strings.SplitAfter(string(m), "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if parts == nil {
		parts = []string{}
	}
	return json.Marshal(parts)
}

// DecodeNotebook parses nbformat v4 JSON.
func DecodeNotebook(data []byte) (Document, error) {
	var nb ipynb
	if err := json.Unmarshal(data, &nb); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrNotNotebook, err)
	}
	if nb.NBFormat != formatMajor {
		return Document{}, fmt.Errorf("%w: nbformat %d", ErrNotNotebook, nb.NBFormat)
	}

	doc := Document{
		Metadata: nb.Metadata,
		Cells:    make([]notebook.Cell, 0, len(nb.Cells)),
	}
	for i, c := range nb.Cells {
		cell := notebook.Cell{
			Index:   i,
			Kind:    notebook.CellKind(c.CellType),
			Source:  string(c.Source),
			ID:      c.ID,
			Outputs: []json.RawMessage{},
		}
		if !cell.Kind.Valid() {
			cell.Kind = notebook.DefaultKind
		}
		if c.Outputs != nil {
			cell.Outputs = *c.Outputs
		}
		if len(c.ExecutionCount) > 0 {
			var n *int
			if err := json.Unmarshal(c.ExecutionCount, &n); err == nil {
				cell.ExecutionCount = n
			}
		}
		doc.Cells = append(doc.Cells, cell)
	}
	return doc, nil
}

// EncodeNotebook renders doc as nbformat v4 JSON. Cells without an id get a
// fresh one.
func EncodeNotebook(doc Document) ([]byte, error) {
	nb := ipynb{
		Cells:         make([]ipynbCell, 0, len(doc.Cells)),
		Metadata:      doc.Metadata,
		NBFormat:      formatMajor,
		NBFormatMinor: formatMinor,
	}
	if nb.Metadata == nil {
		nb.Metadata = map[string]any{}
	}

	for _, cell := range doc.Cells {
		kind := cell.Kind
		if kind == "" {
			kind = notebook.DefaultKind
		}
		id := cell.ID
		if id == "" {
			id = uuid.NewString()
		}

		c := ipynbCell{
			CellType: string(kind),
			ID:       id,
			Metadata: map[string]any{},
			Source:   multiline(cell.Source),
		}
		if kind == notebook.KindCode {
			outputs := cell.Outputs
			if outputs == nil {
				outputs = []json.RawMessage{}
			}
			c.Outputs = &outputs
			c.ExecutionCount = json.RawMessage("null")
			if cell.ExecutionCount != nil {
				c.ExecutionCount = json.RawMessage(fmt.Sprintf("%d", *cell.ExecutionCount))
			}
		}
		nb.Cells = append(nb.Cells, c)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", " ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(nb); err != nil {
		return nil, fmt.Errorf("failed to encode notebook: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadNotebook reads an .ipynb file.
func ReadNotebook(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read notebook: %w", err)
	}
	doc, err := DecodeNotebook(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// WriteNotebook writes doc to path, replacing it atomically.
func WriteNotebook(path string, doc Document) error {
	data, err := EncodeNotebook(doc)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// ReadScript reads a py:percent file.
func ReadScript(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read script: %w", err)
	}
	doc, err := ParsePercent(string(data))
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
