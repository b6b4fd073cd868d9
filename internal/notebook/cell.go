// Package notebook provides the cell model and the CellStore that owns a live
// session's ordered cell sequence.
//
// # Overview
//
// A notebook is an ordered sequence of cells indexed 0..N-1 with no gaps.
// Every mutating Store operation leaves cells[i].Index == i for all i.
//
// The live sequence itself belongs to a Host (a notebook UI, or the in-memory
// MemoryHost). Store implements the sync protocol's mutation primitives purely
// in terms of the Host and Kernel interfaces, so any host can be plugged in:
//
//	host := notebook.NewMemoryHost(nil)
//	store := notebook.NewStore(host, kernel, logger)
//
//	_ = store.Insert(0, notebook.KindCode, "x = 1")
//	_ = store.Replace(0, notebook.KindMarkdown, "# Title")
//	cells := store.Snapshot() // outputs stripped
//
// # Outputs
//
// Outputs are session-local execution state. They never take part in
// comparisons and are cleared from every Snapshot.
package notebook

import (
	"encoding/json"
)

// CellKind is the type of a cell.
type CellKind string

const (
	// KindCode is an executable code cell.
	KindCode CellKind = "code"
	// KindMarkdown is a rendered markdown cell.
	KindMarkdown CellKind = "markdown"
	// KindRaw is an unrendered, unexecuted cell.
	KindRaw CellKind = "raw"
)

// DefaultKind is the kind of placeholder cells created by backfill.
const DefaultKind = KindCode

// Valid reports whether the kind is one the store knows how to handle.
func (k CellKind) Valid() bool {
	switch k {
	case KindCode, KindMarkdown, KindRaw:
		return true
	default:
		return false
	}
}

// Cell is a single addressable unit of notebook content.
type Cell struct {
	Index  int      `json:"index"`
	Kind   CellKind `json:"cell_type"`
	Source string   `json:"source"`

	// Outputs are opaque records produced by executing a code cell.
	Outputs []json.RawMessage `json:"outputs"`

	ExecutionCount *int   `json:"execution_count,omitempty"`
	ID             string `json:"id,omitempty"`

	// NeedsRender marks a markdown cell whose rendering is stale.
	NeedsRender bool `json:"-"`
}

// Key returns the comparison key of the cell: kind and source, never outputs.
func (c Cell) Key() string {
	return string(c.Kind) + "::::" + c.Source
}

// ContentEquals reports whether two cells agree on index, kind and source.
func (c Cell) ContentEquals(o Cell) bool {
	return c.Index == o.Index && c.Kind == o.Kind && c.Source == o.Source
}

// WithoutOutputs returns a structural copy of the cell with outputs cleared.
func (c Cell) WithoutOutputs() Cell {
	out := c
	out.Outputs = []json.RawMessage{}
	if c.ExecutionCount != nil {
		n := *c.ExecutionCount
		out.ExecutionCount = &n
	}
	return out
}

// StripOutputs copies cells with every cell's outputs cleared.
func StripOutputs(cells []Cell) []Cell {
	out := make([]Cell, len(cells))
	for i, c := range cells {
		out[i] = c.WithoutOutputs()
	}
	return out
}

// Renumber rewrites Index so that cells[i].Index == i.
func Renumber(cells []Cell) {
	for i := range cells {
		cells[i].Index = i
	}
}
