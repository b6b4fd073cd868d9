package notebook

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryHost is an in-memory Host.
//
// It backs the standalone session server and the tests. It is safe for
// concurrent use; the session loop mutates it while the health endpoint and
// the autosave loop read it.
type MemoryHost struct {
	mu      sync.RWMutex
	cells   []Cell
	focused int
	dirty   bool
}

// NewMemoryHost creates a host holding a copy of cells, renumbered.
func NewMemoryHost(cells []Cell) *MemoryHost {
	h := &MemoryHost{focused: -1}
	h.cells = make([]Cell, len(cells))
	for i, c := range cells {
		h.cells[i] = cloneCell(c)
		if !h.cells[i].Kind.Valid() {
			h.cells[i].Kind = DefaultKind
		}
	}
	Renumber(h.cells)
	return h
}

// Len implements Host.
func (h *MemoryHost) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cells)
}

// Cell implements Host.
func (h *MemoryHost) Cell(i int) (Cell, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if i < 0 || i >= len(h.cells) {
		return Cell{}, false
	}
	return cloneCell(h.cells[i]), true
}

// Cells implements Host.
func (h *MemoryHost) Cells() []Cell {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Cell, len(h.cells))
	for i, c := range h.cells {
		out[i] = cloneCell(c)
	}
	return out
}

// InsertCell implements Host.
func (h *MemoryHost) InsertCell(i int, kind CellKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i < 0 || i > len(h.cells) {
		return fmt.Errorf("insert at %d outside [0, %d]", i, len(h.cells))
	}

	cell := Cell{Kind: kind, Outputs: []json.RawMessage{}}
	h.cells = append(h.cells, Cell{})
	copy(h.cells[i+1:], h.cells[i:])
	h.cells[i] = cell
	Renumber(h.cells)
	h.dirty = true
	return nil
}

// SetSource implements Host.
func (h *MemoryHost) SetSource(i int, source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i < 0 || i >= len(h.cells) {
		return fmt.Errorf("no cell at %d", i)
	}
	h.cells[i].Source = source
	h.dirty = true
	return nil
}

// DeleteCells implements Host.
func (h *MemoryHost) DeleteCells(indices []int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(h.cells) {
			drop[i] = true
		}
	}
	if len(drop) == 0 {
		return
	}

	kept := h.cells[:0]
	for i, c := range h.cells {
		if !drop[i] {
			kept = append(kept, c)
		}
	}
	// Clear the tail so dropped cells can be collected.
	for i := len(kept); i < len(h.cells); i++ {
		h.cells[i] = Cell{}
	}
	h.cells = kept
	Renumber(h.cells)
	h.dirty = true
}

// CellsToKind implements Host.
func (h *MemoryHost) CellsToKind(indices []int, kind CellKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	for _, i := range sorted {
		if i < 0 || i >= len(h.cells) {
			return fmt.Errorf("no cell at %d", i)
		}
		if h.cells[i].Kind == kind {
			continue
		}
		h.cells[i].Kind = kind
		h.cells[i].Outputs = []json.RawMessage{}
		h.cells[i].ExecutionCount = nil
		h.cells[i].NeedsRender = false
	}
	h.dirty = true
	return nil
}

// Render implements Host. Markdown cells get their render mark set; the
// memory host has nothing to draw.
func (h *MemoryHost) Render(i int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i < 0 || i >= len(h.cells) {
		return fmt.Errorf("no cell at %d", i)
	}
	if h.cells[i].Kind == KindMarkdown {
		h.cells[i].NeedsRender = true
	}
	return nil
}

// Resize implements Resizer.
func (h *MemoryHost) Resize(n int, kind CellKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= len(h.cells) {
		return nil
	}
	grown := make([]Cell, n)
	copy(grown, h.cells)
	for i := len(h.cells); i < n; i++ {
		grown[i] = Cell{Index: i, Kind: kind, Outputs: []json.RawMessage{}}
	}
	h.cells = grown
	h.dirty = true
	return nil
}

// Focus implements Focuser.
func (h *MemoryHost) Focus(i int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused = i
	return nil
}

// Focused returns the last focused index, or -1.
func (h *MemoryHost) Focused() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.focused
}

// SetOutputs records outputs for a cell. Kernels call it when execution
// results arrive.
func (h *MemoryHost) SetOutputs(i int, outputs []json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i < 0 || i >= len(h.cells) {
		return fmt.Errorf("no cell at %d", i)
	}
	h.cells[i].Outputs = append([]json.RawMessage(nil), outputs...)
	h.dirty = true
	return nil
}

// Dirty reports whether the sequence changed since the last MarkClean.
func (h *MemoryHost) Dirty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dirty
}

// MarkClean resets the dirty flag.
func (h *MemoryHost) MarkClean() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty = false
}

func cloneCell(c Cell) Cell {
	out := c
	if c.Outputs != nil {
		out.Outputs = make([]json.RawMessage, len(c.Outputs))
		for i, o := range c.Outputs {
			out.Outputs[i] = append(json.RawMessage(nil), o...)
		}
	}
	if c.ExecutionCount != nil {
		n := *c.ExecutionCount
		out.ExecutionCount = &n
	}
	return out
}
