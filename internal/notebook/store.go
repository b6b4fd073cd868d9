package notebook

import (
	"fmt"
	"log"
	"os"
)

// DefaultMaxCells bounds how far a single command may backfill the notebook.
const DefaultMaxCells = 10000

// Store is the single source of truth for the live notebook's ordered cells.
//
// It must only be driven from one goroutine at a time; the session loop
// guarantees that by dispatching commands one after another.
type Store struct {
	host   Host
	kernel Kernel
	logger *log.Logger

	maxCells int
}

// NewStore creates a Store over host. kernel may be nil, in which case
// execution requests fail with ErrNoKernel.
//
// If logger is nil, a default logger writing to stderr is used.
func NewStore(host Host, kernel Kernel, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[notebook] ", log.LstdFlags)
	}
	return &Store{
		host:     host,
		kernel:   kernel,
		logger:   logger,
		maxCells: DefaultMaxCells,
	}
}

// SetMaxCells changes the backfill limit. n <= 0 restores DefaultMaxCells.
func (s *Store) SetMaxCells(n int) {
	if n <= 0 {
		n = DefaultMaxCells
	}
	s.maxCells = n
}

// Len returns the current number of cells.
func (s *Store) Len() int {
	return s.host.Len()
}

// GetOrExtend returns the cell at index, backfilling empty placeholder cells
// at the end of the sequence when it is too short.
//
// Backfill is an explicit policy, not an error path: peers may reference an
// index before the cells preceding it exist.
func (s *Store) GetOrExtend(index int) (Cell, error) {
	if index < 0 {
		return Cell{}, invalidIndex("get", index, "negative index")
	}
	if index >= s.maxCells {
		return Cell{}, invalidIndex("get", index, "exceeds max cells")
	}
	if cell, ok := s.host.Cell(index); ok {
		return cell, nil
	}

	if err := s.resize(index + 1); err != nil {
		return Cell{}, fmt.Errorf("failed to backfill to %d cells: %w", index+1, err)
	}

	cell, ok := s.host.Cell(index)
	if !ok {
		return Cell{}, invalidIndex("get", index, "host has no cell after backfill")
	}
	return cell, nil
}

// resize grows the sequence to n cells in one bounded step.
func (s *Store) resize(n int) error {
	start := s.host.Len()
	missing := n - start
	if missing <= 0 {
		return nil
	}

	s.logger.Printf("Backfilling %d placeholder cell(s) to reach %d", missing, n)

	if r, ok := s.host.(Resizer); ok {
		return r.Resize(n, DefaultKind)
	}
	for k := 0; k < missing; k++ {
		if err := s.host.InsertCell(start+k, DefaultKind); err != nil {
			return err
		}
	}
	return nil
}

// Replace overwrites the content of the cell at index, converting its kind
// when it differs. Markdown results are marked for re-render.
func (s *Store) Replace(index int, kind CellKind, content string) error {
	if !kind.Valid() {
		return fmt.Errorf("replace %d: %w: %q", index, ErrInvalidKind, kind)
	}

	cell, err := s.GetOrExtend(index)
	if err != nil {
		return err
	}

	if err := s.host.SetSource(index, content); err != nil {
		return fmt.Errorf("failed to set source of cell %d: %w", index, err)
	}

	if cell.Kind != kind {
		s.logger.Printf("Converting cell %d: %s -> %s", index, cell.Kind, kind)
		if err := s.host.CellsToKind([]int{index}, kind); err != nil {
			return fmt.Errorf("failed to convert cell %d to %s: %w", index, kind, err)
		}
	}

	if kind == KindMarkdown {
		if err := s.host.Render(index); err != nil {
			return fmt.Errorf("failed to render cell %d: %w", index, err)
		}
	}
	return nil
}

// Insert inserts a new cell at index, shifting every cell at or after index
// up by one. An index past the end backfills up to index first, so the new
// cell always lands at index.
func (s *Store) Insert(index int, kind CellKind, content string) error {
	if index < 0 {
		return invalidIndex("insert", index, "negative index")
	}
	if index >= s.maxCells {
		return invalidIndex("insert", index, "exceeds max cells")
	}
	if !kind.Valid() {
		return fmt.Errorf("insert %d: %w: %q", index, ErrInvalidKind, kind)
	}

	if err := s.resize(index); err != nil {
		return fmt.Errorf("failed to backfill to %d cells: %w", index, err)
	}

	if err := s.host.InsertCell(index, kind); err != nil {
		return fmt.Errorf("failed to insert cell at %d: %w", index, err)
	}
	if err := s.host.SetSource(index, content); err != nil {
		return fmt.Errorf("failed to set source of cell %d: %w", index, err)
	}

	if kind == KindMarkdown {
		if err := s.host.Render(index); err != nil {
			return fmt.Errorf("failed to render cell %d: %w", index, err)
		}
	}
	return nil
}

// Delete removes every cell whose current index is in indices and renumbers
// the survivors. Indices that do not exist are skipped, so Delete is
// order-independent and idempotent per index.
func (s *Store) Delete(indices []int) {
	n := s.host.Len()
	seen := make(map[int]bool, len(indices))
	valid := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		valid = append(valid, i)
	}
	if len(valid) == 0 {
		return
	}

	s.logger.Printf("Deleting cells %v", valid)
	s.host.DeleteCells(valid)
}

// Execute resolves the cell at index and forwards an execute intent to the
// kernel. The host, if it can, is asked to focus the cell afterwards.
func (s *Store) Execute(index int) error {
	cell, err := s.GetOrExtend(index)
	if err != nil {
		return err
	}
	if s.kernel == nil {
		return fmt.Errorf("execute %d: %w", index, ErrNoKernel)
	}

	if err := s.kernel.Execute(index, cell.WithoutOutputs()); err != nil {
		return fmt.Errorf("failed to execute cell %d: %w", index, err)
	}

	if f, ok := s.host.(Focuser); ok {
		if err := f.Focus(index); err != nil {
			s.logger.Printf("Warning: failed to focus cell %d: %v", index, err)
		}
	}
	return nil
}

// ExecuteAll forwards a run-everything intent to the kernel in current order.
func (s *Store) ExecuteAll() error {
	if s.kernel == nil {
		return fmt.Errorf("execute all: %w", ErrNoKernel)
	}
	if err := s.kernel.ExecuteAll(s.Snapshot()); err != nil {
		return fmt.Errorf("failed to execute all cells: %w", err)
	}
	return nil
}

// Restart forwards a restart intent to the kernel.
func (s *Store) Restart() error {
	if s.kernel == nil {
		return fmt.Errorf("restart: %w", ErrNoKernel)
	}
	if err := s.kernel.Restart(); err != nil {
		return fmt.Errorf("failed to restart kernel: %w", err)
	}
	return nil
}

// Snapshot copies the current sequence with every cell's outputs cleared.
// It has no side effects.
func (s *Store) Snapshot() []Cell {
	return StripOutputs(s.host.Cells())
}
