package notebook

// Host is the live notebook session that owns the cell sequence.
//
// A Host is typically a notebook UI. The Store never touches cells other than
// through these methods, which makes the host pluggable and easy to fake.
//
// Implementations must keep the sequence contiguous: after InsertCell or
// DeleteCells, Cells()[i].Index == i.
type Host interface {
	// Len returns the number of cells in the live sequence.
	Len() int

	// Cell returns a copy of the cell at index i.
	// Returns false if no cell exists at i.
	Cell(i int) (Cell, bool)

	// Cells returns a copy of the whole sequence in order.
	Cells() []Cell

	// InsertCell inserts an empty cell of the given kind at index i,
	// shifting cells at or after i up by one. An index equal to Len()
	// appends.
	InsertCell(i int, kind CellKind) error

	// SetSource overwrites the source of the cell at index i.
	SetSource(i int, source string) error

	// DeleteCells removes the cells at the given indices and renumbers the
	// rest. Indices that do not exist are ignored.
	DeleteCells(indices []int)

	// CellsToKind converts the cells at the given indices to kind.
	// A converted cell loses its outputs.
	CellsToKind(indices []int, kind CellKind) error

	// Render marks or performs a re-render of the cell at index i.
	// Hosts without rendering treat it as a no-op.
	Render(i int) error
}

// Resizer is implemented by hosts that can grow the sequence in one step.
//
// Store uses it for backfill when available, and falls back to a bounded
// number of InsertCell calls otherwise.
type Resizer interface {
	// Resize appends empty cells of kind until Len() == n.
	// It never shrinks the sequence.
	Resize(n int, kind CellKind) error
}

// Focuser is implemented by hosts that can move the user's focus to a cell.
type Focuser interface {
	Focus(i int) error
}

// Kernel is the execution collaborator.
//
// Requests are fire-and-forget intents: the kernel replies asynchronously, if
// at all, through its own channel. None of these calls should block on the
// actual execution.
type Kernel interface {
	// Execute requests execution of the cell at index.
	Execute(index int, cell Cell) error

	// ExecuteAll requests execution of every cell in current order.
	ExecuteAll(cells []Cell) error

	// Restart requests a kernel restart.
	Restart() error
}
