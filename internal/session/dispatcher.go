package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
)

// ErrHandlerPanic is returned by Dispatch when a handler panics.
var ErrHandlerPanic = errors.New("command handler panicked")

// handlerFunc handles one inbound command. reply is the channel the command
// arrived on.
type handlerFunc func(ctx context.Context, cmd protocol.Command, reply protocol.Channel) error

// Dispatcher routes decoded commands to the store, the merge engine and the
// status reporter.
//
// The table is built once and covers every protocol.InboundKinds() entry.
// Anything else is logged and ignored; it never fails and never replies.
type Dispatcher struct {
	store    *notebook.Store
	merge    *MergeEngine
	status   *StatusReporter
	handlers map[protocol.Kind]handlerFunc
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher over store.
//
// If logger is nil, a default logger writing to stderr is used.
func NewDispatcher(store *notebook.Store, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}

	d := &Dispatcher{
		store:  store,
		merge:  NewMergeEngine(store, logger),
		status: NewStatusReporter(store),
		logger: logger,
	}

	d.handlers = map[protocol.Kind]handlerFunc{
		protocol.KindStartSync:        d.handleStartSync,
		protocol.KindInsertCell:       d.handleInsert,
		protocol.KindDeleteCells:      d.handleDelete,
		protocol.KindReplaceCell:      d.handleReplace,
		protocol.KindUpdate:           d.handleReplace,
		protocol.KindExecute:          d.handleExecute,
		protocol.KindExecuteAll:       d.handleExecuteAll,
		protocol.KindGetStatus:        d.handleGetStatus,
		protocol.KindRestartExecution: d.handleRestart,
		protocol.KindFinishMerge:      d.handleFinishMerge,
	}

	return d
}

// Handles reports whether kind has a handler.
func (d *Dispatcher) Handles(kind protocol.Kind) bool {
	_, ok := d.handlers[kind]
	return ok
}

// Merge returns the dispatcher's merge engine.
func (d *Dispatcher) Merge() *MergeEngine {
	return d.merge
}

// Dispatch runs the handler for cmd to completion.
//
// Errors are local to the command: the caller logs them and keeps going.
// A panicking handler is recovered and reported as ErrHandlerPanic.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command, reply protocol.Channel) (err error) {
	handler, ok := d.handlers[cmd.Kind]
	if !ok {
		d.logger.Printf("Ignoring unrecognized command %q", cmd.Kind)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", cmd, ErrHandlerPanic, r)
		}
	}()

	if err := handler(ctx, cmd, reply); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func (d *Dispatcher) handleStartSync(ctx context.Context, cmd protocol.Command, reply protocol.Channel) error {
	return d.merge.Begin(ctx, cmd.Cells, reply)
}

func (d *Dispatcher) handleFinishMerge(ctx context.Context, _ protocol.Command, reply protocol.Channel) error {
	return d.merge.Finish(ctx, reply)
}

func (d *Dispatcher) handleInsert(_ context.Context, cmd protocol.Command, _ protocol.Channel) error {
	index, err := cmd.Index()
	if err != nil {
		return err
	}
	kind := cmd.CellType
	if kind == "" {
		kind = notebook.DefaultKind
	}
	return d.store.Insert(index, kind, cmd.CellContents)
}

func (d *Dispatcher) handleDelete(_ context.Context, cmd protocol.Command, _ protocol.Channel) error {
	d.store.Delete(cmd.CellIndices)
	return nil
}

// handleReplace serves both op_replace_cell and update. A missing cell_type
// keeps the cell's current kind.
func (d *Dispatcher) handleReplace(_ context.Context, cmd protocol.Command, _ protocol.Channel) error {
	index, err := cmd.Index()
	if err != nil {
		return err
	}
	kind := cmd.CellType
	if kind == "" {
		cell, err := d.store.GetOrExtend(index)
		if err != nil {
			return err
		}
		kind = cell.Kind
	}
	return d.store.Replace(index, kind, cmd.CellContents)
}

func (d *Dispatcher) handleExecute(_ context.Context, cmd protocol.Command, _ protocol.Channel) error {
	index, err := cmd.Index()
	if err != nil {
		return err
	}
	return d.store.Execute(index)
}

func (d *Dispatcher) handleExecuteAll(context.Context, protocol.Command, protocol.Channel) error {
	return d.store.ExecuteAll()
}

func (d *Dispatcher) handleRestart(context.Context, protocol.Command, protocol.Channel) error {
	return d.store.Restart()
}

func (d *Dispatcher) handleGetStatus(ctx context.Context, _ protocol.Command, reply protocol.Channel) error {
	return d.status.Send(ctx, reply)
}
