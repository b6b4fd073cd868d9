// Package protocol defines the sync command protocol exchanged between a live
// notebook session and an external peer.
//
// Every message is a JSON object whose "command" field names its Kind:
//
//	{"command": "op_insert_cell", "cell_number": 0, "cell_type": "code", "cell_contents": "x = 1"}
//	{"command": "op_delete_cells", "cell_indices": [0, 2]}
//	{"command": "merge_complete"}
//
// Kinds are a closed set. Inbound kinds are handled by the session, outbound
// kinds are replies the session sends back to the peer.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ascending/ascend/internal/notebook"
)

// Kind names a command.
type Kind string

// Inbound kinds, handled by the session.
const (
	KindStartSync        Kind = "start_sync"
	KindInsertCell       Kind = "op_insert_cell"
	KindDeleteCells      Kind = "op_delete_cells"
	KindReplaceCell      Kind = "op_replace_cell"
	KindUpdate           Kind = "update"
	KindExecute          Kind = "execute"
	KindExecuteAll       Kind = "execute_all"
	KindGetStatus        Kind = "get_status"
	KindRestartExecution Kind = "restart_execution"
	KindFinishMerge      Kind = "finish_merge"
)

// Outbound kinds, sent by the session.
const (
	KindMergeNotebooks Kind = "merge_notebooks"
	KindUpdateStatus   Kind = "update_status"
	KindMergeComplete  Kind = "merge_complete"
)

var inboundKinds = []Kind{
	KindStartSync,
	KindInsertCell,
	KindDeleteCells,
	KindReplaceCell,
	KindUpdate,
	KindExecute,
	KindExecuteAll,
	KindGetStatus,
	KindRestartExecution,
	KindFinishMerge,
}

var outboundKinds = []Kind{
	KindMergeNotebooks,
	KindUpdateStatus,
	KindMergeComplete,
}

// InboundKinds returns every kind the session must handle.
func InboundKinds() []Kind {
	return append([]Kind(nil), inboundKinds...)
}

// OutboundKinds returns every kind the session may send.
func OutboundKinds() []Kind {
	return append([]Kind(nil), outboundKinds...)
}

// IsInbound reports whether k is handled by the session.
func (k Kind) IsInbound() bool {
	for _, in := range inboundKinds {
		if k == in {
			return true
		}
	}
	return false
}

// IsOutbound reports whether k is a session reply.
func (k Kind) IsOutbound() bool {
	for _, out := range outboundKinds {
		if k == out {
			return true
		}
	}
	return false
}

// Command is a single protocol message. Only the fields relevant to Kind are
// set; the rest stay at their zero value and are omitted on the wire.
type Command struct {
	Kind Kind `json:"command"`

	// FileName optionally names the synced file the command concerns.
	FileName string `json:"file_name,omitempty"`

	// Point mutations.
	CellNumber   *int              `json:"cell_number,omitempty"`
	CellType     notebook.CellKind `json:"cell_type,omitempty"`
	CellContents string            `json:"cell_contents,omitempty"`
	CellIndices  []int             `json:"cell_indices,omitempty"`

	// start_sync
	Cells []notebook.Cell `json:"cells,omitempty"`

	// merge_notebooks
	LiveCells     []notebook.Cell `json:"live_cells,omitempty"`
	ExternalCells []notebook.Cell `json:"external_cells,omitempty"`

	// update_status
	Status []notebook.Cell `json:"status,omitempty"`
}

// Index returns the cell_number payload, or ErrMalformed if it is missing.
func (c Command) Index() (int, error) {
	if c.CellNumber == nil {
		return 0, fmt.Errorf("%s: %w: missing cell_number", c.Kind, ErrMalformed)
	}
	return *c.CellNumber, nil
}

// String returns a short description for logs.
func (c Command) String() string {
	switch c.Kind {
	case KindInsertCell, KindReplaceCell, KindUpdate:
		return fmt.Sprintf("%s[%s@%s]", c.Kind, c.CellType, indexString(c.CellNumber))
	case KindExecute:
		return fmt.Sprintf("%s[%s]", c.Kind, indexString(c.CellNumber))
	case KindDeleteCells:
		return fmt.Sprintf("%s%v", c.Kind, c.CellIndices)
	case KindStartSync:
		return fmt.Sprintf("%s[%d cells]", c.Kind, len(c.Cells))
	case KindMergeNotebooks:
		return fmt.Sprintf("%s[live=%d external=%d]", c.Kind, len(c.LiveCells), len(c.ExternalCells))
	case KindUpdateStatus:
		return fmt.Sprintf("%s[%d cells]", c.Kind, len(c.Status))
	default:
		return string(c.Kind)
	}
}

func indexString(i *int) string {
	if i == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *i)
}

// Decode parses a wire message.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cmd.Kind == "" {
		return Command{}, fmt.Errorf("%w: missing command field", ErrMalformed)
	}
	return cmd, nil
}

// Encode serializes a command for the wire.
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", cmd.Kind, err)
	}
	return data, nil
}

func intPtr(i int) *int { return &i }

// StartSync builds a start_sync command carrying the external cell list.
func StartSync(fileName string, cells []notebook.Cell) Command {
	return Command{Kind: KindStartSync, FileName: fileName, Cells: notebook.StripOutputs(cells)}
}

// InsertCell builds an op_insert_cell command.
func InsertCell(index int, kind notebook.CellKind, contents string) Command {
	return Command{Kind: KindInsertCell, CellNumber: intPtr(index), CellType: kind, CellContents: contents}
}

// DeleteCells builds an op_delete_cells command.
func DeleteCells(indices ...int) Command {
	return Command{Kind: KindDeleteCells, CellIndices: append([]int{}, indices...)}
}

// ReplaceCell builds an op_replace_cell command.
func ReplaceCell(index int, kind notebook.CellKind, contents string) Command {
	return Command{Kind: KindReplaceCell, CellNumber: intPtr(index), CellType: kind, CellContents: contents}
}

// Execute builds an execute command.
func Execute(index int) Command {
	return Command{Kind: KindExecute, CellNumber: intPtr(index)}
}

// Simple builds a command without payload (execute_all, get_status, ...).
func Simple(kind Kind) Command {
	return Command{Kind: kind}
}

// MergeNotebooks builds the merge request sent to the peer.
func MergeNotebooks(live, external []notebook.Cell) Command {
	return Command{
		Kind:          KindMergeNotebooks,
		LiveCells:     live,
		ExternalCells: external,
	}
}

// UpdateStatus builds the status reply.
func UpdateStatus(cells []notebook.Cell) Command {
	return Command{Kind: KindUpdateStatus, Status: cells}
}
