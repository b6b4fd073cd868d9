package session

import (
	"context"
	"fmt"

	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
)

// StatusReporter transmits the live cells, outputs stripped.
type StatusReporter struct {
	store *notebook.Store
}

// NewStatusReporter creates a reporter over store.
func NewStatusReporter(store *notebook.Store) *StatusReporter {
	return &StatusReporter{store: store}
}

// Send transmits an update_status command on reply. It never mutates.
func (r *StatusReporter) Send(ctx context.Context, reply protocol.Channel) error {
	if reply == nil {
		return ErrNoReplyChannel
	}
	if err := reply.Send(ctx, protocol.UpdateStatus(r.store.Snapshot())); err != nil {
		return fmt.Errorf("failed to send status: %w", err)
	}
	return nil
}
