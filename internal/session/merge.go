package session

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
)

// MergeEngine runs the start-of-sync handshake.
//
// The live side does not diff cells itself. On start_sync it sends both cell
// lists to the peer as merge_notebooks; the peer answers with ordinary point
// mutations followed by finish_merge, which is acknowledged with
// merge_complete. Nothing is reconciled implicitly afterwards.
type MergeEngine struct {
	store  *notebook.Store
	logger *log.Logger

	pending atomic.Bool
	started time.Time
}

// NewMergeEngine creates a merge engine over store.
func NewMergeEngine(store *notebook.Store, logger *log.Logger) *MergeEngine {
	return &MergeEngine{store: store, logger: logger}
}

// Begin sends the live snapshot and the external cells to the peer.
func (m *MergeEngine) Begin(ctx context.Context, external []notebook.Cell, reply protocol.Channel) error {
	if reply == nil {
		return ErrNoReplyChannel
	}
	if m.pending.Load() {
		m.logger.Printf("Warning: start_sync while a merge started %v ago is still pending", time.Since(m.started).Round(time.Millisecond))
	}

	live := m.store.Snapshot()
	ext := notebook.StripOutputs(external)
	notebook.Renumber(ext)

	m.logger.Printf("Starting merge: %d live cells, %d external cells", len(live), len(ext))

	if err := reply.Send(ctx, protocol.MergeNotebooks(live, ext)); err != nil {
		return fmt.Errorf("failed to send merge request: %w", err)
	}

	m.pending.Store(true)
	m.started = time.Now()
	return nil
}

// Finish acknowledges the end of the peer's mutations with merge_complete.
func (m *MergeEngine) Finish(ctx context.Context, reply protocol.Channel) error {
	if reply == nil {
		return ErrNoReplyChannel
	}
	if m.pending.Load() {
		m.logger.Printf("Merge finished in %v (%d cells)", time.Since(m.started).Round(time.Millisecond), m.store.Len())
	} else {
		m.logger.Println("Warning: finish_merge without a pending start_sync")
	}
	m.pending.Store(false)

	if err := reply.Send(ctx, protocol.Simple(protocol.KindMergeComplete)); err != nil {
		return fmt.Errorf("failed to send merge_complete: %w", err)
	}
	return nil
}

// Pending reports whether a start_sync is awaiting finish_merge.
func (m *MergeEngine) Pending() bool {
	return m.pending.Load()
}
