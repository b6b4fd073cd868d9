// Package client implements the peer side of the sync protocol: it pushes an
// external notebook into a live session and forwards execution requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ascending/ascend/internal/merge"
	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
)

// ErrMergeTimeout is returned when the live session does not answer a merge
// step within Config.MergeTimeout.
var ErrMergeTimeout = errors.New("timed out waiting for live session")

// Config holds client configuration.
type Config struct {
	// MergeTimeout bounds each wait during Sync (default: 5s).
	MergeTimeout time.Duration

	// Logger for client output. If nil, logs to stderr.
	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		MergeTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[client] ", log.LstdFlags),
	}
}

// Client talks to one live session over a channel. It is not safe for
// concurrent use.
type Client struct {
	ch     protocol.Channel
	config Config
	logger *log.Logger
}

// New creates a client over ch.
func New(ch protocol.Channel, config Config) *Client {
	if config.MergeTimeout <= 0 {
		config.MergeTimeout = DefaultConfig().MergeTimeout
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}
	return &Client{ch: ch, config: config, logger: config.Logger}
}

// SyncResult summarizes one Sync.
type SyncResult struct {
	LiveCells     int
	ExternalCells int
	Operations    int
	Duration      time.Duration
}

// Sync makes the live notebook match external.
//
// It sends start_sync, plans mutations from the merge_notebooks answer, sends
// them followed by finish_merge, and waits for merge_complete.
func (c *Client) Sync(ctx context.Context, fileName string, external []notebook.Cell) (SyncResult, error) {
	start := time.Now()

	if err := c.ch.Send(ctx, protocol.StartSync(fileName, external)); err != nil {
		return SyncResult{}, fmt.Errorf("failed to start sync: %w", err)
	}

	req, err := c.await(ctx, protocol.KindMergeNotebooks)
	if err != nil {
		return SyncResult{}, err
	}

	ops := merge.Plan(req.LiveCells, req.ExternalCells)
	c.logger.Printf("Merging %s: %d live cells, %d external cells, %d operations",
		fileName, len(req.LiveCells), len(req.ExternalCells), len(ops))

	for _, op := range ops {
		if err := c.ch.Send(ctx, op); err != nil {
			return SyncResult{}, fmt.Errorf("failed to send %s: %w", op, err)
		}
	}
	if err := c.ch.Send(ctx, protocol.Simple(protocol.KindFinishMerge)); err != nil {
		return SyncResult{}, fmt.Errorf("failed to finish merge: %w", err)
	}

	if _, err := c.await(ctx, protocol.KindMergeComplete); err != nil {
		return SyncResult{}, err
	}

	return SyncResult{
		LiveCells:     len(req.LiveCells),
		ExternalCells: len(req.ExternalCells),
		Operations:    len(ops),
		Duration:      time.Since(start),
	}, nil
}

// Execute asks the live session to run one cell. It does not wait for the
// kernel.
func (c *Client) Execute(ctx context.Context, index int) error {
	return c.send(ctx, protocol.Execute(index))
}

// ExecuteAll asks the live session to run every cell.
func (c *Client) ExecuteAll(ctx context.Context) error {
	return c.send(ctx, protocol.Simple(protocol.KindExecuteAll))
}

// Restart asks the live session to restart its kernel.
func (c *Client) Restart(ctx context.Context) error {
	return c.send(ctx, protocol.Simple(protocol.KindRestartExecution))
}

// Status returns the live cells, outputs stripped.
func (c *Client) Status(ctx context.Context) ([]notebook.Cell, error) {
	if err := c.send(ctx, protocol.Simple(protocol.KindGetStatus)); err != nil {
		return nil, err
	}
	reply, err := c.await(ctx, protocol.KindUpdateStatus)
	if err != nil {
		return nil, err
	}
	return reply.Status, nil
}

// Close closes the underlying channel.
func (c *Client) Close() error {
	return c.ch.Close()
}

func (c *Client) send(ctx context.Context, cmd protocol.Command) error {
	if err := c.ch.Send(ctx, cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	return nil
}

// await receives until a command of kind arrives. Other kinds are logged and
// skipped.
func (c *Client) await(ctx context.Context, kind protocol.Kind) (protocol.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.MergeTimeout)
	defer cancel()

	for {
		cmd, err := c.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return protocol.Command{}, fmt.Errorf("%w after %v (expecting %s)", ErrMergeTimeout, c.config.MergeTimeout, kind)
			}
			if errors.Is(err, protocol.ErrMalformed) {
				c.logger.Printf("Warning: skipping reply: %v", err)
				continue
			}
			return protocol.Command{}, fmt.Errorf("failed waiting for %s: %w", kind, err)
		}
		if cmd.Kind == kind {
			return cmd, nil
		}
		c.logger.Printf("Warning: expected %s, skipping %s", kind, cmd)
	}
}
