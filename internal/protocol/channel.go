package protocol

import (
	"context"
	"errors"
)

// Common protocol errors.
var (
	// ErrChannelClosed is returned by Send and Receive once the channel is
	// closed. No further commands will arrive.
	ErrChannelClosed = errors.New("channel closed")

	// ErrMalformed is returned for commands that cannot be decoded or lack
	// a required payload field.
	ErrMalformed = errors.New("malformed command")
)

// Channel is a reliable, ordered, bidirectional command transport.
//
// Commands are delivered in sender order. Send may be called concurrently
// with Receive, but each of them must only be called from one goroutine at
// a time.
type Channel interface {
	// Send transmits a command to the other side.
	//
	// Returns ErrChannelClosed if the channel is closed.
	Send(ctx context.Context, cmd Command) error

	// Receive blocks until the next command arrives, the context is
	// cancelled, or the channel is closed (ErrChannelClosed).
	Receive(ctx context.Context) (Command, error)

	// Close closes the channel. It is safe to call more than once.
	Close() error
}
