// Package session runs the live side of a notebook sync: it reads commands
// from any number of peer channels and applies them, one at a time, to a
// single cell store.
package session

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
)

// ErrNoReplyChannel is returned by handlers that must answer but were given
// no channel to answer on.
var ErrNoReplyChannel = errors.New("no reply channel")

// Config holds session configuration.
type Config struct {
	// InboxSize bounds the number of commands queued ahead of the loop.
	InboxSize int

	// Logger for session output. If nil, logs to stderr.
	Logger *log.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		InboxSize: 64,
		Logger:    log.New(os.Stderr, "[session] ", log.LstdFlags),
	}
}

type envelope struct {
	cmd   protocol.Command
	reply protocol.Channel
}

// Session owns the dispatcher for one notebook.
//
// Every channel attached with Serve feeds the same inbox, so commands from
// all peers are applied strictly one after another. Commands from a single
// channel keep their arrival order.
type Session struct {
	ID string

	dispatcher *Dispatcher
	inbox      chan envelope
	logger     *log.Logger

	peers     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// New creates a session over store.
func New(store *notebook.Store, config Config) *Session {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	if config.InboxSize <= 0 {
		config.InboxSize = DefaultConfig().InboxSize
	}

	return &Session{
		ID:         uuid.NewString(),
		dispatcher: NewDispatcher(store, config.Logger),
		inbox:      make(chan envelope, config.InboxSize),
		logger:     config.Logger,
	}
}

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Submit queues cmd for the loop. Replies go to reply, which may be nil for
// commands that never answer.
func (s *Session) Submit(ctx context.Context, cmd protocol.Command, reply protocol.Channel) error {
	select {
	case s.inbox <- envelope{cmd: cmd, reply: reply}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued commands until ctx is cancelled.
//
// A failing command is logged and skipped; the loop never stops on a
// command error.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Printf("Session %s started", s.ID)
	defer func() {
		s.logger.Printf("Session %s stopped (%d commands, %d failed)", s.ID, s.processed.Load(), s.failed.Load())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-s.inbox:
			s.processed.Add(1)
			if err := s.dispatcher.Dispatch(ctx, env.cmd, env.reply); err != nil {
				s.failed.Add(1)
				s.logger.Printf("Error: %v", err)
			}
		}
	}
}

// Serve reads commands from ch and submits them until the channel closes or
// ctx is cancelled. Malformed commands are logged and dropped.
func (s *Session) Serve(ctx context.Context, ch protocol.Channel) error {
	s.peers.Add(1)
	defer s.peers.Add(-1)

	for {
		cmd, err := ch.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrChannelClosed):
				return nil
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, protocol.ErrMalformed):
				s.logger.Printf("Dropping command: %v", err)
				continue
			default:
				return err
			}
		}

		if err := s.Submit(ctx, cmd, ch); err != nil {
			return nil
		}
	}
}

// Stats is a point-in-time view of session activity.
type Stats struct {
	ID        string `json:"id"`
	Peers     int64  `json:"peers"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Merging   bool   `json:"merging"`
}

// Stats returns current counters.
func (s *Session) Stats() Stats {
	return Stats{
		ID:        s.ID,
		Peers:     s.peers.Load(),
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Merging:   s.dispatcher.merge.Pending(),
	}
}
