// Package transport carries protocol commands between the live notebook
// process and its peers.
//
// Two implementations of protocol.Channel are provided: an in-memory Pipe
// for wiring a peer and a session inside one process, and a WebSocket Conn
// for the network. Both move commands through the same JSON encoding.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ascending/ascend/internal/protocol"
)

const pipeBuffer = 64

type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory channels. What one end sends the
// other receives, in order. Closing either end closes both.
func Pipe() (protocol.Channel, protocol.Channel) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return protocol.ErrChannelClosed
	default:
	}

	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return protocol.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (protocol.Command, error) {
	// Deliver whatever was sent before a close.
	select {
	case data := <-p.in:
		return decode(data)
	default:
	}

	select {
	case data := <-p.in:
		return decode(data)
	case <-p.done:
		return protocol.Command{}, protocol.ErrChannelClosed
	case <-ctx.Done():
		return protocol.Command{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func decode(data []byte) (protocol.Command, error) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("failed to decode command: %w", err)
	}
	return cmd, nil
}
