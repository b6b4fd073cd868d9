// Package loadtest drives a live session with many concurrent peers.
//
// Peers push randomly edited versions of a generated notebook while others
// poll its status. After the run a single sync must still bring the notebook
// to an exact known state, however the concurrent merges interleaved.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ascending/ascend/internal/client"
	"github.com/ascending/ascend/internal/merge"
	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
	"github.com/ascending/ascend/internal/session"
	"github.com/ascending/ascend/internal/transport"
)

// Config describes a run.
type Config struct {
	// Cells is the size of the generated notebook.
	Cells int

	// Peers is the number of concurrent peers.
	Peers int

	// Rounds is the number of requests each peer makes.
	Rounds int

	// Edits is the number of random edits per pushed version.
	Edits int

	// Network runs peers over WebSocket instead of in-memory pipes.
	Network bool

	// Seed makes generated notebooks and edits reproducible.
	Seed int64

	// Logger for the session and peers. Defaults to discarding.
	Logger *log.Logger
}

// DefaultConfig returns a small run.
func DefaultConfig() Config {
	return Config{
		Cells:  50,
		Peers:  10,
		Rounds: 5,
		Edits:  3,
		Seed:   42,
	}
}

// LatencyStats captures request latencies of a run.
type LatencyStats struct {
	Min      time.Duration
	Max      time.Duration
	Mean     time.Duration
	P50      time.Duration // Median
	P95      time.Duration
	P99      time.Duration
	Requests int
	Errors   int
}

// Harness is a live session over an in-memory host.
type Harness struct {
	Host    *notebook.MemoryHost
	Session *session.Session

	config Config
	server *transport.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHarness starts a session holding a generated notebook.
func NewHarness(config Config) (*Harness, error) {
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	if config.Peers <= 0 || config.Rounds <= 0 {
		return nil, fmt.Errorf("peers and rounds must be positive")
	}

	host := notebook.NewMemoryHost(GenerateCells(config.Cells, config.Seed))
	store := notebook.NewStore(host, notebook.NewLogKernel(config.Logger), config.Logger)
	sess := session.New(store, session.Config{
		InboxSize: config.Peers * 4,
		Logger:    config.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &Harness{
		Host:    host,
		Session: sess,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = sess.Run(ctx)
	}()

	if config.Network {
		server := transport.NewServer(sess.Serve, &transport.Config{
			Addr:   "127.0.0.1:0",
			Logger: config.Logger,
		})
		if err := server.Start(); err != nil {
			h.Close()
			return nil, err
		}
		h.server = server
	}

	return h, nil
}

// Close stops the session.
func (h *Harness) Close() {
	if h.server != nil {
		_ = h.server.Stop()
	}
	h.cancel()
	h.wg.Wait()
}

// Connect returns a client attached to the session.
func (h *Harness) Connect(ctx context.Context) (*client.Client, error) {
	var ch protocol.Channel
	if h.server != nil {
		conn, err := transport.Dial(ctx, h.server.URL())
		if err != nil {
			return nil, err
		}
		ch = conn
	} else {
		peer, sessionEnd := transport.Pipe()
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			_ = h.Session.Serve(h.ctx, sessionEnd)
		}()
		ch = peer
	}
	return client.New(ch, client.Config{Logger: h.config.Logger}), nil
}

// RunConcurrentSyncs has every peer push Rounds edited versions of the
// notebook while polling its status in between.
func (h *Harness) RunConcurrentSyncs(ctx context.Context) (*LatencyStats, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		errs      int
	)

	base := GenerateCells(h.config.Cells, h.config.Seed)

	for i := 0; i < h.config.Peers; i++ {
		wg.Add(1)
		go func(peerID int) {
			defer wg.Done()

			c, err := h.Connect(ctx)
			if err != nil {
				mu.Lock()
				errs++
				mu.Unlock()
				return
			}
			defer c.Close()

			rng := rand.New(rand.NewSource(h.config.Seed + int64(peerID) + 1))
			local := make([]time.Duration, 0, h.config.Rounds*2)
			failed := 0

			for j := 0; j < h.config.Rounds; j++ {
				version := Mutate(base, rng, h.config.Edits)

				start := time.Now()
				if _, err := c.Sync(ctx, fmt.Sprintf("peer-%d", peerID), version); err != nil {
					failed++
					continue
				}
				local = append(local, time.Since(start))

				start = time.Now()
				if _, err := c.Status(ctx); err != nil {
					failed++
					continue
				}
				local = append(local, time.Since(start))
			}

			mu.Lock()
			durations = append(durations, local...)
			errs += failed
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no requests completed (%d errors)", errs)
	}
	stats := computeLatencyStats(durations)
	stats.Errors = errs
	return stats, nil
}

// VerifyConvergence syncs want from a fresh peer and checks that the live
// notebook then matches it exactly.
func (h *Harness) VerifyConvergence(ctx context.Context, want []notebook.Cell) error {
	c, err := h.Connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Sync(ctx, "verify", want); err != nil {
		return fmt.Errorf("final sync failed: %w", err)
	}

	// Status is answered after every queued mutation has been applied.
	live, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if !merge.Equal(live, want) {
		return fmt.Errorf("live notebook has %d cells and differs from the %d synced", len(live), len(want))
	}
	return nil
}

// GenerateCells returns a reproducible notebook of n cells, mostly code with
// some markdown.
func GenerateCells(n int, seed int64) []notebook.Cell {
	rng := rand.New(rand.NewSource(seed))
	cells := make([]notebook.Cell, n)
	for i := range cells {
		cells[i] = randomCell(rng, i)
	}
	return cells
}

// Mutate returns a copy of cells with edits random replacements, insertions
// and deletions applied.
func Mutate(cells []notebook.Cell, rng *rand.Rand, edits int) []notebook.Cell {
	out := make([]notebook.Cell, len(cells))
	copy(out, cells)

	for e := 0; e < edits; e++ {
		switch op := rng.Intn(3); {
		case op == 0 && len(out) > 0:
			i := rng.Intn(len(out))
			out[i] = randomCell(rng, i)
		case op == 1 && len(out) > 1:
			i := rng.Intn(len(out))
			out = append(out[:i], out[i+1:]...)
		default:
			i := rng.Intn(len(out) + 1)
			out = append(out[:i], append([]notebook.Cell{randomCell(rng, i)}, out[i:]...)...)
		}
	}

	notebook.Renumber(out)
	return out
}

func randomCell(rng *rand.Rand, i int) notebook.Cell {
	if rng.Intn(5) == 0 {
		return notebook.Cell{
			Index:  i,
			Kind:   notebook.KindMarkdown,
			Source: fmt.Sprintf("## Section %d\n\nNotes %d", i, rng.Intn(1000)),
		}
	}
	return notebook.Cell{
		Index:  i,
		Kind:   notebook.KindCode,
		Source: fmt.Sprintf("x_%d = %d\nprint(x_%d)", i, rng.Intn(1000), i),
	}
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Mean:     sum / time.Duration(len(durations)),
		P50:      sorted[len(sorted)*50/100],
		P95:      sorted[len(sorted)*95/100],
		P99:      sorted[len(sorted)*99/100],
		Requests: len(durations),
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Requests:      %d\n", s.Requests)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
