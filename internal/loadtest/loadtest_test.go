package loadtest

import (
	"bytes"
	"context"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ascending/ascend/internal/notebook"
)

func TestGenerateCells_Reproducible(t *testing.T) {
	a := GenerateCells(20, 7)
	b := GenerateCells(20, 7)
	if !reflect.DeepEqual(a, b) {
		t.Error("GenerateCells() with the same seed differs")
	}

	markdown := 0
	for i, c := range a {
		if c.Index != i {
			t.Errorf("cell %d has Index %d", i, c.Index)
		}
		if c.Kind == notebook.KindMarkdown {
			markdown++
		}
	}
	if markdown == 0 || markdown == len(a) {
		t.Errorf("expected a mix of kinds, got %d markdown of %d", markdown, len(a))
	}
}

func TestMutate_LeavesInputAlone(t *testing.T) {
	base := GenerateCells(10, 1)
	before := GenerateCells(10, 1)

	out := Mutate(base, rand.New(rand.NewSource(3)), 5)
	if !reflect.DeepEqual(base, before) {
		t.Error("Mutate() modified its input")
	}
	for i, c := range out {
		if c.Index != i {
			t.Errorf("mutated cell %d has Index %d", i, c.Index)
		}
	}
}

func TestMutate_Empty(t *testing.T) {
	out := Mutate(nil, rand.New(rand.NewSource(1)), 4)
	if len(out) == 0 {
		t.Error("Mutate(nil) should be able to insert")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(ds)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", s.Mean)
	}
	if s.Requests != 100 {
		t.Errorf("Requests = %d", s.Requests)
	}

	var buf bytes.Buffer
	s.PrintStats(&buf)
	if !strings.Contains(buf.String(), "Requests:      100") {
		t.Errorf("PrintStats() = %q", buf.String())
	}
}

func TestHarness_ConcurrentSyncs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	for _, network := range []bool{false, true} {
		name := "pipe"
		if network {
			name = "websocket"
		}
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			config.Cells = 20
			config.Peers = 5
			config.Rounds = 3
			config.Network = network

			h, err := NewHarness(config)
			if err != nil {
				t.Fatalf("NewHarness() error = %v", err)
			}
			defer h.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			stats, err := h.RunConcurrentSyncs(ctx)
			if err != nil {
				t.Fatalf("RunConcurrentSyncs() error = %v", err)
			}
			if stats.Errors > 0 {
				t.Errorf("%d requests failed", stats.Errors)
			}
			if stats.Requests != config.Peers*config.Rounds*2 {
				t.Errorf("Requests = %d, want %d", stats.Requests, config.Peers*config.Rounds*2)
			}

			want := Mutate(GenerateCells(config.Cells, 99), rand.New(rand.NewSource(5)), 10)
			if err := h.VerifyConvergence(ctx, want); err != nil {
				t.Errorf("VerifyConvergence() error = %v", err)
			}
		})
	}
}

func TestNewHarness_InvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Peers = 0
	if _, err := NewHarness(config); err == nil {
		t.Error("NewHarness() with no peers should fail")
	}
}
