package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
	"github.com/ascending/ascend/internal/transport"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type countingKernel struct {
	executed []int
	all      int
	restarts int
}

func (k *countingKernel) Execute(index int, _ notebook.Cell) error {
	k.executed = append(k.executed, index)
	return nil
}

func (k *countingKernel) ExecuteAll([]notebook.Cell) error {
	k.all++
	return nil
}

func (k *countingKernel) Restart() error {
	k.restarts++
	return nil
}

// recorder is a reply channel that only records what was sent.
type recorder struct {
	sent []protocol.Command
}

func (r *recorder) Send(_ context.Context, cmd protocol.Command) error {
	r.sent = append(r.sent, cmd)
	return nil
}

func (r *recorder) Receive(context.Context) (protocol.Command, error) {
	return protocol.Command{}, protocol.ErrChannelClosed
}

func (r *recorder) Close() error { return nil }

func newDispatcher(t *testing.T, cells ...notebook.Cell) (*Dispatcher, *notebook.MemoryHost, *countingKernel) {
	t.Helper()
	host := notebook.NewMemoryHost(cells)
	kernel := &countingKernel{}
	store := notebook.NewStore(host, kernel, quietLogger())
	return NewDispatcher(store, quietLogger()), host, kernel
}

func code(src string) notebook.Cell {
	return notebook.Cell{Kind: notebook.KindCode, Source: src}
}

func sources(cells []notebook.Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.Source
	}
	return out
}

func TestDispatcher_CoversEveryInboundKind(t *testing.T) {
	d, _, _ := newDispatcher(t)
	for _, kind := range protocol.InboundKinds() {
		if !d.Handles(kind) {
			t.Errorf("no handler for %s", kind)
		}
	}
	for _, kind := range protocol.OutboundKinds() {
		if d.Handles(kind) {
			t.Errorf("outbound %s must not be handled", kind)
		}
	}
}

func TestDispatcher_PointMutations(t *testing.T) {
	tests := []struct {
		name string
		cmds []protocol.Command
		want []string
	}{
		{
			name: "insert then insert at head then delete",
			cmds: []protocol.Command{
				protocol.InsertCell(0, notebook.KindCode, "a"),
				protocol.InsertCell(0, notebook.KindCode, "b"),
				protocol.DeleteCells(1),
			},
			want: []string{"b"},
		},
		{
			name: "update behaves like replace",
			cmds: []protocol.Command{
				protocol.InsertCell(0, notebook.KindCode, "a"),
				{Kind: protocol.KindUpdate, CellNumber: intPtr(0), CellType: notebook.KindCode, CellContents: "z"},
			},
			want: []string{"z"},
		},
		{
			name: "replace far past the end backfills",
			cmds: []protocol.Command{
				protocol.ReplaceCell(2, notebook.KindCode, "c"),
			},
			want: []string{"", "", "c"},
		},
		{
			name: "delete with nothing valid is a no-op",
			cmds: []protocol.Command{
				protocol.InsertCell(0, notebook.KindCode, "a"),
				protocol.DeleteCells(-1, 7),
			},
			want: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, host, _ := newDispatcher(t)
			for _, cmd := range tt.cmds {
				if err := d.Dispatch(context.Background(), cmd, nil); err != nil {
					t.Fatalf("Dispatch(%s) error = %v", cmd, err)
				}
			}
			if got := sources(host.Cells()); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("sources = %q, want %q", got, tt.want)
			}
		})
	}
}

func intPtr(i int) *int { return &i }

func TestDispatcher_ReplaceToMarkdownRenders(t *testing.T) {
	d, host, _ := newDispatcher(t, code("x"))

	cmd := protocol.ReplaceCell(0, notebook.KindMarkdown, "# T")
	if err := d.Dispatch(context.Background(), cmd, nil); err != nil {
		t.Fatal(err)
	}

	cell, _ := host.Cell(0)
	if cell.Kind != notebook.KindMarkdown || cell.Source != "# T" {
		t.Errorf("cell = %+v", cell)
	}
	if !cell.NeedsRender {
		t.Error("markdown cell was not rendered")
	}
}

func TestDispatcher_ReplaceWithoutTypeKeepsKind(t *testing.T) {
	d, host, _ := newDispatcher(t, notebook.Cell{Kind: notebook.KindMarkdown, Source: "old"})

	cmd := protocol.Command{Kind: protocol.KindReplaceCell, CellNumber: intPtr(0), CellContents: "new"}
	if err := d.Dispatch(context.Background(), cmd, nil); err != nil {
		t.Fatal(err)
	}
	if cell, _ := host.Cell(0); cell.Kind != notebook.KindMarkdown || cell.Source != "new" {
		t.Errorf("cell = %+v", cell)
	}
}

func TestDispatcher_UnknownKindIgnored(t *testing.T) {
	d, host, kernel := newDispatcher(t, code("a"), code("b"))
	before := host.Cells()
	reply := &recorder{}

	if err := d.Dispatch(context.Background(), protocol.Command{Kind: "frobnicate"}, reply); err != nil {
		t.Errorf("Dispatch() error = %v, want nil", err)
	}
	if !reflect.DeepEqual(host.Cells(), before) {
		t.Error("unknown command changed the notebook")
	}
	if len(reply.sent) != 0 || len(kernel.executed) != 0 {
		t.Errorf("unknown command had effects: sent=%v executed=%v", reply.sent, kernel.executed)
	}
}

func TestDispatcher_Execution(t *testing.T) {
	d, host, kernel := newDispatcher(t, code("a"))
	ctx := context.Background()

	for _, cmd := range []protocol.Command{
		protocol.Execute(2),
		protocol.Simple(protocol.KindExecuteAll),
		protocol.Simple(protocol.KindRestartExecution),
	} {
		if err := d.Dispatch(ctx, cmd, nil); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", cmd, err)
		}
	}

	if !reflect.DeepEqual(kernel.executed, []int{2}) || kernel.all != 1 || kernel.restarts != 1 {
		t.Errorf("kernel = %+v", kernel)
	}
	if host.Len() != 3 {
		t.Errorf("Len() = %d, want 3 after executing index 2", host.Len())
	}
}

func TestDispatcher_MissingIndexFails(t *testing.T) {
	d, host, _ := newDispatcher(t, code("a"))

	err := d.Dispatch(context.Background(), protocol.Command{Kind: protocol.KindExecute}, nil)
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Errorf("Dispatch() error = %v, want ErrMalformed", err)
	}
	if host.Len() != 1 {
		t.Errorf("Len() = %d, failed command must not mutate", host.Len())
	}
}

func TestDispatcher_GetStatus(t *testing.T) {
	d, host, _ := newDispatcher(t, code("a"))
	if err := host.SetOutputs(0, []json.RawMessage{json.RawMessage(`{"output_type":"stream","text":"1"}`)}); err != nil {
		t.Fatal(err)
	}
	reply := &recorder{}

	if err := d.Dispatch(context.Background(), protocol.Simple(protocol.KindGetStatus), reply); err != nil {
		t.Fatal(err)
	}
	if len(reply.sent) != 1 || reply.sent[0].Kind != protocol.KindUpdateStatus {
		t.Fatalf("sent = %v", reply.sent)
	}
	if got := reply.sent[0].Status; len(got) != 1 || got[0].Source != "a" || len(got[0].Outputs) != 0 {
		t.Errorf("status cells = %+v", got)
	}

	err := d.Dispatch(context.Background(), protocol.Simple(protocol.KindGetStatus), nil)
	if !errors.Is(err, ErrNoReplyChannel) {
		t.Errorf("Dispatch() without reply error = %v, want ErrNoReplyChannel", err)
	}
}

func TestMergeEngine_Handshake(t *testing.T) {
	d, _, _ := newDispatcher(t, code("live"))
	reply := &recorder{}
	ctx := context.Background()

	external := []notebook.Cell{code("ext-0"), code("ext-1")}
	if err := d.Dispatch(ctx, protocol.StartSync("a.sync.py", external), reply); err != nil {
		t.Fatal(err)
	}
	if !d.Merge().Pending() {
		t.Error("merge should be pending after start_sync")
	}

	if len(reply.sent) != 1 {
		t.Fatalf("sent %d commands, want 1", len(reply.sent))
	}
	merge := reply.sent[0]
	if merge.Kind != protocol.KindMergeNotebooks {
		t.Fatalf("Kind = %s, want merge_notebooks", merge.Kind)
	}
	if !reflect.DeepEqual(sources(merge.LiveCells), []string{"live"}) {
		t.Errorf("live cells = %q", sources(merge.LiveCells))
	}
	if !reflect.DeepEqual(sources(merge.ExternalCells), []string{"ext-0", "ext-1"}) {
		t.Errorf("external cells = %q", sources(merge.ExternalCells))
	}
	for i, c := range merge.ExternalCells {
		if c.Index != i {
			t.Errorf("external cell %d has index %d", i, c.Index)
		}
	}

	if err := d.Dispatch(ctx, protocol.Simple(protocol.KindFinishMerge), reply); err != nil {
		t.Fatal(err)
	}
	if d.Merge().Pending() {
		t.Error("merge still pending after finish_merge")
	}
	if got := reply.sent[len(reply.sent)-1].Kind; got != protocol.KindMergeComplete {
		t.Errorf("last sent = %s, want merge_complete", got)
	}
}

func TestMergeEngine_FinishWithoutStart(t *testing.T) {
	d, _, _ := newDispatcher(t)
	reply := &recorder{}

	if err := d.Dispatch(context.Background(), protocol.Simple(protocol.KindFinishMerge), reply); err != nil {
		t.Fatal(err)
	}
	if len(reply.sent) != 1 || reply.sent[0].Kind != protocol.KindMergeComplete {
		t.Errorf("sent = %v, want one merge_complete", reply.sent)
	}
}

// startSession runs a session over a fresh store and attaches one end of a
// pipe. The other end is returned for the test to drive.
func startSession(t *testing.T, cells ...notebook.Cell) (*Session, protocol.Channel, *notebook.MemoryHost) {
	t.Helper()

	host := notebook.NewMemoryHost(cells)
	store := notebook.NewStore(host, &countingKernel{}, quietLogger())
	s := New(store, Config{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	peer, live := transport.Pipe()

	done := make(chan struct{}, 2)
	go func() {
		_ = s.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		_ = s.Serve(ctx, live)
		done <- struct{}{}
	}()

	t.Cleanup(func() {
		cancel()
		_ = peer.Close()
		<-done
		<-done
	})
	return s, peer, host
}

func TestSession_HandshakeOverPipe(t *testing.T) {
	_, peer, host := startSession(t, code("a"), code("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := peer.Send(ctx, protocol.StartSync("nb.sync.py", []notebook.Cell{code("b")})); err != nil {
		t.Fatal(err)
	}
	merge, err := peer.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if merge.Kind != protocol.KindMergeNotebooks || len(merge.LiveCells) != 2 {
		t.Fatalf("got %s", merge)
	}

	// Peer decides the live side should drop its first cell.
	for _, cmd := range []protocol.Command{
		protocol.DeleteCells(0),
		protocol.Simple(protocol.KindFinishMerge),
	} {
		if err := peer.Send(ctx, cmd); err != nil {
			t.Fatal(err)
		}
	}

	done, err := peer.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if done.Kind != protocol.KindMergeComplete {
		t.Fatalf("got %s, want merge_complete", done)
	}
	// merge_complete is sent after the delete was applied.
	if got := sources(host.Cells()); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("sources = %q, want [b]", got)
	}
}

func TestSession_ErrorDoesNotStopLoop(t *testing.T) {
	s, peer, host := startSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, cmd := range []protocol.Command{
		{Kind: protocol.KindInsertCell, CellNumber: intPtr(-1), CellType: notebook.KindCode},
		{Kind: "frobnicate"},
		protocol.InsertCell(0, notebook.KindCode, "ok"),
		protocol.Simple(protocol.KindGetStatus),
	} {
		if err := peer.Send(ctx, cmd); err != nil {
			t.Fatal(err)
		}
	}

	status, err := peer.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sources(status.Status), []string{"ok"}) {
		t.Errorf("status = %q", sources(status.Status))
	}
	if host.Len() != 1 {
		t.Errorf("Len() = %d", host.Len())
	}

	stats := s.Stats()
	if stats.Processed != 4 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 4 processed, 1 failed", stats)
	}
	if stats.Peers != 1 {
		t.Errorf("Peers = %d, want 1", stats.Peers)
	}
}

func TestSession_HugeIndexDoesNotStopLoop(t *testing.T) {
	s, peer, host := startSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, cmd := range []protocol.Command{
		protocol.Execute(1 << 62),
		protocol.ReplaceCell(1<<40, notebook.KindCode, "far"),
		protocol.InsertCell(0, notebook.KindCode, "x"),
		protocol.Simple(protocol.KindGetStatus),
	} {
		if err := peer.Send(ctx, cmd); err != nil {
			t.Fatal(err)
		}
	}

	status, err := peer.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sources(status.Status), []string{"x"}) {
		t.Errorf("status = %q, want [x]", sources(status.Status))
	}
	if host.Len() != 1 {
		t.Errorf("Len() = %d, want 1", host.Len())
	}
	if stats := s.Stats(); stats.Processed != 4 || stats.Failed != 2 {
		t.Errorf("stats = %+v, want 4 processed, 2 failed", stats)
	}
}

// panickyHost panics whenever a cell's source is set.
type panickyHost struct {
	*notebook.MemoryHost
}

func (panickyHost) SetSource(int, string) error { panic("host exploded") }

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	host := panickyHost{notebook.NewMemoryHost([]notebook.Cell{code("a")})}
	d := NewDispatcher(notebook.NewStore(host, &countingKernel{}, quietLogger()), quietLogger())
	ctx := context.Background()

	err := d.Dispatch(ctx, protocol.ReplaceCell(0, notebook.KindCode, "b"), &recorder{})
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("Dispatch() error = %v, want ErrHandlerPanic", err)
	}

	// Commands that do not touch the failing path still run.
	rec := &recorder{}
	if err := d.Dispatch(ctx, protocol.Simple(protocol.KindGetStatus), rec); err != nil {
		t.Fatalf("Dispatch(get_status) error = %v", err)
	}
	if len(rec.sent) != 1 || rec.sent[0].Kind != protocol.KindUpdateStatus {
		t.Errorf("sent = %v, want one update_status", rec.sent)
	}
}
