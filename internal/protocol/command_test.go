package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/ascending/ascend/internal/notebook"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, cmd Command)
		wantErr bool
	}{
		{
			name:  "insert",
			input: `{"command":"op_insert_cell","cell_number":2,"cell_type":"markdown","cell_contents":"# hi"}`,
			check: func(t *testing.T, cmd Command) {
				idx, err := cmd.Index()
				if err != nil || idx != 2 {
					t.Errorf("Index() = %d, %v", idx, err)
				}
				if cmd.CellType != notebook.KindMarkdown || cmd.CellContents != "# hi" {
					t.Errorf("payload = %+v", cmd)
				}
			},
		},
		{
			name:  "index zero is present",
			input: `{"command":"execute","cell_number":0}`,
			check: func(t *testing.T, cmd Command) {
				if idx, err := cmd.Index(); err != nil || idx != 0 {
					t.Errorf("Index() = %d, %v", idx, err)
				}
			},
		},
		{
			name:  "delete",
			input: `{"command":"op_delete_cells","cell_indices":[3,1]}`,
			check: func(t *testing.T, cmd Command) {
				if len(cmd.CellIndices) != 2 || cmd.CellIndices[0] != 3 {
					t.Errorf("CellIndices = %v", cmd.CellIndices)
				}
			},
		},
		{
			name:  "unknown kind still decodes",
			input: `{"command":"frobnicate"}`,
			check: func(t *testing.T, cmd Command) {
				if cmd.Kind.IsInbound() || cmd.Kind.IsOutbound() {
					t.Errorf("frobnicate classified as known")
				}
			},
		},
		{name: "missing command", input: `{"cell_number":1}`, wantErr: true},
		{name: "not json", input: `cell 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Decode([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("error = %v, want ErrMalformed", err)
				}
				return
			}
			tt.check(t, cmd)
		})
	}
}

func TestIndex_Missing(t *testing.T) {
	_, err := Command{Kind: KindExecute}.Index()
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Index() error = %v, want ErrMalformed", err)
	}
}

func TestEncode_OmitsUnusedFields(t *testing.T) {
	data, err := Encode(Simple(KindMergeComplete))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `{"command":"merge_complete"}` {
		t.Errorf("Encode() = %s", data)
	}
}

func TestStartSync_StripsOutputs(t *testing.T) {
	cells := []notebook.Cell{{Kind: notebook.KindCode, Source: "1"}}
	cmd := StartSync("a.sync.py", cells)

	data, err := Encode(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"outputs":[]`) {
		t.Errorf("encoded start_sync = %s, want empty outputs", data)
	}
}

func TestKindSets_Disjoint(t *testing.T) {
	for _, k := range InboundKinds() {
		if k.IsOutbound() {
			t.Errorf("%s is both inbound and outbound", k)
		}
	}
	for _, k := range OutboundKinds() {
		if !k.IsOutbound() || k.IsInbound() {
			t.Errorf("%s misclassified", k)
		}
	}
}
