// Package merge computes the peer side of the start-of-sync handshake: given
// the live cells and the external cells, it produces the point mutations that
// turn the former into the latter.
package merge

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/protocol"
)

// Plan returns the commands that transform live into external when applied in
// order to a store holding live. Cells compare by kind and source only.
//
// The commands are index-addressed against the store as it is at the moment
// each one is applied, so they must not be reordered. The caller sends
// finish_merge after them.
func Plan(live, external []notebook.Cell) []protocol.Command {
	var (
		cmds  []protocol.Command
		shift int // cells inserted minus cells deleted so far
	)

	insert := func(j int) {
		c := external[j]
		cmds = append(cmds, protocol.InsertCell(j, kindOf(c), c.Source))
		shift++
	}
	remove := func(i1, i2 int) {
		indices := make([]int, 0, i2-i1)
		for i := i1; i < i2; i++ {
			indices = append(indices, i+shift)
		}
		cmds = append(cmds, protocol.DeleteCells(indices...))
		shift -= i2 - i1
	}

	matcher := difflib.NewMatcher(keys(live), keys(external))
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
		case 'd':
			remove(op.I1, op.I2)
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				insert(j)
			}
		case 'r':
			i := op.I1
			for j := op.J1; j < op.J2; j++ {
				if i < op.I2 {
					c := external[j]
					cmds = append(cmds, protocol.ReplaceCell(j, kindOf(c), c.Source))
					i++
					continue
				}
				insert(j)
			}
			if i < op.I2 {
				remove(i, op.I2)
			}
		}
	}

	return cmds
}

// Equal reports whether the two cell lists already agree.
func Equal(live, external []notebook.Cell) bool {
	if len(live) != len(external) {
		return false
	}
	for i := range live {
		if live[i].Key() != external[i].Key() {
			return false
		}
	}
	return true
}

func keys(cells []notebook.Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.Key()
	}
	return out
}

func kindOf(c notebook.Cell) notebook.CellKind {
	if c.Kind == "" {
		return notebook.DefaultKind
	}
	return c.Kind
}
