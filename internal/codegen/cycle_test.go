package codegen

import (
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/ir"
	tu "github.com/roach88/ethos/internal/testutil"
)

func object(name string, fields ...ir.SnapshotField) ir.SnapshotType {
	return ir.SnapshotType{Name: name, Kind: ir.KindObject, Fields: fields}
}

func required(name string, t ir.TypeRef) ir.SnapshotField {
	return ir.SnapshotField{Name: name, Type: t, Required: true}
}

func TestTarjanSCC(t *testing.T) {
	tests := []struct {
		name  string
		graph embedGraph
		want  [][]string
	}{
		{
			name:  "dag",
			graph: embedGraph{"A": {"B"}, "B": {"C"}, "C": {}},
			want:  [][]string{{"C"}, {"B"}, {"A"}},
		},
		{
			name:  "two node cycle",
			graph: embedGraph{"A": {"B"}, "B": {"A"}},
			want:  [][]string{{"A", "B"}},
		},
		{
			name:  "self loop",
			graph: embedGraph{"Node": {"Node"}},
			want:  [][]string{{"Node"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tarjanSCC(tt.graph))
		})
	}
}

func TestRecursiveEdges(t *testing.T) {
	snap := &ir.VersionSnapshot{
		Implementation: ir.CoreLightning,
		Version:        tu.V("24.08"),
		Types: []ir.SnapshotType{
			object("Channel", required("peer", ir.RefTo("Peer")), required("scid", ir.Prim(ir.PrimString))),
			object("Peer", required("channel", ir.RefTo("Channel")), required("route", ir.RefTo("Route"))),
			object("Route", required("next", ir.RefTo("Route")), required("hops", ir.ListOf(ir.RefTo("Route")))),
			object("Leaf", required("id", ir.Prim(ir.PrimString))),
		},
	}

	assert.Equal(t, map[string]bool{
		"Channel\x00Peer": true,
		"Peer\x00Channel": true,
		"Route\x00Route":  true,
	}, recursiveEdges(snap))
}

func TestRecursiveTypesUsePointers(t *testing.T) {
	snap := &ir.VersionSnapshot{
		SchemaVersion:  ir.SchemaVersion,
		Implementation: ir.CoreLightning,
		Version:        tu.V("24.08"),
		Methods:        []ir.SnapshotMethod{},
		Types: []ir.SnapshotType{
			object("Node", required("id", ir.Prim(ir.PrimHex)), required("parent", ir.RefTo("Node"))),
			object("Wrapper", required("node", ir.RefTo("Node"))),
		},
	}

	types := generate(t, snap, Options{})["types.go"]
	assert.Regexp(t, `Parent\s+\*Node\s+`+"`json:\"parent\"`", types)
	assert.Regexp(t, `Node\s+Node\s+`+"`json:\"node\"`", types, "no cycle through Wrapper")

	_, err := parser.ParseFile(token.NewFileSet(), "types.go", types, 0)
	require.NoError(t, err)
}
