package cli

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/artifact"
	"github.com/roach88/ethos/internal/extract"
	"github.com/roach88/ethos/internal/ir"
	"github.com/roach88/ethos/internal/store"
	"github.com/roach88/ethos/internal/testutil"
)

func TestExtractPrintsCanonicalSnapshot(t *testing.T) {
	w := newWorkspace(t, "text")
	doc := w.writeWalletIR(t)

	out, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", "2.0")
	require.NoError(t, err)

	snap, err := extract.Extract(doc, ir.MustParseVersion("2.0"))
	require.NoError(t, err)
	want, err := artifact.Encode(snap)
	require.NoError(t, err)
	assert.Equal(t, string(want), out)
}

func TestExtractJSON(t *testing.T) {
	w := newWorkspace(t, "json")
	w.writeWalletIR(t)

	out, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", "3.0")
	require.NoError(t, err)

	var snap ir.VersionSnapshot
	resp := decodeResponse(t, out, &snap)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "3.0", snap.Version.String())
	_, ok := snap.Method("getinfo")
	assert.False(t, ok, "getinfo was removed in 3.0")
	m, ok := snap.Method("getBalance")
	require.True(t, ok, "wire names resolve too")
	assert.Equal(t, "getbalance", m.Name)
}

func TestExtractWritesSnapshotFile(t *testing.T) {
	w := newWorkspace(t, "text")
	w.writeWalletIR(t)
	dir := w.path("snapshots")

	out, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", "1.0", "--out", dir)
	require.NoError(t, err)

	path := artifact.SnapshotPath(dir, ir.BitcoinCore, ir.MustParseVersion("1.0"))
	assert.Equal(t, "✓ Wrote "+path, strings.TrimSpace(out))

	snap, err := artifact.ReadSnapshot(path)
	require.NoError(t, err)
	_, ok := snap.Type("ScriptType")
	assert.False(t, ok, "ScriptType was introduced in 2.0")
}

func TestExtractFromExplicitArtifact(t *testing.T) {
	w := newWorkspace(t, "json")
	doc := w.writeWalletIR(t)
	path := w.path("elsewhere.ir.json")
	require.NoError(t, artifact.Write(path, doc))

	_, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", "1.0", "--ir", path)
	require.NoError(t, err)

	out, err := execute(t, NewExtractCommand(w.opts), "core_lightning", "1.0", "--ir", path)
	require.Error(t, err)
	resp := decodeResponse(t, out, nil)
	assert.Contains(t, resp.Error.Message, "holds bitcoin_core")
}

func TestExtractFromStore(t *testing.T) {
	w := newWorkspace(t, "json")
	doc := testWalletInStore(t, w)

	out, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", "2.0", "--from-store")
	require.NoError(t, err)
	var snap ir.VersionSnapshot
	decodeResponse(t, out, &snap)
	assert.Equal(t, doc.Implementation, snap.Implementation)

	_, err = execute(t, NewExtractCommand(w.opts), "bitcoin_core", "2.0", "--hash", doc.MustHash())
	require.NoError(t, err)

	out, err = execute(t, NewExtractCommand(w.opts), "bitcoin_core", "2.0", "--hash", "deadbeef")
	require.Error(t, err)
	resp := decodeResponse(t, out, nil)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestExtractVersionErrors(t *testing.T) {
	w := newWorkspace(t, "json")
	w.writeWalletIR(t)

	tests := []struct {
		version  string
		wantCode string
	}{
		{"0.1", ErrCodeNotCovered},
		{"not-a-version", ErrCodeInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			out, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", tt.version)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			resp := decodeResponse(t, out, nil)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestExtractMissingArtifact(t *testing.T) {
	w := newWorkspace(t, "json")

	out, err := execute(t, NewExtractCommand(w.opts), "bitcoin_core", "1.0")
	require.Error(t, err)
	resp := decodeResponse(t, out, nil)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

// testWalletInStore catalogues the wallet fixture without writing a file.
func testWalletInStore(t *testing.T, w *workspace) *ir.ProtocolIR {
	t.Helper()
	doc := testutil.WalletIR()
	require.NoError(t, os.MkdirAll(w.path("state"), 0o755))
	st, err := store.Open(w.path("state", "ethos.db"))
	require.NoError(t, err)
	defer st.Close()
	_, _, err = st.PutArtifact(t.Context(), doc)
	require.NoError(t, err)
	return doc
}
