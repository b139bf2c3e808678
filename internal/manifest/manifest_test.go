package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethos/internal/ir"
)

const sample = `
implementations:
  bitcoin_core:
    - version: "26.0"
      source: schemas/bitcoin_core/26.0.json
      note: adds scanblocks filters
    - version: "25.0"
      source: schemas/bitcoin_core/25.0.json
      release_date: "2023-05-26"
  core_lightning:
    - version: "24.08"
      source: /srv/schemas/cln-24.08.json
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, []ir.Implementation{ir.BitcoinCore, ir.CoreLightning}, m.Implementations())

	btc := m.Entries(ir.BitcoinCore)
	require.Len(t, btc, 2)
	assert.Equal(t, "25.0", btc[0].Version.String(), "entries come out in version order")
	assert.Equal(t, filepath.Join(dir, "schemas/bitcoin_core/25.0.json"), btc[0].Source)
	assert.Equal(t, "2023-05-26", btc[0].ReleaseDate)
	assert.Equal(t, "adds scanblocks filters", btc[1].Note)
	assert.Equal(t, ir.BitcoinCore, btc[1].Implementation)

	cln := m.Entries(ir.CoreLightning)
	require.Len(t, cln, 1)
	assert.Equal(t, "/srv/schemas/cln-24.08.json", cln[0].Source, "absolute sources are kept")
	assert.Equal(t, "24.08", cln[0].Version.String())

	assert.Empty(t, m.Entries("lnd"))
}

func TestEntriesIsACopy(t *testing.T) {
	m, err := Parse([]byte(sample), "")
	require.NoError(t, err)

	entries := m.Entries(ir.BitcoinCore)
	entries[0].Source = "changed"
	assert.NotEqual(t, "changed", m.Entries(ir.BitcoinCore)[0].Source)
}

func TestVersionInfo(t *testing.T) {
	m, err := Parse([]byte(sample), "")
	require.NoError(t, err)

	info := m.VersionInfo(ir.BitcoinCore)
	require.Len(t, info, 2)
	assert.Equal(t, "2023-05-26", info[0].ReleaseDate)
	assert.Equal(t, "adds scanblocks filters", info[1].Note)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{
			name: "duplicate version",
			yaml: "implementations:\n  bitcoin_core:\n    - {version: \"25.0\", source: a.json}\n    - {version: \"25.0.0\", source: b.json}\n",
			want: "duplicate version",
		},
		{
			name: "bad version",
			yaml: "implementations:\n  bitcoin_core:\n    - {version: latest, source: a.json}\n",
			want: "latest",
		},
		{
			name: "missing source",
			yaml: "implementations:\n  bitcoin_core:\n    - {version: \"25.0\"}\n",
			want: "source is required",
		},
		{
			name: "missing version",
			yaml: "implementations:\n  bitcoin_core:\n    - {source: a.json}\n",
			want: "version is required",
		},
		{
			name: "bad implementation",
			yaml: "implementations:\n  Bitcoin-Core:\n    - {version: \"25.0\", source: a.json}\n",
			want: "malformed implementation",
		},
		{
			name: "unknown key",
			yaml: "implementations:\n  bitcoin_core:\n    - {version: \"25.0\", source: a.json, relase_date: \"2023-05-26\"}\n",
			want: "relase_date",
		},
		{
			name: "bad release date",
			yaml: "implementations:\n  bitcoin_core:\n    - {version: \"25.0\", source: a.json, release_date: May 2023}\n",
			want: "release_date",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
