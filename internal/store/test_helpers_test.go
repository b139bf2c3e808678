package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/ethos/internal/testutil"
)

// createTestStore opens a fresh store with a deterministic clock and ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithClock(testutil.NewDeterministicClock()),
		WithIDs(&testutil.SequentialIDs{}),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
