// Package artifact reads and writes the persisted canonical IR.
//
// Artifacts are canonical JSON re-indented for review: key order is the
// RFC 8785 order, so two builds of the same document produce identical
// files. Writers are exclusive per target path; a second concurrent writer
// fails with ErrLocked instead of interleaving. A regeneration that spans
// more than the write itself holds the path with Acquire.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/roach88/ethos/internal/ir"
)

// ErrLocked is returned when another writer holds the target's lock file.
var ErrLocked = errors.New("artifact is locked by another writer")

// ErrIncompatibleSchema is returned by Read for artifacts written with a
// different schema major version.
var ErrIncompatibleSchema = errors.New("incompatible artifact schema")

// Path is where the assembled IR of impl lives under dir.
func Path(dir string, impl ir.Implementation) string {
	return filepath.Join(dir, string(impl)+".ir.json")
}

// SnapshotPath is where the snapshot of impl at v lives under dir.
func SnapshotPath(dir string, impl ir.Implementation, v ir.Version) string {
	return filepath.Join(dir, string(impl), v.String()+".json")
}

// Write persists doc at path.
func Write(path string, doc *ir.ProtocolIR) error {
	return writeLocked(path, doc)
}

// WriteSnapshot persists snap at path.
func WriteSnapshot(path string, snap *ir.VersionSnapshot) error {
	return writeLocked(path, snap)
}

// Lock is an exclusive claim on an artifact path.
type Lock struct {
	path    string
	release func()
}

// Acquire claims path for a single writer until Release. It fails with
// ErrLocked while another writer holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	unlock, err := lock(path)
	if err != nil {
		return nil, err
	}
	return &Lock{path: path, release: sync.OnceFunc(unlock)}, nil
}

// Path returns the locked artifact path.
func (l *Lock) Path() string { return l.path }

// Write persists doc at the locked path.
func (l *Lock) Write(doc *ir.ProtocolIR) error {
	return replace(l.path, doc)
}

// Release gives up the claim. Calling it again is a no-op.
func (l *Lock) Release() { l.release() }

// Encode returns the on-disk form of v: canonical JSON, indented, with a
// trailing newline.
func Encode(v any) ([]byte, error) {
	canonical, err := ir.CanonicalDocument(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, canonical, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeLocked(path string, v any) error {
	l, err := Acquire(path)
	if err != nil {
		return err
	}
	defer l.Release()
	return replace(path, v)
}

// replace writes v to a temporary file and renames it over path.
func replace(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// lock creates path.lock exclusively. The returned func removes it.
func lock(path string) (func(), error) {
	name := path + ".lock"
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}
	if err != nil {
		return nil, err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	f.Close()
	return func() { os.Remove(name) }, nil
}

// Read loads the IR artifact at path.
func Read(path string) (*ir.ProtocolIR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc ir.ProtocolIR
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := checkSchema(doc.SchemaVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &doc, nil
}

// ReadSnapshot loads the snapshot artifact at path.
func ReadSnapshot(path string) (*ir.VersionSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap ir.VersionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := checkSchema(snap.SchemaVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &snap, nil
}

func checkSchema(got string) error {
	v, err := ir.ParseVersion(got)
	if err != nil {
		return fmt.Errorf("%w: schema_version %q", ErrIncompatibleSchema, got)
	}
	want := ir.MustParseVersion(ir.SchemaVersion)
	if v.Major != want.Major {
		return fmt.Errorf("%w: schema_version %s, this build reads %d.x", ErrIncompatibleSchema, got, want.Major)
	}
	return nil
}
