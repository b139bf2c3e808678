package codegen

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

func digest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// checksums lists "<digest>  <path>" for files, which must be sorted.
func checksums(files []File) File {
	var b bytes.Buffer
	for _, f := range files {
		fmt.Fprintf(&b, "%s  %s\n", digest(f.Content), f.Path)
	}
	return File{Path: ChecksumFile, Content: b.Bytes()}
}

// Write writes files under dir, creating it if needed.
func Write(dir string, files []File) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range files {
		if !filepath.IsLocal(f.Path) {
			return fmt.Errorf("refusing to write %q outside %s", f.Path, dir)
		}
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// Drift is a generated file whose content no longer matches checksums.txt.
type Drift struct {
	Path   string
	Reason string
}

// Verify compares the files in dir against its checksums.txt and returns
// every file that was edited or deleted since generation.
func Verify(dir string) ([]Drift, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		want, path, ok := strings.Cut(text, "  ")
		if !ok || !filepath.IsLocal(path) {
			return nil, fmt.Errorf("%s:%d: malformed entry", ChecksumFile, line)
		}
		content, err := os.ReadFile(filepath.Join(dir, path))
		switch {
		case os.IsNotExist(err):
			drifts = append(drifts, Drift{Path: path, Reason: "missing"})
		case err != nil:
			return nil, err
		case digest(content) != want:
			drifts = append(drifts, Drift{Path: path, Reason: "modified"})
		}
	}
	return drifts, sc.Err()
}
