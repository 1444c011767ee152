// ABOUTME: Bounded file reader with deterministic head/tail truncation so
// ABOUTME: oversized files still contribute their imports and entry points.
package scanfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Reader reads repository files with a per-file size bound.
type Reader struct {
	// MaxBytes is the per-file content bound; 0 means the default of 16 KiB.
	MaxBytes int
}

// NewReader returns a reader with default limits.
func NewReader() *Reader {
	return &Reader{MaxBytes: 16 * 1024}
}

// Read returns the content of root/rel. Files over the bound keep their
// first two thirds and last third with an elision marker between, so the
// imports at the top and the entry point at the bottom both survive.
func (r *Reader) Read(ctx context.Context, root, rel string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	max := r.MaxBytes
	if max <= 0 {
		max = 16 * 1024
	}

	path := filepath.Join(root, filepath.FromSlash(rel))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", rel, err)
	}
	if isBinary(data) {
		return "", false, fmt.Errorf("reading %s: binary content", rel)
	}
	if len(data) <= max {
		return string(data), false, nil
	}

	head := max * 2 / 3
	tailLen := max - head
	var b strings.Builder
	b.Write(data[:head])
	fmt.Fprintf(&b, "\n[... %d bytes elided ...]\n", len(data)-max)
	b.Write(data[len(data)-tailLen:])
	return b.String(), true, nil
}

func isBinary(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for _, c := range data[:n] {
		if c == 0 {
			return true
		}
	}
	return false
}
