// ABOUTME: Repository file scanner: walks the target tree, prunes noise
// ABOUTME: directories, and honors .gitignore and .dockerignore patterns.
package scanfs

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Directories that never inform artifact generation.
var noiseDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	"node_modules":  true,
	"vendor":        true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".idea":         true,
	".vscode":       true,
	".next":         true,
	".cache":        true,
	"coverage":      true,
}

// Scanner walks a repository and returns relative paths of regular files.
type Scanner struct {
	// MaxFiles caps the listing; 0 means the default of 2000.
	MaxFiles int
}

// NewScanner returns a scanner with default limits.
func NewScanner() *Scanner {
	return &Scanner{MaxFiles: 2000}
}

// Scan returns sorted repository-relative paths under root, excluding noise
// directories and anything matched by .gitignore or .dockerignore at the root.
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	maxFiles := s.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 2000
	}

	ignore := loadIgnorePatterns(root)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if noiseDirs[d.Name()] || ignore.matchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ignore.match(rel) {
			return nil
		}
		files = append(files, rel)
		if len(files) >= maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// ignoreSet holds the root-level ignore patterns of a repository.
type ignoreSet struct {
	patterns []string
}

func loadIgnorePatterns(root string) *ignoreSet {
	set := &ignoreSet{}
	for _, name := range []string{".gitignore", ".dockerignore"} {
		f, err := os.Open(filepath.Join(root, name))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
				continue
			}
			line = strings.TrimPrefix(line, "/")
			line = strings.TrimSuffix(line, "/")
			set.patterns = append(set.patterns, line)
		}
		f.Close()
	}
	return set
}

// match reports whether rel matches any ignore pattern, either directly or
// as a path segment.
func (s *ignoreSet) match(rel string) bool {
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// A bare pattern like "logs" or "*.pyc" applies at any depth.
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match("**/"+p, rel); ok {
				return true
			}
		}
	}
	return false
}

func (s *ignoreSet) matchDir(rel string) bool {
	return s.match(rel)
}
