// ABOUTME: ReadFiles stage: assembles the file digest consumed by plan, generate, and reflect.
// ABOUTME: Selection is priority-ranked and the total digest size is bounded deterministically.
package workflow

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ReadFilesStage reads the most containerization-relevant files into a
// single bounded digest.
type ReadFilesStage struct {
	FS             FileReader
	MaxFiles       int // default 25
	MaxDigestBytes int // default 64 KiB
}

func (s *ReadFilesStage) Name() StageName { return StageReadFiles }

// manifestScores ranks dependency manifests and entrypoint config above
// ordinary sources. Higher scores are read first.
var manifestScores = map[string]int{
	"package.json":     100,
	"go.mod":           100,
	"requirements.txt": 100,
	"pyproject.toml":   100,
	"pipfile":          90,
	"poetry.lock":      60,
	"cargo.toml":       100,
	"pom.xml":          100,
	"build.gradle":     100,
	"gemfile":          100,
	"composer.json":    100,
	"mix.exs":          100,
	"makefile":         80,
	"procfile":         80,
	"main.py":          70,
	"app.py":           70,
	"manage.py":        70,
	"main.go":          70,
	"index.js":         70,
	"server.js":        70,
	"app.js":           70,
	"readme.md":        40,
}

// scoreFile ranks a relative path for digest inclusion.
func scoreFile(rel string) int {
	base := strings.ToLower(path.Base(rel))
	if sc, ok := manifestScores[base]; ok {
		// Root-level manifests beat nested copies.
		if !strings.Contains(rel, "/") {
			return sc + 20
		}
		return sc
	}
	switch strings.ToLower(path.Ext(rel)) {
	case ".go", ".py", ".js", ".ts", ".rb", ".rs", ".java":
		return 10
	case ".yml", ".yaml", ".toml", ".json", ".cfg", ".ini":
		return 15
	}
	return 0
}

func (s *ReadFilesStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	maxFiles := s.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 25
	}
	maxBytes := s.MaxDigestBytes
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}

	type ranked struct {
		rel   string
		score int
	}
	candidates := make([]ranked, 0, len(st.FileList))
	for _, rel := range st.FileList {
		if sc := scoreFile(rel); sc > 0 {
			candidates = append(candidates, ranked{rel, sc})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rel < candidates[j].rel
	})
	if len(candidates) > maxFiles {
		candidates = candidates[:maxFiles]
	}

	var b strings.Builder
	read := 0
	for _, c := range candidates {
		if b.Len() >= maxBytes {
			break
		}
		content, truncated, err := s.FS.Read(ctx, st.Target, c.rel)
		if err != nil {
			// Unreadable individual files are skipped, not fatal; the
			// digest is best-effort context for the oracle.
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n", c.rel, content)
		if truncated {
			b.WriteString("[...file truncated...]\n")
		}
		b.WriteString("\n")
		read++
	}

	digest := b.String()
	if len(digest) > maxBytes {
		digest = digest[:maxBytes] + "\n[...digest truncated...]\n"
	}
	if read == 0 {
		return nil, fmt.Errorf("read files: no relevant files could be read in %s", st.Target)
	}

	return &Outcome{
		Update: StateUpdate{FileDigest: ptr(digest)},
		Notes:  fmt.Sprintf("%d files, %d bytes", read, len(digest)),
	}, nil
}
