// ABOUTME: Scan stage: lists workflow-relevant files in the target repository.
package workflow

import (
	"context"
	"fmt"
)

// ScanStage produces the file list every later stage works from.
type ScanStage struct {
	FS Scanner
}

func (s *ScanStage) Name() StageName { return StageScan }

func (s *ScanStage) Execute(ctx context.Context, st *RunState) (*Outcome, error) {
	files, err := s.FS.Scan(ctx, st.Target)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", st.Target, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("scan %s: no files found", st.Target)
	}
	return &Outcome{
		Update: StateUpdate{FileList: files},
		Notes:  fmt.Sprintf("%d files", len(files)),
	}, nil
}
