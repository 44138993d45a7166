// Package secrets refuses generated file content that carries credentials.
package secrets

import (
	"fmt"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one detected secret. The secret value itself is not kept.
type Finding struct {
	RuleID      string
	Description string
	Line        int
}

func (f Finding) String() string {
	return fmt.Sprintf("%s (line %d)", f.RuleID, f.Line)
}

// Scanner wraps a gitleaks detector with the default rule set.
type Scanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScanner loads the default gitleaks configuration.
func NewScanner() (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &Scanner{detector: detector}, nil
}

// Scan returns the secrets found in content.
func (s *Scanner) Scan(content string) []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.detector.DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
	}
	return out
}
