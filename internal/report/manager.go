// Package report persists run summaries as PKL documents.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/greenwave-io/greenwave/internal/ir"
)

// Manager stores a report in a local file.
type Manager struct {
	path   string
	loader SummaryLoader
}

func NewManager(path string, loader SummaryLoader) *Manager {
	return &Manager{
		path:   path,
		loader: loader,
	}
}

func (m *Manager) Location() string {
	return m.path
}

// Read loads the report, decrypting it first when needed.
func (m *Manager) Read(ctx context.Context) (*ir.RunSummary, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", m.path, err)
	}
	if m.loader == nil {
		return nil, fmt.Errorf("no PKL loader configured for %s", m.path)
	}

	if IsEncrypted(raw) {
		decrypted, err := DecryptReport(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt report: %w", err)
		}
		summary, err := m.loader.LoadSummaryText(ctx, decrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to load decrypted report: %w", err)
		}
		return summary, nil
	}

	summary, err := m.loader.LoadSummary(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load report from %s: %w", m.path, err)
	}
	return summary, nil
}

// Write saves the report. If GREENWAVE_REPORT_ENCRYPTION_KEY is set the
// file is encrypted.
func (m *Manager) Write(ctx context.Context, summary *ir.RunSummary) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	content, err := EncryptReport([]byte(SerializeSummary(summary)))
	if err != nil {
		return fmt.Errorf("failed to encrypt report: %w", err)
	}

	if err := os.WriteFile(m.path, content, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", m.path, err)
	}
	return nil
}

// SerializeSummary renders a summary as a standalone PKL module.
func SerializeSummary(s *ir.RunSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "// greenwave run report\n")
	fmt.Fprintf(&b, "runId = %q\n", s.RunID)
	fmt.Fprintf(&b, "totalSteps = %d\n", s.TotalSteps)
	fmt.Fprintf(&b, "stepsAdvanced = %d\n", s.StepsAdvanced)
	fmt.Fprintf(&b, "finalVehicleCount = %d\n", s.FinalVehicleCount)
	fmt.Fprintf(&b, "decisionRequests = %d\n", s.DecisionRequests)
	fmt.Fprintf(&b, "decisionFallbacks = %d\n", s.DecisionFallbacks)
	fmt.Fprintf(&b, "filledPhases = %d\n", s.FilledPhases)
	fmt.Fprintf(&b, "phaseApplyFailures = %d\n", s.PhaseApplyFailures)
	fmt.Fprintf(&b, "stepFailures = %d\n", s.StepFailures)
	fmt.Fprintf(&b, "advanceFailures = %d\n", s.AdvanceFailures)
	fmt.Fprintf(&b, "startedAt = %q\n", s.StartedAt)
	fmt.Fprintf(&b, "finishedAt = %q\n", s.FinishedAt)

	return b.String()
}
