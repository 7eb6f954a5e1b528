package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/greenwave-io/greenwave/internal/ir"
)

// Evaluator handles PKL evaluation into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadRunFile evaluates a run description. properties are exposed to the
// module as external properties (read("prop:name")).
func (e *Evaluator) LoadRunFile(ctx context.Context, path string, properties map[string]string) (*ir.RunFile, error) {
	evaluator, err := e.newEvaluator(ctx, properties)
	if err != nil {
		return nil, err
	}
	defer evaluator.Close()

	var run ir.RunFile
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(e.resolve(path)), &run); err != nil {
		return nil, fmt.Errorf("failed to evaluate run file %s: %w", path, err)
	}
	return &run, nil
}

// LoadSummary evaluates a report written by the report package.
func (e *Evaluator) LoadSummary(ctx context.Context, path string) (*ir.RunSummary, error) {
	evaluator, err := e.newEvaluator(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer evaluator.Close()

	var summary ir.RunSummary
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(e.resolve(path)), &summary); err != nil {
		return nil, fmt.Errorf("failed to evaluate summary %s: %w", path, err)
	}
	return &summary, nil
}

// LoadSummaryText evaluates report content held in memory.
func (e *Evaluator) LoadSummaryText(ctx context.Context, content []byte) (*ir.RunSummary, error) {
	tmpFile, err := os.CreateTemp("", "greenwave-summary-*.pkl")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to write temp summary file: %w", err)
	}
	tmpFile.Close()

	return e.LoadSummary(ctx, tmpFile.Name())
}

func (e *Evaluator) newEvaluator(ctx context.Context, properties map[string]string) (pkl.Evaluator, error) {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewEvaluator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	return evaluator, nil
}

func (e *Evaluator) resolve(path string) string {
	if filepath.IsAbs(path) || e.projectDir == "" {
		return path
	}
	return filepath.Join(e.projectDir, path)
}
