package report

import (
	"context"
	"fmt"

	"github.com/greenwave-io/greenwave/internal/ir"
)

// Store defines the interface for run report storage.
type Store interface {
	// Read loads the report.
	Read(ctx context.Context) (*ir.RunSummary, error)

	// Write saves the report.
	Write(ctx context.Context, summary *ir.RunSummary) error

	// Lock acquires an exclusive lock on the report location.
	Lock(ctx context.Context) error

	// Unlock releases the lock.
	Unlock(ctx context.Context) error

	// Location describes where the report lives, for log output.
	Location() string
}

// SummaryLoader parses PKL report text. *eval.Evaluator implements it.
type SummaryLoader interface {
	LoadSummary(ctx context.Context, path string) (*ir.RunSummary, error)
	LoadSummaryText(ctx context.Context, content []byte) (*ir.RunSummary, error)
}

// BackendConfig selects a report backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "s3"
	Config map[string]string `json:"config"`
}

// NewBackend creates a report store from configuration.
func NewBackend(ctx context.Context, cfg *BackendConfig, loader SummaryLoader) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path' configuration")
		}
		return NewManager(path, loader), nil
	case "s3":
		return newS3Backend(ctx, cfg.Config, loader)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Save writes summary while holding the store lock.
func Save(ctx context.Context, store Store, summary *ir.RunSummary) (err error) {
	if err := store.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if unlockErr := store.Unlock(ctx); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()
	return store.Write(ctx, summary)
}
