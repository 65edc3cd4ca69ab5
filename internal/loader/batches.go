package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// BatchInfo describes a loaded batch for the registry.
type BatchInfo struct {
	BatchID  string
	FileName string
	Records  int
}

// BatchRegistry tracks which batches are current. Each call performs exactly
// one active/inactive transition.
type BatchRegistry interface {
	ActiveBatches(ctx context.Context) ([]string, error)
	ActivateBatch(ctx context.Context, info BatchInfo) error
	DeactivateBatch(ctx context.Context, batchID string) error
}

// Promote makes info the active batch and deactivates every other active
// batch. It returns the ids that were deactivated.
func Promote(ctx context.Context, registry BatchRegistry, info BatchInfo) ([]string, error) {
	active, err := registry.ActiveBatches(ctx)
	if err != nil {
		return nil, err
	}
	alreadyActive := false
	var deactivated []string
	for _, id := range active {
		if id == info.BatchID {
			alreadyActive = true
			continue
		}
		if err := registry.DeactivateBatch(ctx, id); err != nil && !errors.Is(err, shared.ErrInvalidTransition) {
			return deactivated, fmt.Errorf("loader: supersede %s: %w", id, err)
		}
		deactivated = append(deactivated, id)
	}
	if alreadyActive {
		return deactivated, nil
	}
	if err := registry.ActivateBatch(ctx, info); err != nil && !errors.Is(err, shared.ErrInvalidTransition) {
		return deactivated, err
	}
	return deactivated, nil
}
