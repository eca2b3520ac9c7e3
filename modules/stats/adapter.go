package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// StatsPort reads aggregate counters.
type StatsPort interface {
	GetStats(ctx context.Context) (*Snapshot, error)
}

// StatsAdapter implements StatsPort over the stats module's service container.
type StatsAdapter struct {
	container mono.ServiceContainer
}

// NewStatsAdapter creates a new StatsAdapter.
func NewStatsAdapter(container mono.ServiceContainer) *StatsAdapter {
	if container == nil {
		panic("stats: ServiceContainer is nil")
	}
	return &StatsAdapter{container: container}
}

// GetStats returns the current counters.
func (a *StatsAdapter) GetStats(ctx context.Context) (*Snapshot, error) {
	var resp Snapshot
	if err := helper.CallRequestReplyService(
		ctx, a.container, ServiceGetStats, json.Marshal, json.Unmarshal, &GetStatsRequest{}, &resp,
	); err != nil {
		return nil, fmt.Errorf("get-stats request failed: %w", err)
	}
	return &resp, nil
}
