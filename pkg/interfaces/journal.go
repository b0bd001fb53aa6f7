package interfaces

import (
	"context"
	"time"

	"echorelay/pkg/types"
)

// Journal records connection presence. Record must not block.
type Journal interface {
	Record(event types.PresenceEvent)
	Recent(ctx context.Context, limit int) ([]*types.PresenceEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
