package messaging

import (
	"context"

	"github.com/jwalitptl/careview-api/internal/model"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// RefreshChannel carries snapshot refresh requests from the API to the
// prewarm worker.
const RefreshChannel = "snapshot.refresh"

// RefreshEvent asks the worker to rebuild a user's snapshot so the next
// view load is warm.
type RefreshEvent struct {
	Role   model.Role `json:"role"`
	UserID string     `json:"user_id"`
}
