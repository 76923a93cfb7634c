package streaming

import (
	"context"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// UpdateFilter specifies which updates a subscriber wants to receive.
type UpdateFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// Hub provides pub/sub for live execution updates. For a single execution,
// updates reach each subscriber in publish order, and no update is dropped.
// A subscriber attaching mid-execution receives only updates from the moment
// of attachment onward; replaying history is the store's concern.
type Hub interface {
	Publish(ctx context.Context, update schema.FlowExecutionUpdate) error
	Subscribe(ctx context.Context, filter UpdateFilter) (<-chan schema.FlowExecutionUpdate, func(), error)
}
