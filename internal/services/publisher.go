package services

import (
	"context"

	"campus-im/internal/imtypes"
)

// EventPublisher fans events out to push rooms. Publishing is best-effort:
// implementations log and count failures and never report them to the caller,
// so a lost event never fails the request that produced it.
type EventPublisher interface {
	Publish(ctx context.Context, room string, event imtypes.Event)
}

type nopPublisher struct{}

// NewNopPublisher returns a publisher that drops every event. Used when Kafka is disabled.
func NewNopPublisher() EventPublisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, string, imtypes.Event) {}
