package events

import "context"

// Stream all escrow events are published on.
const StreamEscrow = "events:escrow"

// Event types, emitted fire-and-forget after the state transition commits.
const (
	EventAccountFunded    = "account.funded"
	EventAccountReleased  = "account.released"
	EventAccountDisputed  = "account.disputed"
	EventAccountCancelled = "account.cancelled"
	EventRequestSubmitted = "request.submitted"
	EventRequestResolved  = "request.resolved"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
