// Package webhooks delivers chain events to subscribed HTTP endpoints.
// Each delivery is signed with HMAC-SHA256 using the subscription's secret
// and retried with backoff.
package webhooks

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the chain service.
const (
	EventChainCreated  = "chain.created"
	EventChainDeleted  = "chain.deleted"
	EventChainForked   = "chain.forked"
	EventBlockAppended = "block.appended"
	EventChainInvalid  = "chain.invalid"

	// EventWildcard subscribes to every event type.
	EventWildcard = "*"
)

// Headers set on every delivery.
const (
	SignatureHeader  = "X-Ledger-Signature"
	EventTypeHeader  = "X-Ledger-Event"
	DeliveryIDHeader = "X-Ledger-Delivery"
)

// KnownEvents lists every event type a subscription may name.
var KnownEvents = []string{
	EventChainCreated,
	EventChainDeleted,
	EventChainForked,
	EventBlockAppended,
	EventChainInvalid,
	EventWildcard,
}

// Subscription is a registered endpoint and the events it wants.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"-"` // never returned in API responses
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Wants reports whether the subscription should receive eventType.
func (s *Subscription) Wants(eventType string) bool {
	return s.Active && (slices.Contains(s.Events, eventType) || slices.Contains(s.Events, EventWildcard))
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Chain     string            `json:"chain"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EventID        uuid.UUID `json:"event_id"`
	EventType      string    `json:"event_type"`
	StatusCode     int       `json:"status_code"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}
