// Package events publishes routing lifecycle notifications so downstream
// consumers (dashboards, notifiers, audit sinks) can react without polling.
package events

import "context"

// Channel names. Consumers subscribe to these directly.
const (
	// TopicDecision carries every committed routing decision revision.
	TopicDecision = "routing.decision"
	// TopicAlert carries unresolved-escalation alerts: a request that
	// exhausted its escalation path without an acknowledgement.
	TopicAlert = "routing.alert"
)

// Publisher delivers a payload to a named channel. Publishing is best
// effort; the routing engine never fails a decision because a notification
// could not be delivered.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
