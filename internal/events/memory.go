package events

import (
	"context"
	"sync"
)

// Event is one captured publication.
type Event struct {
	Topic   string
	Payload interface{}
}

// MemoryPublisher records events in memory for inspection in tests. It is
// never wired in production; without Redis the app runs with no publisher
// and event emission is disabled.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return nil
}

func (p *MemoryPublisher) Close() error {
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByTopic filters captured events by channel name.
func (p *MemoryPublisher) ByTopic(topic string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
