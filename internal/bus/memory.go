package bus

import (
	"context"
	"log"
	"sync"
)

// Memory is an in-process bus for single-node deployments and tests. It
// keeps the same contract as the Redis bus: every subscriber, including the
// publisher's own node, sees every event in publish order.
type Memory struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- ev:
		default:
			// A subscriber that stopped draining loses events, same as a
			// disconnected pub/sub consumer would.
			log.Printf("[bus] dropping event %s for stalled subscriber", ev.Type)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, nil
	}
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.drop(ch)
	}()
	return ch, nil
}

func (m *Memory) drop(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, sub := range m.subs {
		close(sub)
	}
	m.subs = nil
	return nil
}
