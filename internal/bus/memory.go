package bus

import (
	"sync"

	"github.com/google/uuid"

	"governor/internal/domain"
)

// Memory is an in-process channel-backed Bus. Acked ids are simply
// forgotten; there is no redelivery.
type Memory struct {
	mu     sync.RWMutex
	ch     chan Delivery
	closed bool
}

// NewMemory creates a bus buffering up to size undelivered events.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{ch: make(chan Delivery, size)}
}

func (m *Memory) Subscribe() (<-chan Delivery, error) {
	return m.ch, nil
}

// Publish blocks when the buffer is full so producers back-pressure
// instead of dropping events. Close waits for in-flight publishes.
func (m *Memory) Publish(event domain.GovernorEvent) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	m.ch <- Delivery{ID: uuid.New().String(), Event: event}
	return nil
}

func (m *Memory) Ack(string) error {
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.ch)
	return nil
}
