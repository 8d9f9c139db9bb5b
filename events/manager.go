package events

import (
	"context"
	"sync"

	"github.com/saiset-co/sai-webserver/types"
)

// Manager is a synchronous event emitter. Listeners run in registration order.
type Manager struct {
	mu        sync.RWMutex
	listeners map[types.EventType][]types.Listener
}

func NewManager() *Manager {
	return &Manager{
		listeners: make(map[types.EventType][]types.Listener),
	}
}

func (m *Manager) On(eventType types.EventType, listener types.Listener) error {
	if eventType == "" {
		return types.ErrEventTypeIsNil
	}

	if listener == nil {
		return types.ErrListenerIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners[eventType] = append(m.listeners[eventType], listener)
	return nil
}

// Emit calls every listener of event's type and stops at the first error.
func (m *Manager) Emit(ctx context.Context, event types.Event) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	for _, listener := range listeners {
		if err := listener(ctx, event); err != nil {
			return types.Errorf(types.ErrEventListener, "%s: %v", event.Type(), err)
		}
	}

	return nil
}

func (m *Manager) Listeners(eventType types.EventType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.listeners[eventType])
}
