package notify

import (
	"errors"
	"sync"
)

// Registry maps channel names from escalation policies to transports.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register binds a channel name. Later registrations replace earlier
// ones.
func (r *Registry) Register(name string, channel Channel) error {
	if r == nil {
		return errors.New("notify registry: nil registry")
	}
	if name == "" {
		return errors.New("notify registry: empty channel name")
	}
	if channel == nil {
		return errors.New("notify registry: nil channel")
	}
	r.mu.Lock()
	r.channels[name] = channel
	r.mu.Unlock()
	return nil
}

// Get returns the channel for a name, or nil.
func (r *Registry) Get(name string) Channel {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[name]
}
