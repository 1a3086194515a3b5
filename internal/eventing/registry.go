package eventing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"serramenti/internal/eventing/eventbus"
)

// Registry maps event type names back to Go types so stored envelopes can be
// decoded for redelivery.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register records the types of the given sample events.
func (r *Registry) Register(samples ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sample := range samples {
		if sample == nil {
			continue
		}
		t := reflect.TypeOf(sample)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		r.types[eventbus.EventType(sample)] = t
	}
}

// DecodePayload rebuilds the event value carried by env.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	r.mu.RLock()
	t, ok := r.types[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("eventing: unregistered event type %q", env.EventType)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(env.Payload, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("eventing: decode %s: %w", env.EventType, err)
	}
	return ptr.Elem().Interface(), nil
}
