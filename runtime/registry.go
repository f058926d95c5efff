// Package runtime owns live delivery: the subscriber registry, the
// change dispatcher and the typing presence tracker. It contains no
// authorization rules of its own; every fan-out decision calls back into
// the policy engine.
package runtime

import (
	"sync"

	"campus-chat/contract"
)

// Registry tracks live subscriber connections and the streams each is
// interested in. A subscriber's connection (its sink) is managed in a
// single place even when it spans several conversations.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*contract.Subscriber
	byStream   map[string]map[string]struct{} // stream -> subscriber ids
	streamsFor map[string][]string            // subscriber id -> streams, for teardown
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*contract.Subscriber),
		byStream:   make(map[string]map[string]struct{}),
		streamsFor: make(map[string][]string),
	}
}

// Subscribe registers the connection and its interest set. Streams it
// was not subscribed to before are added on the fly.
func (r *Registry) Subscribe(sub *contract.Subscriber, streams ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sub.ID] = sub
	for _, stream := range streams {
		if _, ok := r.byStream[stream]; !ok {
			r.byStream[stream] = make(map[string]struct{})
		}
		r.byStream[stream][sub.ID] = struct{}{}
	}
	r.streamsFor[sub.ID] = append(r.streamsFor[sub.ID], streams...)
}

// Unsubscribe revokes all interest of a connection. No empty sets are
// left behind in the stream map.
func (r *Registry) Unsubscribe(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, subscriberID)
	for _, stream := range r.streamsFor[subscriberID] {
		if members, ok := r.byStream[stream]; ok {
			delete(members, subscriberID)
			if len(members) == 0 {
				delete(r.byStream, stream)
			}
		}
	}
	delete(r.streamsFor, subscriberID)
}

// SubscribersForStream resolves the currently-interested connections.
// Returns nil when nobody listens.
func (r *Registry) SubscribersForStream(streamID string) []*contract.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.byStream[streamID]
	if !ok {
		return nil
	}
	subscribers := make([]*contract.Subscriber, 0, len(members))
	for id := range members {
		if sub, exists := r.sessions[id]; exists {
			subscribers = append(subscribers, sub)
		}
	}
	return subscribers
}
