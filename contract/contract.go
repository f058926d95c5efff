//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"sync"

	"campus-chat/domain"
	"campus-chat/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself. The supervisor recovers panics and
// restarts it.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives change events destined for one subscriber
// connection. Deliver must not block past ctx.
type EventSink interface {
	Deliver(ctx context.Context, e event.ChangeEvent) error
}

// IRegistry tracks live subscriber connections and their per-stream
// interest sets.
type IRegistry interface {
	Subscribe(sub *Subscriber, streams ...string)
	Unsubscribe(subscriberID string)
	SubscribersForStream(streamID string) []*Subscriber
}

// Subscriber is one live connection: a principal, its sink, and the
// dedup high-water marks the dispatcher maintains per stream.
type Subscriber struct {
	ID        string
	Principal domain.Principal
	Sink      EventSink

	mu        sync.Mutex
	highWater map[string]uint64
}

// AlreadyDelivered records (stream, seq) and reports whether that
// mutation was delivered before. Per-conversation delivery is ordered,
// so a high-water mark is a complete dedup record. A subscriber can span
// several dispatcher shards, hence the mutex.
func (s *Subscriber) AlreadyDelivered(streamID string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highWater == nil {
		s.highWater = make(map[string]uint64)
	}
	if seq <= s.highWater[streamID] {
		return true
	}
	s.highWater[streamID] = seq
	return false
}
