package runtime

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"campus-chat/contract"
	"campus-chat/domain"
	"campus-chat/domain/event"
	"campus-chat/encryption"
	"campus-chat/observability"
	"campus-chat/policy"

	"github.com/google/uuid"
)

// AccessReader is the slice of the store the dispatcher needs to
// re-evaluate authorization at delivery time. Role and membership are
// re-read on every fan-out, never cached across writes: a subscriber
// demoted or removed between commit and delivery must not receive the
// row.
type AccessReader interface {
	GetAccount(id uuid.UUID) (domain.Account, error)
	GetConversation(id uuid.UUID) (domain.Conversation, error)
	GetMembership(convID, accountID uuid.UUID) (*domain.Membership, error)
}

// Dispatcher re-publishes committed mutations to interested live
// subscribers. Shards are keyed by stream so deliveries for one
// conversation always flow through the same worker, preserving commit
// order, while unrelated conversations fan out in parallel.
type Dispatcher struct {
	log             *slog.Logger
	registry        contract.IRegistry
	reader          AccessReader
	stats           *observability.Stats
	deliveryTimeout time.Duration
	shards          []chan event.ChangeEvent
}

func NewDispatcher(log *slog.Logger, registry contract.IRegistry, reader AccessReader,
	stats *observability.Stats, numShards, bufferSize int, deliveryTimeout time.Duration) *Dispatcher {
	if numShards < 1 {
		numShards = 1
	}
	shards := make([]chan event.ChangeEvent, numShards)
	for i := range shards {
		shards[i] = make(chan event.ChangeEvent, bufferSize)
	}
	return &Dispatcher{
		log:             log,
		registry:        registry,
		reader:          reader,
		stats:           stats,
		deliveryTimeout: deliveryTimeout,
		shards:          shards,
	}
}

// Publish hands a committed mutation to its stream's shard. It blocks
// when the shard buffer is full: the writer slows down, but fan-out of
// previously committed writes keeps draining independently.
func (d *Dispatcher) Publish(ctx context.Context, e event.ChangeEvent) error {
	d.stats.Published.Add(1)
	shard := d.shards[shardIndex(e.StreamID(), len(d.shards))]
	// A committed event takes the shard slot over an expired context
	// whenever capacity exists.
	select {
	case shard <- e:
		return nil
	default:
	}
	select {
	case shard <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shardIndex(streamID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(streamID))
	return int(h.Sum32() % uint32(n))
}

// Workers returns one supervised fan-out worker per shard.
func (d *Dispatcher) Workers() []contract.Worker {
	workers := make([]contract.Worker, len(d.shards))
	for i := range d.shards {
		workers[i] = &fanoutWorker{dispatcher: d, shard: i}
	}
	return workers
}

// fanoutWorker drains one shard and delivers each event to every
// currently-interested, currently-authorized subscriber.
type fanoutWorker struct {
	dispatcher *Dispatcher
	shard      int
}

func (w *fanoutWorker) Run(ctx context.Context) error {
	d := w.dispatcher
	for {
		select {
		case <-ctx.Done():
			d.log.Debug("Context done, stopping fanout shard", "shard", w.shard)
			return nil
		case e := <-d.shards[w.shard]:
			d.fanout(ctx, e)
		}
	}
}

func (d *Dispatcher) fanout(ctx context.Context, e event.ChangeEvent) {
	subscribers := d.registry.SubscribersForStream(e.StreamID())
	if len(subscribers) == 0 {
		return
	}
	for _, sub := range subscribers {
		d.deliverTo(ctx, sub, e)
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, sub *contract.Subscriber, e event.ChangeEvent) {
	view, ok := d.authorize(sub, e)
	if !ok {
		d.stats.Denied.Add(1)
		return
	}
	// Transport is at-least-once; the (stream, seq) high-water mark makes
	// observed delivery effectively-once.
	if sub.AlreadyDelivered(e.StreamID(), e.Seq) {
		d.stats.Deduplicated.Add(1)
		return
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()
	if err := sub.Sink.Deliver(deliveryCtx, view); err != nil {
		d.log.Warn("Delivery failed",
			"subscriber", sub.ID,
			"stream", e.StreamID(),
			"seq", e.Seq,
			"error", err)
		return
	}
	d.stats.Delivered.Add(1)
}

// authorize re-runs the policy engine for one subscriber against the
// mutated row and, when the subscriber is entitled to the conversation
// key, opens the body. It returns the per-subscriber view of the event.
func (d *Dispatcher) authorize(sub *contract.Subscriber, e event.ChangeEvent) (event.ChangeEvent, bool) {
	account, err := d.reader.GetAccount(sub.Principal.AccountID)
	if err != nil || !account.Active {
		return event.ChangeEvent{}, false
	}
	// Fresh role from the row, not from the connection's token claims.
	principal := domain.Principal{AccountID: account.ID, Role: account.Role}

	if e.Entity == event.EntityAnnouncement {
		return e, policy.CanReadAnnouncement(principal, *e.Announcement)
	}

	conv, err := d.reader.GetConversation(e.ConversationID)
	if err != nil {
		// The conversation is gone. Its own deletion event is still
		// worth announcing to the connections that were watching it;
		// anything else about a vanished conversation is dropped.
		return e, e.Entity == event.EntityConversation && e.Kind == event.ChangeDeleted
	}
	membership, err := d.reader.GetMembership(conv.ID, principal.AccountID)
	if err != nil {
		return event.ChangeEvent{}, false
	}

	switch e.Entity {
	case event.EntityConversation:
		if !policy.CanReadConversation(principal, conv, membership) {
			return event.ChangeEvent{}, false
		}
		return e, true
	case event.EntityMembership:
		if !policy.CanReadMembership(principal, conv, membership) {
			return event.ChangeEvent{}, false
		}
		return e, true
	case event.EntityMessage:
		if !policy.CanReadMessage(principal, conv, membership) {
			return event.ChangeEvent{}, false
		}
		return d.decryptView(e, conv), true
	default:
		return event.ChangeEvent{}, false
	}
}

// decryptView produces the subscriber-facing copy of a message event:
// sealed bodies are opened outside any store transaction, and a body
// that cannot be opened degrades to a per-event error marker instead of
// poisoning the stream.
func (d *Dispatcher) decryptView(e event.ChangeEvent, conv domain.Conversation) event.ChangeEvent {
	if e.Message == nil || !conv.Encrypted() || len(e.Message.Ciphertext) == 0 {
		return e
	}
	view := e
	msg := *e.Message
	plaintext, err := encryption.Open(msg.Ciphertext, conv.Key)
	if err != nil {
		d.stats.DecryptErrors.Add(1)
		d.log.Error(fmt.Sprintf("Sealed body cannot be opened for message %s", msg.ID),
			"conversation", conv.ID, "error", err)
		msg.Content = ""
		msg.Ciphertext = nil
		view.Message = &msg
		view.DecryptFailed = true
		return view
	}
	msg.Content = string(plaintext)
	msg.Ciphertext = nil
	view.Message = &msg
	return view
}
