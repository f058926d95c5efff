package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceTracker keeps the ephemeral per-conversation "is typing" sets.
// Nothing here is persisted or authorized; callers must already be
// readers of the conversation. Entries expire after the liveness window
// unless renewed, so a crashed client's stale state self-heals without
// an explicit clear.
type PresenceTracker struct {
	mu     sync.Mutex
	window time.Duration
	typing map[uuid.UUID]map[uuid.UUID]time.Time // conversation -> account -> expiry
	now    func() time.Time
}

func NewPresenceTracker(window time.Duration) *PresenceTracker {
	return &PresenceTracker{
		window: window,
		typing: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// MarkTyping records or renews a typing entry.
func (p *PresenceTracker) MarkTyping(convID, accountID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.typing[convID]; !ok {
		p.typing[convID] = make(map[uuid.UUID]time.Time)
	}
	p.typing[convID][accountID] = p.now().Add(p.window)
}

func (p *PresenceTracker) ClearTyping(convID, accountID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if accounts, ok := p.typing[convID]; ok {
		delete(accounts, accountID)
		if len(accounts) == 0 {
			delete(p.typing, convID)
		}
	}
}

// TypingIn returns the accounts currently typing, dropping expired
// entries as it reads.
func (p *PresenceTracker) TypingIn(convID uuid.UUID) []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts, ok := p.typing[convID]
	if !ok {
		return nil
	}
	now := p.now()
	var typing []uuid.UUID
	for accountID, expiry := range accounts {
		if expiry.Before(now) {
			delete(accounts, accountID)
			continue
		}
		typing = append(typing, accountID)
	}
	if len(accounts) == 0 {
		delete(p.typing, convID)
	}
	return typing
}

// sweep prunes every expired entry.
func (p *PresenceTracker) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for convID, accounts := range p.typing {
		for accountID, expiry := range accounts {
			if expiry.Before(now) {
				delete(accounts, accountID)
			}
		}
		if len(accounts) == 0 {
			delete(p.typing, convID)
		}
	}
}

// PresenceSweeper periodically prunes the tracker so abandoned
// conversations do not accumulate dead entries between reads.
type PresenceSweeper struct {
	log      *slog.Logger
	tracker  *PresenceTracker
	interval time.Duration
}

func NewPresenceSweeper(log *slog.Logger, tracker *PresenceTracker, interval time.Duration) *PresenceSweeper {
	return &PresenceSweeper{log: log, tracker: tracker, interval: interval}
}

func (w *PresenceSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping presence sweeper")
			return nil
		case <-ticker.C:
			w.tracker.sweep()
		}
	}
}
