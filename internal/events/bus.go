package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindMatchResult Kind = "match_result"
	KindChat        Kind = "chat"
)

// MatchResult is published once per settled room.
type MatchResult struct {
	RoomID string `json:"roomId"`
	// Ranked lists players from first place to last; the fool, if any, is last.
	Ranked     []string         `json:"rankedPlayerIds"`
	Fool       string           `json:"foolPlayerId,omitempty"`
	Draw       bool             `json:"draw"`
	Stakes     map[string]int64 `json:"stakes"`
	Payouts    map[string]int64 `json:"payouts"`
	FinishedAt time.Time        `json:"finishedAt"`
}

type Chat struct {
	RoomID   string    `json:"roomId"`
	PlayerID string    `json:"playerId"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

type Event struct {
	ID     string       `json:"id"`
	Kind   Kind         `json:"kind"`
	Result *MatchResult `json:"result,omitempty"`
	Chat   *Chat        `json:"chat,omitempty"`
}

func NewMatchResult(r MatchResult) Event {
	return Event{ID: uuid.NewString(), Kind: KindMatchResult, Result: &r}
}

func NewChat(c Chat) Event {
	return Event{ID: uuid.NewString(), Kind: KindChat, Chat: &c}
}

type subscriber struct {
	ch    chan Event
	kinds map[Kind]bool
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	next    uint64
	dropped atomic.Int64
	log     *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[uint64]*subscriber), log: log.Named("bus")}
}

// Subscribe returns a channel of events of the given kinds (all kinds when
// none are named) and a function that cancels the subscription and closes it.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.log.Warn("subscriber full, event dropped", zap.String("kind", string(e.Kind)), zap.String("event", e.ID))
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
