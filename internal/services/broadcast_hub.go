package services

import (
	"context"
	"sync"

	"diamond-auction/internal/domain"
	"diamond-auction/internal/domain/repositories"
	"diamond-auction/pkg/logger"
	"diamond-auction/pkg/utils"
)

const defaultSubscriberBuffer = 32

// Subscription is one viewer's stream of state events for an auction. The
// first event is always a snapshot. The channel is closed when the
// subscription ends, the auction reaches a terminal state, or the
// subscriber falls too far behind.
type Subscription struct {
	ID        string
	AuctionID string

	ch          chan domain.StateEvent
	lastVersion int64
	closed      bool
	stop        func() bool
	topic       *topic
	hub         *BroadcastHub
}

func (s *Subscription) Events() <-chan domain.StateEvent {
	return s.ch
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.topic == nil {
		return
	}
	s.topic.mu.Lock()
	s.topic.remove(s)
	s.topic.mu.Unlock()
	s.hub.dropIfIdle(s.AuctionID, s.topic)
}

type topic struct {
	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	lastVersion int64
	closed      bool
}

// remove must be called with t.mu held.
func (t *topic) remove(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	delete(t.subs, s)
	if s.stop != nil {
		s.stop()
	}
	close(s.ch)
}

// BroadcastHub fans committed auction state out to in-process subscribers.
// For each auction, events reach a subscriber in increasing version order;
// anything not newer than what the topic or the subscriber has already seen
// is dropped.
type BroadcastHub struct {
	reader repositories.AuctionReader
	clock  domain.Clock
	buffer int
	log    logger.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

func NewBroadcastHub(reader repositories.AuctionReader, clock domain.Clock, buffer int, log logger.Logger) *BroadcastHub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &BroadcastHub{
		reader: reader,
		clock:  clock,
		buffer: buffer,
		log:    log,
		topics: make(map[string]*topic),
	}
}

// Subscribe registers a subscriber and queues the current snapshot as its
// first event. The snapshot is read while the topic is locked, so no publish
// can slip in between the read and the registration.
func (h *BroadcastHub) Subscribe(ctx context.Context, auctionID string) (*Subscription, error) {
	for {
		t := h.topicFor(auctionID)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			continue
		}

		auction, err := h.reader.Get(ctx, auctionID)
		if err != nil {
			t.mu.Unlock()
			h.dropIfIdle(auctionID, t)
			return nil, err
		}

		sub := &Subscription{
			ID:          utils.GenerateID("sub"),
			AuctionID:   auctionID,
			ch:          make(chan domain.StateEvent, h.buffer),
			lastVersion: auction.Version,
			hub:         h,
		}
		sub.ch <- domain.NewStateEvent(domain.StateSnapshot, auction, h.clock.Now())

		if auction.Status.IsTerminal() {
			// nothing more will happen; deliver the final state and end the stream
			sub.closed = true
			close(sub.ch)
			t.mu.Unlock()
			h.dropIfIdle(auctionID, t)
			return sub, nil
		}

		sub.topic = t
		t.subs[sub] = struct{}{}
		sub.stop = context.AfterFunc(ctx, sub.Close)
		t.mu.Unlock()

		h.log.Debug("Subscriber registered", "auction_id", auctionID, "subscription_id", sub.ID, "version", auction.Version)
		return sub, nil
	}
}

// Publish delivers event to every subscriber of its auction. It never blocks:
// a subscriber whose buffer is full is evicted and must resubscribe.
func (h *BroadcastHub) Publish(event domain.StateEvent) {
	h.mu.Lock()
	t, ok := h.topics[event.AuctionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	if t.closed || event.Version <= t.lastVersion {
		t.mu.Unlock()
		return
	}
	t.lastVersion = event.Version

	for sub := range t.subs {
		if event.Version <= sub.lastVersion {
			continue
		}
		select {
		case sub.ch <- event:
			sub.lastVersion = event.Version
		default:
			h.log.Warn("Evicting slow subscriber", "auction_id", event.AuctionID, "subscription_id", sub.ID)
			t.remove(sub)
		}
	}

	terminal := event.Status == domain.AuctionEnded.String() || event.Status == domain.AuctionCancelled.String()
	if terminal {
		for sub := range t.subs {
			t.remove(sub)
		}
		t.closed = true
	}
	t.mu.Unlock()

	if terminal {
		h.mu.Lock()
		if h.topics[event.AuctionID] == t {
			delete(h.topics, event.AuctionID)
		}
		h.mu.Unlock()
	}
}

// PublishStateEvent lets the hub sit alongside other domain.EventPublisher
// implementations.
func (h *BroadcastHub) PublishStateEvent(ctx context.Context, event domain.StateEvent) error {
	h.Publish(event)
	return nil
}

func (h *BroadcastHub) SubscriberCount(auctionID string) int {
	h.mu.Lock()
	t, ok := h.topics[auctionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (h *BroadcastHub) topicFor(auctionID string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[auctionID] = t
	}
	return t
}

// dropIfIdle forgets a topic with no subscribers left.
func (h *BroadcastHub) dropIfIdle(auctionID string, t *topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) == 0 && h.topics[auctionID] == t {
		t.closed = true
		delete(h.topics, auctionID)
	}
}
