package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/iliyamo/lane-checkin/internal/log"
	"github.com/iliyamo/lane-checkin/internal/metrics"
)

const dropLogEvery = 100

// Hub is the in-process fan-out of lane events. Each subscriber owns a
// buffered channel; when it is full the event is dropped for that
// subscriber only, so one stalled observer never slows a lane down.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewHub returns a Hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscription is one observer's stream of a lane.
type Subscription struct {
	hub    *Hub
	laneID string
	ch     chan Event
	once   sync.Once
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set := h.subs[s.laneID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.laneID)
			}
		}
		close(s.ch)
		metrics.StreamSubscribers.Dec()
	})
}

// Subscribe registers an observer for laneID.
func (h *Hub) Subscribe(laneID string) *Subscription {
	sub := &Subscription{hub: h, laneID: laneID, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	set := h.subs[laneID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.subs[laneID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.StreamSubscribers.Inc()
	return sub
}

// Publish delivers ev to the lane's subscribers, or to every subscriber
// when ev.LaneID is AllLanes. It never blocks.
func (h *Hub) Publish(ev Event) {
	metrics.EventsBroadcastTotal.WithLabelValues(string(ev.Type)).Inc()
	h.mu.RLock()
	defer h.mu.RUnlock()
	if ev.LaneID == AllLanes {
		for _, set := range h.subs {
			h.deliver(set, ev)
		}
		return
	}
	h.deliver(h.subs[ev.LaneID], ev)
}

func (h *Hub) deliver(set map[*Subscription]struct{}, ev Event) {
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			metrics.IncDrop("subscriber_full")
			if n := h.dropped.Add(1); n%dropLogEvery == 1 {
				log.L().Warn().
					Str("lane_id", sub.laneID).
					Str("type", string(ev.Type)).
					Uint64("dropped", n).
					Msg("lane event dropped for slow subscriber")
			}
		}
	}
}

// Subscribers returns the number of observers of laneID.
func (h *Hub) Subscribers(laneID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[laneID])
}

var _ Broadcaster = (*Hub)(nil)
