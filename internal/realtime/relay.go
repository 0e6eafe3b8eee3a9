package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/lane-checkin/internal/log"
	"github.com/iliyamo/lane-checkin/internal/metrics"
)

// RedisRelay extends a Hub across server instances. Events published on
// this instance are delivered locally at once and copied to a Redis
// channel; events other instances put on that channel are delivered to
// the local Hub. Observers connected to any instance therefore see every
// lane event.
type RedisRelay struct {
	rdb     redis.UniversalClient
	hub     *Hub
	channel string
	origin  string
	log     zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewRedisRelay returns a relay publishing on the channel named prefix.
func NewRedisRelay(rdb redis.UniversalClient, hub *Hub, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "lane-events"
	}
	return &RedisRelay{
		rdb:     rdb,
		hub:     hub,
		channel: prefix,
		origin:  uuid.NewString(),
		log:     log.WithComponent("relay"),
		ready:   make(chan struct{}),
	}
}

// Publish delivers ev locally and forwards it to the other instances.
// Redis failures are logged and counted; local delivery is unaffected.
func (r *RedisRelay) Publish(ev Event) {
	r.hub.Publish(ev)
	body, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		metrics.IncDrop("relay_encode")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, body).Err(); err != nil {
		metrics.IncDrop("relay_publish")
		r.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("relay publish failed")
	}
}

// Ready is closed once Run has subscribed.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run consumes events from other instances until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = ps.Close() }()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay: subscription closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				metrics.IncDrop("relay_decode")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Publish(env.Event)
		}
	}
}

var _ Broadcaster = (*RedisRelay)(nil)
