package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/lane-checkin/internal/log"
)

// ObserverConfig configures an Observer.
type ObserverConfig struct {
	BaseURL      string      // e.g. http://register.local:8080
	LaneID       string      // lane to follow
	Header       http.Header // auth headers sent on both channels
	Client       *http.Client
	GraceDelay   time.Duration // stream must be down this long before polling starts
	PollInterval time.Duration
	OnChange     func(Projection) // called after every applied event or snapshot
}

// Observer keeps a Projection of one lane current. It follows the event
// stream and, once the stream has been down for GraceDelay, polls the
// snapshot endpoint every PollInterval until the stream is back. Both
// channels feed the same Projection, and a full snapshot can be applied
// at any time, so the two never need to coordinate.
type Observer struct {
	cfg ObserverConfig
	log zerolog.Logger

	mu        sync.Mutex
	proj      Projection
	connected bool
	downSince time.Time
}

// NewObserver returns an Observer; call Run to start it.
func NewObserver(cfg ObserverConfig) *Observer {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = 3 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Observer{
		cfg:       cfg,
		log:       log.WithComponent("observer").With().Str("lane_id", cfg.LaneID).Logger(),
		proj:      NewProjection(cfg.LaneID),
		downSince: time.Now(),
	}
}

// Projection returns the current belief.
func (o *Observer) Projection() Projection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.proj
}

// Connected reports whether the push channel is currently up.
func (o *Observer) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

// Run follows the lane until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.streamLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.pollLoop(ctx)
	}()
	wg.Wait()
	return nil
}

// Refresh fetches and applies one snapshot.
func (o *Observer) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.laneURL("snapshot"), nil)
	if err != nil {
		return err
	}
	o.setHeaders(req)
	resp, err := o.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot: unexpected status %d", resp.StatusCode)
	}
	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	o.update(func(p Projection) Projection { return p.ApplySnapshot(s) })
	return nil
}

func (o *Observer) laneURL(leaf string) string {
	return o.cfg.BaseURL + "/v1/lanes/" + url.PathEscape(o.cfg.LaneID) + "/" + leaf
}

func (o *Observer) setHeaders(req *http.Request) {
	for k, vs := range o.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func (o *Observer) update(fn func(Projection) Projection) {
	o.mu.Lock()
	o.proj = fn(o.proj)
	p := o.proj
	o.mu.Unlock()
	if o.cfg.OnChange != nil {
		o.cfg.OnChange(p)
	}
}

func (o *Observer) setConnected(up bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.connected && !up {
		o.downSince = time.Now()
	}
	o.connected = up
}

func (o *Observer) pollDue() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.connected && time.Since(o.downSince) >= o.cfg.GraceDelay
}

func (o *Observer) pollLoop(ctx context.Context) {
	t := time.NewTicker(o.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !o.pollDue() {
				continue
			}
			if err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
				o.log.Debug().Err(err).Msg("snapshot poll failed")
			}
		}
	}
}

func (o *Observer) streamLoop(ctx context.Context) {
	backoff := 200 * time.Millisecond
	for {
		err := o.stream(ctx)
		o.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errStreamOpened) {
			backoff = 200 * time.Millisecond
		} else if err != nil {
			o.log.Debug().Err(err).Dur("retry_in", backoff).Msg("event stream unavailable")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// errStreamOpened marks a stream that connected and later ended, so the
// reconnect backoff starts over.
var errStreamOpened = errors.New("stream ended")

func (o *Observer) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.laneURL("events"), nil)
	if err != nil {
		return err
	}
	o.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := o.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events: unexpected status %d", resp.StatusCode)
	}
	o.setConnected(true)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				o.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return errStreamOpened
}

func (o *Observer) dispatch(raw string) {
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		o.log.Debug().Err(err).Msg("bad event frame")
		return
	}
	o.update(func(p Projection) Projection { return p.Apply(ev) })
}
