package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lane-checkin/internal/model"
)

func runObserver(t *testing.T, o *Observer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("observer did not stop")
		}
	})
}

func TestObserverFollowsStream(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var auth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/lanes/lane-1/events", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("X-Kiosk-Token"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_ = WriteHeartbeat(w)
		_ = WriteSSE(w, NewEvent(SessionUpdated, "lane-1", "s1", snapAt("s1", t0, t0, model.StatusActive)))
		_ = WriteSSE(w, NewEvent(SelectionForced, "lane-1", "s1", SelectionPayload{RentalType: model.RentalLocker, By: model.ActorEmployee}))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	o := NewObserver(ObserverConfig{
		BaseURL: srv.URL, LaneID: "lane-1",
		Header:     http.Header{"X-Kiosk-Token": []string{"tok"}},
		GraceDelay: time.Hour,
	})
	runObserver(t, o)

	require.Eventually(t, func() bool {
		p := o.Projection()
		return p.Synced && p.Forced
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, o.Connected())
	assert.Equal(t, "s1", o.Projection().Snapshot.Session.ID)
	assert.Equal(t, "tok", auth.Load())
}

func TestObserverPollsWhileStreamIsDown(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/lanes/lane-1/events", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/v1/lanes/lane-1/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapAt("s7", t0, t0, model.StatusAwaitingSignature))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var changes atomic.Int32
	o := NewObserver(ObserverConfig{
		BaseURL: srv.URL, LaneID: "lane-1",
		GraceDelay:   50 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		OnChange:     func(Projection) { changes.Add(1) },
	})
	runObserver(t, o)

	require.Eventually(t, func() bool { return o.Projection().Synced }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, o.Connected())
	assert.Equal(t, model.StatusAwaitingSignature, o.Projection().Snapshot.Session.Status)
	assert.Positive(t, polls.Load())
	assert.Positive(t, changes.Load())
}

func TestObserverRefreshRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	o := NewObserver(ObserverConfig{BaseURL: srv.URL + "/", LaneID: "lane-1"})
	assert.Error(t, o.Refresh(context.Background()))
	assert.False(t, o.Projection().Synced)
}
