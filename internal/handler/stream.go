package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/service"
)

// StreamHandler serves lane observers: the snapshot endpoint and the
// server-sent event stream.
type StreamHandler struct {
	Hub       *realtime.Hub
	Snapshots *service.SnapshotService
	Heartbeat time.Duration
}

func NewStreamHandler(hub *realtime.Hub, snaps *service.SnapshotService, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{Hub: hub, Snapshots: snaps, Heartbeat: heartbeat}
}

// Snapshot returns the lane's current authoritative state.
func (h *StreamHandler) Snapshot(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	snap, err := h.Snapshots.ForLane(ctx, c.Param("lane"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Events streams the lane's events. The first frame is a SESSION_UPDATED
// carrying the current snapshot, so a client that reconnects converges
// without a separate poll.
func (h *StreamHandler) Events(c echo.Context) error {
	lane := c.Param("lane")
	sub := h.Hub.Subscribe(lane)
	defer sub.Close()

	ctx := c.Request().Context()
	snapCtx, cancel := reqCtx(c)
	snap, err := h.Snapshots.ForLane(snapCtx, lane)
	cancel()
	if err != nil {
		return fail(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	sessionID := ""
	if snap.Session != nil {
		sessionID = snap.Session.ID
	}
	if err := realtime.WriteSSE(res, realtime.NewEvent(realtime.SessionUpdated, lane, sessionID, snap)); err != nil {
		return nil
	}
	res.Flush()

	tick := time.NewTicker(h.Heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := realtime.WriteHeartbeat(res); err != nil {
				return nil
			}
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := realtime.WriteSSE(res, ev); err != nil {
				return nil
			}
		}
		res.Flush()
	}
}
