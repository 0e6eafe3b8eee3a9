package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/lane-checkin/internal/config"
	"github.com/iliyamo/lane-checkin/internal/database"
	"github.com/iliyamo/lane-checkin/internal/handler"
	"github.com/iliyamo/lane-checkin/internal/middleware"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/realtime"
	"github.com/iliyamo/lane-checkin/internal/repository"
	"github.com/iliyamo/lane-checkin/internal/router"
	"github.com/iliyamo/lane-checkin/internal/service"
	"github.com/iliyamo/lane-checkin/internal/utils"
)

const (
	jwtSecret   = "test-jwt"
	kioskSecret = "test-kiosk"
)

type server struct {
	t     *testing.T
	e     *echo.Echo
	svc   *service.Services
	hub   *realtime.Hub
	token string
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "lanes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.SQLite))

	inv := repository.NewInventoryRepo(db, database.SQLite)
	for _, n := range []int{101, 102, 103} {
		require.NoError(t, inv.CreateRoom(ctx, model.Room{ID: fmt.Sprintf("room-%d", n), Number: n, Type: "STANDARD", Status: model.ResourceClean}))
	}
	require.NoError(t, inv.CreateLocker(ctx, model.Locker{ID: "locker-1", Number: 1, Status: model.ResourceClean}))
	birth := time.Date(1988, 2, 1, 0, 0, 0, 0, time.UTC)
	customers := repository.NewCustomerRepo(db)
	for _, id := range []string{"cust-1", "cust-2"} {
		require.NoError(t, customers.Create(ctx, &model.Customer{ID: id, Name: "Guest " + id, BirthDate: &birth, CreatedAt: time.Now().UTC()}))
	}
	staff := repository.NewStaffRepo(db)
	_, err = staff.Create(ctx, "desk@example.com", "Front Desk", "correct-horse", router.RoleStaff, bcrypt.MinCost)
	require.NoError(t, err)

	hub := realtime.NewHub(32)
	svc := service.New(service.Deps{DB: db, Dialect: database.SQLite, Broadcaster: hub})

	cfg := config.Config{JWTSecret: jwtSecret, KioskSecret: kioskSecret, AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: bcrypt.MinCost}
	e := echo.New()
	e.Use(middleware.RequestLogger())
	none := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, staff, repository.NewTokenRepo(db)), jwtSecret, none)
	router.RegisterPublic(e, handler.NewPublicHandler(svc), none)
	router.RegisterStaff(e, handler.NewRegisterHandler(svc), jwtSecret)
	router.RegisterKiosk(e, handler.NewKioskHandler(svc), kioskSecret, none)
	router.RegisterObservers(e, handler.NewStreamHandler(hub, svc.Snapshots, 20*time.Millisecond), jwtSecret, kioskSecret)

	s := &server{t: t, e: e, svc: svc, hub: hub}
	var login struct {
		Access struct {
			Token string `json:"token"`
		} `json:"access"`
	}
	s.decode(s.call(http.MethodPost, "/v1/auth/login", map[string]string{"email": "desk@example.com", "password": "correct-horse"}, nil), http.StatusOK, &login)
	s.token = login.Access.Token
	require.NotEmpty(t, s.token)
	return s
}

func (s *server) call(method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) staff(method, path string, body any) *httptest.ResponseRecorder {
	return s.call(method, path, body, map[string]string{echo.HeaderAuthorization: "Bearer " + s.token})
}

func (s *server) kiosk(lane, path string, body any) *httptest.ResponseRecorder {
	return s.call(http.MethodPost, "/v1/kiosk/lanes/"+lane+path, body,
		map[string]string{middleware.KioskHeader: utils.KioskToken(kioskSecret, lane)})
}

func (s *server) decode(rec *httptest.ResponseRecorder, status int, v any) {
	s.t.Helper()
	require.Equal(s.t, status, rec.Code, rec.Body.String())
	if v != nil {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), v))
	}
}

type errResp struct {
	Error    string            `json:"error"`
	Guard    string            `json:"guard"`
	Resource string            `json:"resource"`
	RaceLost bool              `json:"race_lost"`
	Fields   map[string]string `json:"fields"`
}

// identify opens a session for customer on lane with the language set.
func (s *server) identify(lane, customer string) model.LaneSession {
	s.t.Helper()
	var sess model.LaneSession
	s.decode(s.staff(http.MethodPost, "/v1/register/lanes/"+lane+"/identify", map[string]any{"customer_id": customer}), http.StatusOK, &sess)
	s.decode(s.kiosk(lane, "/language", map[string]string{"language": "en"}), http.StatusOK, nil)
	return sess
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)

	bad := s.call(http.MethodPost, "/v1/auth/login", map[string]string{"email": "desk@example.com", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	var me map[string]string
	s.decode(s.staff(http.MethodGet, "/v1/me", nil), http.StatusOK, &me)
	assert.Equal(t, router.RoleStaff, me["role"])
	assert.NotEmpty(t, me["staff_id"])

	var pair struct {
		Refresh struct {
			Token string `json:"token"`
		} `json:"refresh"`
	}
	s.decode(s.call(http.MethodPost, "/v1/auth/login", map[string]string{"email": "DESK@example.com", "password": "correct-horse"}, nil), http.StatusOK, &pair)
	raw := pair.Refresh.Token

	s.decode(s.call(http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": raw}, nil), http.StatusOK, nil)
	// Rotated tokens cannot be replayed.
	assert.Equal(t, http.StatusUnauthorized, s.call(http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": raw}, nil).Code)

	assert.Equal(t, http.StatusNoContent, s.staff(http.MethodPost, "/v1/auth/logout", nil).Code)
}

func TestValidationErrorsNameFields(t *testing.T) {
	s := newServer(t)
	sess := s.identify("lane-1", "cust-1")

	var e errResp
	s.decode(s.staff(http.MethodPost, "/v1/register/sessions/"+sess.ID+"/propose", map[string]string{"rental_type": "PENTHOUSE"}), http.StatusBadRequest, &e)
	assert.Equal(t, "validation failed", e.Error)
	assert.Contains(t, e.Fields["rental_type"], "one of")

	s.decode(s.staff(http.MethodPost, "/v1/register/lanes/lane-1/identify", map[string]any{"renewal_hours": 3}), http.StatusBadRequest, &e)
	assert.Contains(t, e.Fields, "customer_id")
	assert.Contains(t, e.Fields, "renewal_hours")
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	s := newServer(t)

	var e errResp
	s.decode(s.kiosk("lane-9", "/confirm", map[string]any{}), http.StatusNotFound, &e)

	sess := s.identify("lane-1", "cust-1")
	s.decode(s.staff(http.MethodPost, "/v1/register/sessions/"+sess.ID+"/assign",
		map[string]string{"resource_type": "room", "resource_id": "room-101"}), http.StatusPreconditionFailed, &e)
	assert.Equal(t, "selection_confirmed", e.Guard)

	s.decode(s.staff(http.MethodPost, "/v1/register/lanes/lane-1/identify", map[string]any{"customer_id": "ghost"}), http.StatusNotFound, &e)

	// Lane 2 takes room-101 first; lane 1 then cannot have it.
	other := s.identify("lane-2", "cust-2")
	s.decode(s.kiosk("lane-2", "/propose", map[string]string{"rental_type": "STANDARD"}), http.StatusOK, nil)
	s.decode(s.kiosk("lane-2", "/confirm", map[string]any{}), http.StatusOK, nil)
	s.decode(s.staff(http.MethodPost, "/v1/register/sessions/"+other.ID+"/assign",
		map[string]string{"resource_type": "room", "resource_id": "room-101"}), http.StatusOK, nil)

	s.decode(s.kiosk("lane-1", "/propose", map[string]string{"rental_type": "STANDARD"}), http.StatusOK, nil)
	s.decode(s.kiosk("lane-1", "/confirm", map[string]any{}), http.StatusOK, nil)
	s.decode(s.staff(http.MethodPost, "/v1/register/sessions/"+sess.ID+"/assign",
		map[string]string{"resource_type": "room", "resource_id": "room-101"}), http.StatusConflict, &e)
	assert.Equal(t, "room-101", e.Resource)
}

func TestKioskTokenIsBoundToLane(t *testing.T) {
	s := newServer(t)
	s.identify("lane-1", "cust-1")
	rec := s.call(http.MethodPost, "/v1/kiosk/lanes/lane-1/confirm", map[string]any{},
		map[string]string{middleware.KioskHeader: utils.KioskToken(kioskSecret, "lane-2")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.call(http.MethodPost, "/v1/register/lanes/lane-1/reset", nil,
		map[string]string{middleware.KioskHeader: utils.KioskToken(kioskSecret, "lane-1")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "kiosks cannot drive the register")
}

func TestCheckinOverHTTP(t *testing.T) {
	s := newServer(t)

	var avail struct {
		Available map[string]int `json:"available"`
	}
	s.decode(s.call(http.MethodGet, "/v1/inventory/available", nil, nil), http.StatusOK, &avail)
	assert.Equal(t, 3, avail.Available["STANDARD"])

	sess := s.identify("lane-1", "cust-1")
	s.decode(s.kiosk("lane-1", "/propose", map[string]string{"rental_type": "STANDARD"}), http.StatusOK, nil)

	var confirmed struct {
		Session          model.LaneSession `json:"session"`
		AlreadyConfirmed bool              `json:"already_confirmed"`
	}
	s.decode(s.kiosk("lane-1", "/confirm", map[string]any{}), http.StatusOK, &confirmed)
	assert.True(t, confirmed.Session.SelectionConfirmed)
	s.decode(s.kiosk("lane-1", "/confirm", map[string]any{}), http.StatusOK, &confirmed)
	assert.True(t, confirmed.AlreadyConfirmed)

	base := "/v1/register/sessions/" + sess.ID
	s.decode(s.staff(http.MethodPost, base+"/acknowledge", nil), http.StatusOK, nil)
	s.decode(s.staff(http.MethodPost, base+"/payment-intent", nil), http.StatusCreated, nil)
	s.decode(s.staff(http.MethodPost, base+"/mark-paid", map[string]string{"method": "CASH"}), http.StatusOK, nil)

	var commit struct {
		Resource model.Resource `json:"resource"`
		Visit    model.Visit    `json:"visit"`
	}
	s.decode(s.kiosk("lane-1", "/sign", map[string]string{"signature": "J. Doe"}), http.StatusCreated, &commit)
	assert.Equal(t, model.ResourceOccupied, commit.Resource.Status)
	assert.Equal(t, model.RentalStandard, commit.Resource.Tier)

	s.decode(s.call(http.MethodGet, "/v1/inventory/available", nil, nil), http.StatusOK, &avail)
	assert.Equal(t, 2, avail.Available["STANDARD"])

	var info model.WaitlistInfo
	s.decode(s.call(http.MethodGet, "/v1/waitlist/info?tier=standard", nil, nil), http.StatusOK, &info)
	assert.Equal(t, 1, info.Position)
	require.NotNil(t, info.ETA)

	s.decode(s.kiosk("lane-1", "/checkout-request", map[string]string{"customer_id": "cust-1"}), http.StatusAccepted, nil)
	s.decode(s.staff(http.MethodPost, "/v1/register/visits/"+commit.Visit.ID+"/checkout", map[string]string{"lane_id": "lane-1"}), http.StatusOK, nil)
	s.decode(s.staff(http.MethodPost, "/v1/register/rooms/"+commit.Resource.ID+"/clean", nil), http.StatusOK, nil)
	s.decode(s.call(http.MethodGet, "/v1/inventory/available", nil, nil), http.StatusOK, &avail)
	assert.Equal(t, 3, avail.Available["STANDARD"])
}

func TestSnapshotRequiresLaneAccess(t *testing.T) {
	s := newServer(t)
	s.identify("lane-1", "cust-1")

	assert.Equal(t, http.StatusUnauthorized, s.call(http.MethodGet, "/v1/lanes/lane-1/snapshot", nil, nil).Code)

	var snap realtime.Snapshot
	rec := s.call(http.MethodGet, "/v1/lanes/lane-1/snapshot", nil,
		map[string]string{middleware.KioskHeader: utils.KioskToken(kioskSecret, "lane-1")})
	s.decode(rec, http.StatusOK, &snap)
	require.NotNil(t, snap.Session)
	require.NotNil(t, snap.Customer)
	assert.Equal(t, "cust-1", snap.Customer.ID)

	s.decode(s.staff(http.MethodGet, "/v1/lanes/lane-1/snapshot", nil), http.StatusOK, nil)
}

// readFrame returns the data line of the next SSE event, skipping heartbeats.
func readFrame(t *testing.T, r *bufio.Reader) realtime.Event {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			var ev realtime.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			return ev
		}
	}
}

func TestEventStreamStartsWithSnapshot(t *testing.T) {
	s := newServer(t)
	sess := s.identify("lane-1", "cust-1")
	ts := httptest.NewServer(s.e)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/v1/lanes/lane-1/events?kiosk_token="+utils.KioskToken(kioskSecret, "lane-1"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	r := bufio.NewReader(resp.Body)
	first := readFrame(t, r)
	assert.Equal(t, realtime.SessionUpdated, first.Type)
	assert.Equal(t, sess.ID, first.SessionID)

	s.decode(s.kiosk("lane-1", "/propose", map[string]string{"rental_type": "LOCKER"}), http.StatusOK, nil)
	var types []realtime.EventType
	for len(types) < 2 {
		types = append(types, readFrame(t, r).Type)
	}
	assert.Equal(t, []realtime.EventType{realtime.SelectionProposed, realtime.SessionUpdated}, types)
}
