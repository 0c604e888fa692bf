package webui

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sciglob/em27-enclosure/auth"
	"github.com/sciglob/em27-enclosure/core"
	"github.com/sciglob/em27-enclosure/history"
)

type fakeCover struct {
	opens, closes int
	err           error
}

func (c *fakeCover) OpenCover() error {
	if c.err != nil {
		return c.err
	}
	c.opens++
	return nil
}

func (c *fakeCover) CloseCover() error {
	if c.err != nil {
		return c.err
	}
	c.closes++
	return nil
}

type fakeClimateCtl struct {
	setpoint float64
	powerOn  bool
	err      error
}

func (c *fakeClimateCtl) SetSetpoint(deg float64) error {
	if c.err != nil {
		return c.err
	}
	c.setpoint = deg
	return nil
}

func (c *fakeClimateCtl) SetPower(on bool) error {
	if c.err != nil {
		return c.err
	}
	c.powerOn = on
	return nil
}

type testServer struct {
	handler *Handler
	mux     *http.ServeMux
	hub     *core.Hub
	ring    *history.Ring
	cover   *fakeCover
	climate *fakeClimateCtl
}

func newTestServer(t *testing.T, a *auth.Authenticator) *testServer {
	t.Helper()
	s := &testServer{
		hub:     core.NewHub(),
		ring:    history.New(100),
		cover:   &fakeCover{},
		climate: &fakeClimateCtl{},
		mux:     http.NewServeMux(),
	}
	t.Cleanup(s.hub.Close)
	s.handler = New(s.hub, s.ring, s.cover, s.climate, nil, a, zap.NewNop().Sugar())
	s.handler.RegisterRoutes(s.mux)
	return s
}

func openAuth() *auth.Authenticator { return auth.New("", "") }

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())
	s.hub.Broadcast(&core.Event{
		Type: core.EventClimateReading, Device: core.DeviceClimate, Time: time.Now(),
		Climate: &core.ClimateReading{Temperature: 21.5, Setpoint: 20, Time: time.Now()},
	})

	deadline := time.Now().Add(time.Second)
	var st core.StationStatus
	for time.Now().Before(deadline) {
		st = s.handler.Status()
		if st.ClimateState != nil {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if st.ClimateState == nil {
		t.Fatal("status fold did not pick up the reading")
	}

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: want 200, got %d", rec.Code)
	}
	var got core.StationStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ClimateState == nil || got.ClimateState.Temperature != 21.5 {
		t.Errorf("climate state: want 21.5, got %+v", got.ClimateState)
	}
}

func TestCoverCommands(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/cover/close", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("close: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.cover.closes != 1 {
		t.Errorf("closes: want 1, got %d", s.cover.closes)
	}

	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/cover/open", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on command: want 405, got %d", rec.Code)
	}
	if s.cover.opens != 0 {
		t.Errorf("opens after GET: want 0, got %d", s.cover.opens)
	}
}

func TestCoverOpenBlockedMapsToConflict(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())
	s.cover.err = &core.ValidationError{Field: "cover", Msg: "open blocked while raining"}

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/cover/open", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("want 409 for interlock rejection, got %d", rec.Code)
	}
}

func TestClimateSetpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())

	body := bytes.NewBufferString(`{"setpoint_c": 22.5}`)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/climate/setpoint", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.climate.setpoint != 22.5 {
		t.Errorf("setpoint: want 22.5, got %v", s.climate.setpoint)
	}
}

func TestACEndpointsWithoutUnit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())

	body := bytes.NewBufferString(`{"setpoint_c": 25}`)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ac/setpoint", body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("want 404 with no AC configured, got %d", rec.Code)
	}
}

func TestControlEndpointsRequireAuth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, auth.New("observer", "secret"))

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/cover/close", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated command: want 401, got %d", rec.Code)
	}
	if s.cover.closes != 0 {
		t.Error("command executed without credentials")
	}

	req := httptest.NewRequest("POST", "/api/cover/close", nil)
	req.SetBasicAuth("observer", "secret")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated command: want 200, got %d", rec.Code)
	}

	// Reads stay public.
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status read: want 200, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())
	temp := 21.0
	s.ring.Add(history.Point{Time: time.Now().Add(-30 * time.Minute), ClimateTemp: &temp})
	s.ring.Add(history.Point{Time: time.Now().Add(-2 * time.Hour), ClimateTemp: &temp})

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history?minutes=60", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var resp struct {
		Minutes int             `json:"minutes"`
		Points  []history.Point `json:"points"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Points) != 1 {
		t.Errorf("points within the hour: want 1, got %d", len(resp.Points))
	}

	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history?minutes=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad minutes: want 400, got %d", rec.Code)
	}
}

func TestDashboardRenders(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openAuth())
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("EM27 Enclosure")) {
		t.Error("dashboard missing title")
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("cover-state")) {
		t.Error("dashboard missing cover block")
	}
}
