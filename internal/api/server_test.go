package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/tempmon-core/internal/audit"
	"github.com/nerrad567/tempmon-core/internal/bridges/esp"
	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/database"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/logging"
	"github.com/nerrad567/tempmon-core/internal/reading"
	_ "github.com/nerrad567/tempmon-core/migrations" // embedded schema
)

// staticScanner answers every discovery round with the same nodes.
type staticScanner []esp.Announcement

func (s staticScanner) Discover(context.Context) ([]esp.Announcement, error) {
	return s, nil
}

// idleNode accepts every node command.
type idleNode struct{}

func (idleNode) Reset(context.Context, string) error                      { return nil }
func (idleNode) SetInterval(context.Context, string, time.Duration) error { return nil }
func (idleNode) SetTempDiff(context.Context, string, float64) error       { return nil }

type fakeProbe struct{ reachable bool }

func (p fakeProbe) IsReachable(context.Context) bool { return p.reachable }

type fakeConn struct{ connected bool }

func (c fakeConn) IsConnected() bool { return c.connected }

// failingReadings fails every query.
type failingReadings struct{}

func (failingReadings) ListRecent(context.Context, int, int) ([]reading.Record, error) {
	return nil, errors.New("disk gone")
}

func (failingReadings) ListSensors(context.Context) ([]reading.SensorSummary, error) {
	return nil, errors.New("disk gone")
}

// fixture holds the stores behind a test server.
type fixture struct {
	registry *device.Registry
	readings *reading.SQLRepository
	events   *audit.SQLRepository
	db       *database.DB
}

var testWSConfig = config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer builds a server over a migrated SQLite store and a registry
// holding two nodes: 192.168.0.21 with sensors 1 and 2, 192.168.0.5 with 3.
func testServer(t *testing.T) (*Server, *fixture) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "tempmon.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating database: %v", err)
	}

	registry := device.NewRegistry(staticScanner{
		{Address: "192.168.0.21", SensorIDs: []int{1, 2}},
		{Address: "192.168.0.5", SensorIDs: []int{3}},
	}, idleNode{})
	if _, err := registry.Discover(context.Background(), 1); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	fx := &fixture{
		registry: registry,
		readings: reading.NewSQLRepository(db),
		events:   audit.NewSQLRepository(db),
		db:       db,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(testWSConfig, testLogger())
	go hub.Run(ctx)

	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:       testWSConfig,
		Logger:   testLogger(),
		Registry: fx.registry,
		Readings: fx.readings,
		Events:   fx.events,
		DB:       fx.db,
		Hub:      hub,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, fx
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiredDeps(t *testing.T) {
	_, fx := testServer(t)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: fx.registry, Readings: fx.readings}},
		{"no registry", Deps{Logger: testLogger(), Readings: fx.readings}},
		{"no readings", Deps{Logger: testLogger(), Registry: fx.registry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); !errors.Is(err, ErrMissingDependency) {
				t.Errorf("New() error = %v, want ErrMissingDependency", err)
			}
		})
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.HealthCheck(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("HealthCheck() before Start = %v, want ErrNotStarted", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

func TestServer_StartServeClose(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // Test body
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	first, _ := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { first.Close() }) //nolint:errcheck // Test cleanup

	second, _ := testServer(t)
	second.cfg.Port = first.Addr().(*net.TCPAddr).Port
	if err := second.Start(context.Background()); err == nil {
		second.Close() //nolint:errcheck // Test cleanup
		t.Fatal("Start() on a bound port succeeded, want error")
	}
}

// ─── Health & Metrics ──────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := get(t, srv.buildRouter(), "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[healthResponse](t, w)
	want := healthResponse{Status: "ok", Version: "test", Devices: 2, Sensors: 3}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestHealth_Reachability(t *testing.T) {
	for _, reachable := range []bool{true, false} {
		srv, _ := testServer(t)
		srv.reachability = fakeProbe{reachable: reachable}

		resp := decode[healthResponse](t, get(t, srv.buildRouter(), "/api/v1/health"))
		if resp.Reachable == nil || *resp.Reachable != reachable {
			t.Fatalf("reachable = %v, want %v", resp.Reachable, reachable)
		}
		wantStatus := "ok"
		if !reachable {
			wantStatus = "degraded"
		}
		if resp.Status != wantStatus {
			t.Errorf("status = %q, want %q", resp.Status, wantStatus)
		}
	}
}

func TestMetrics(t *testing.T) {
	srv, fx := testServer(t)
	srv.mqtt = fakeConn{connected: true}
	fx.registry.AdvanceLastRequestTime(1, time.Now())
	fx.registry.AdvanceLastRequestTime(2, time.Now().Add(-2*time.Hour))

	w := get(t, srv.buildRouter(), "/api/v1/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	m := decode[SystemMetrics](t, w)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics version=%q goroutines=%d", m.Version, m.Runtime.Goroutines)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt metrics = %+v, want connected", m.MQTT)
	}
	wantDevices := DeviceMetrics{Total: 2, Sensors: 3, NeverPolled: 1, SensorsStale: 1}
	if diff := cmp.Diff(wantDevices, m.Devices); diff != "" {
		t.Errorf("device metrics mismatch (-want +got):\n%s", diff)
	}
	if m.Database.OpenConnections == 0 {
		t.Error("database metrics empty, want open connections")
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := get(t, srv.buildRouter(), "/api/v1/health")

	if requestID := w.Header().Get("X-Request-ID"); len(requestID) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", requestID)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"open when unconfigured", nil, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"http://dash.local"}, "http://dash.local", "http://dash.local"},
		{"wildcard", []string{"*"}, "http://any.local", "http://any.local"},
		{"unlisted origin", []string{"http://dash.local"}, "http://evil.local", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t)
			srv.cfg.CORS.AllowedOrigins = tt.allowed

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := get(t, h, "/")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if e := decode[Error](t, w); e.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeInternal)
	}
}

func TestRouter_Errors(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"unknown route", http.MethodGet, "/api/v1/nonexistent", http.StatusNotFound, ErrCodeNotFound},
		{"write method", http.MethodPost, "/api/v1/devices", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if e := decode[Error](t, w); e.Code != tt.code || e.Status != tt.status {
				t.Errorf("body = %+v, want code %q", e, tt.code)
			}
		})
	}
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler { //nolint:errorlint // Sentinel panic value
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	get(t, h, "/")
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t)
	w := get(t, srv.buildRouter(), "/api/v1/devices")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	resp := decode[struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}](t, w)

	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	// Numeric address order: .5 before .21.
	if resp.Devices[0].Address != "192.168.0.5" || resp.Devices[1].Address != "192.168.0.21" {
		t.Errorf("order = %s, %s", resp.Devices[0].Address, resp.Devices[1].Address)
	}
	if diff := cmp.Diff([]int{1, 2}, resp.Devices[1].SensorIDs); diff != "" {
		t.Errorf("sensor ids mismatch (-want +got):\n%s", diff)
	}
}

func TestGetDevice(t *testing.T) {
	srv, fx := testServer(t)
	polled := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx.registry.AdvanceLastRequestTime(2, polled)

	w := get(t, srv.buildRouter(), "/api/v1/devices/192.168.0.21")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	resp := decode[deviceDetail](t, w)
	want := []device.Sensor{
		{ID: 1, Address: "192.168.0.21"},
		{ID: 2, Address: "192.168.0.21", LastRequestTime: polled},
	}
	if diff := cmp.Diff(want, resp.Sensors); diff != "" {
		t.Errorf("sensors mismatch (-want +got):\n%s", diff)
	}
	if resp.State != device.StateActive {
		t.Errorf("state = %q, want active", resp.State)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := get(t, srv.buildRouter(), "/api/v1/devices/10.0.0.99")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Sensors & Readings ────────────────────────────────────────────

func TestListSensors_MergesRegistryAndStore(t *testing.T) {
	srv, fx := testServer(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Sensor 9 has history but its node is gone.
	for _, rd := range []reading.Reading{
		{SensorID: 1, Temperature: 21.5, ObservedAt: at},
		{SensorID: 1, Temperature: 22, ObservedAt: at.Add(time.Minute)},
		{SensorID: 9, Temperature: 18.25, ObservedAt: at},
	} {
		if _, _, err := fx.readings.InsertIfNotDuplicate(ctx, rd); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	w := get(t, srv.buildRouter(), "/api/v1/sensors")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[struct {
		Sensors []sensorView `json:"sensors"`
	}](t, w)

	temp1, time1 := 22.0, at.Add(time.Minute)
	temp9 := 18.25
	want := []sensorView{
		{ID: 1, Address: "192.168.0.21", Registered: true, Records: 2, LastTemperature: &temp1, LastTime: &time1},
		{ID: 2, Address: "192.168.0.21", Registered: true},
		{ID: 3, Address: "192.168.0.5", Registered: true},
		{ID: 9, Records: 1, LastTemperature: &temp9, LastTime: &at},
	}
	if diff := cmp.Diff(want, resp.Sensors); diff != "" {
		t.Errorf("sensors mismatch (-want +got):\n%s", diff)
	}
}

func TestListReadings(t *testing.T) {
	srv, fx := testServer(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, temp := range []float64{20, 20.5, 21} {
		rd := reading.Reading{SensorID: 3, Temperature: temp, ObservedAt: at.Add(time.Duration(i) * time.Minute)}
		if _, _, err := fx.readings.InsertIfNotDuplicate(ctx, rd); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	w := get(t, srv.buildRouter(), "/api/v1/sensors/3/readings?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		SensorID int              `json:"sensor_id"`
		Readings []reading.Record `json:"readings"`
		Count    int              `json:"count"`
	}](t, w)

	if resp.SensorID != 3 || resp.Count != 2 {
		t.Fatalf("sensor_id=%d count=%d, want 3 and 2", resp.SensorID, resp.Count)
	}
	if resp.Readings[0].Temperature != 21 || resp.Readings[1].Temperature != 20.5 {
		t.Errorf("readings = %+v, want newest first", resp.Readings)
	}
}

func TestListReadings_EmptySeries(t *testing.T) {
	srv, _ := testServer(t)
	w := get(t, srv.buildRouter(), "/api/v1/sensors/2/readings")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"readings":[]`) {
		t.Errorf("body = %s, want an empty readings array", w.Body.String())
	}
}

func TestListReadings_BadInput(t *testing.T) {
	srv, _ := testServer(t)
	for _, target := range []string{
		"/api/v1/sensors/abc/readings",
		"/api/v1/sensors/0/readings",
		"/api/v1/sensors/3/readings?limit=-1",
		"/api/v1/sensors/3/readings?limit=many",
	} {
		if w := get(t, srv.buildRouter(), target); w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, w.Code)
		}
	}
}

func TestReadings_StoreFailure(t *testing.T) {
	srv, _ := testServer(t)
	srv.readings = failingReadings{}

	for _, target := range []string{"/api/v1/sensors", "/api/v1/sensors/1/readings"} {
		if w := get(t, srv.buildRouter(), target); w.Code != http.StatusInternalServerError {
			t.Errorf("GET %s status = %d, want 500", target, w.Code)
		}
	}
}

// ─── Events ────────────────────────────────────────────────────────

func TestListEvents(t *testing.T) {
	srv, fx := testServer(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []*audit.Entry{
		{Action: "added", Address: "192.168.0.21", SensorIDs: []int{1, 2}},
		{Action: "added", Address: "192.168.0.5", SensorIDs: []int{3}},
		{Action: "removed", Address: "192.168.0.5", SensorIDs: []int{3}},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := fx.events.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		query   string
		total   int
		actions []string
	}{
		{"", 3, []string{"removed", "added", "added"}},
		{"?action=added", 2, []string{"added", "added"}},
		{"?address=192.168.0.5", 2, []string{"removed", "added"}},
		{"?limit=1&offset=1", 3, []string{"added"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := get(t, srv.buildRouter(), "/api/v1/events"+tt.query)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			res := decode[audit.ListResult](t, w)
			var actions []string
			for _, e := range res.Events {
				actions = append(actions, e.Action)
			}
			if res.Total != tt.total {
				t.Errorf("total = %d, want %d", res.Total, tt.total)
			}
			if diff := cmp.Diff(tt.actions, actions); diff != "" {
				t.Errorf("actions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListEvents_Errors(t *testing.T) {
	srv, _ := testServer(t)
	if w := get(t, srv.buildRouter(), "/api/v1/events?offset=-3"); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d, want 400", w.Code)
	}

	srv.events = nil
	if w := get(t, srv.buildRouter(), "/api/v1/events"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", w.Code)
	}
}

// ─── Stream ────────────────────────────────────────────────────────

// runHub starts a hub that stops with the test.
func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testWSConfig, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// attachSubscriber attaches a connectionless subscriber listening on channels.
func attachSubscriber(t *testing.T, hub *Hub, channels ...string) *subscriber {
	t.Helper()
	s := newSubscriber(nil)
	s.set(channels, true)
	if !hub.attach(s) {
		t.Fatal("attach() = false on a running hub")
	}
	return s
}

func nextFrame(t *testing.T, s *subscriber) Frame {
	t.Helper()
	select {
	case data, ok := <-s.out:
		if !ok {
			t.Fatal("subscriber queue closed")
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func expectQuiet(t *testing.T, s *subscriber) {
	t.Helper()
	select {
	case data := <-s.out:
		t.Errorf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Subscribers() = %d, want %d", hub.Subscribers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_ReadingProcessed(t *testing.T) {
	hub := runHub(t)
	readings := attachSubscriber(t, hub, ChannelReadingPersisted)
	devices := attachSubscriber(t, hub, ChannelDeviceChanged)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hub.ReadingProcessed(context.Background(), reading.Outcome{
		Reading: reading.Reading{SensorID: 3, Temperature: 21.5, ObservedAt: at},
		Action:  reading.ActionSkip,
	})
	hub.ReadingProcessed(context.Background(), reading.Outcome{
		Reading: reading.Reading{SensorID: 3, Temperature: 21.5, ObservedAt: at},
		Action:  reading.ActionCoalesce,
		Record:  reading.Record{ID: 12, Time: at},
	})

	f := nextFrame(t, readings)
	if f.Kind != FrameEvent || f.Channel != ChannelReadingPersisted {
		t.Errorf("kind=%q channel=%q", f.Kind, f.Channel)
	}
	var got ReadingEvent
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	want := ReadingEvent{SensorID: 3, Temperature: 21.5, ObservedAt: at, Action: "coalesce", RecordID: 12, RecordTime: at}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	expectQuiet(t, readings)
	expectQuiet(t, devices)
}

func TestHub_DeviceEvent(t *testing.T) {
	hub := runHub(t)
	devices := attachSubscriber(t, hub, ChannelDeviceChanged)
	idle := attachSubscriber(t, hub)

	hub.DeviceEvent(context.Background(), device.Event{Action: device.ActionRemoved, Address: "192.168.0.5", SensorIDs: []int{3}})

	f := nextFrame(t, devices)
	var got device.Event
	if err := json.Unmarshal(f.Data, &got); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if f.Channel != ChannelDeviceChanged || got.Action != device.ActionRemoved || got.Address != "192.168.0.5" {
		t.Errorf("frame = %+v, event = %+v", f, got)
	}
	expectQuiet(t, idle)
}

func TestHub_EvictsSlowSubscriber(t *testing.T) {
	hub := runHub(t)
	slow := attachSubscriber(t, hub, ChannelDeviceChanged)
	waitSubscribers(t, hub, 1)

	for i := 0; i <= subscriberBuffer; i++ {
		hub.DeviceEvent(context.Background(), device.Event{Action: device.ActionAdded, Address: "192.168.0.5"})
	}
	waitSubscribers(t, hub, 0)

	drained := 0
	for range slow.out {
		drained++
	}
	if drained != subscriberBuffer {
		t.Errorf("drained %d frames, want %d", drained, subscriberBuffer)
	}
}

func TestHub_Lifecycle(t *testing.T) {
	hub := NewHub(testWSConfig, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	first := attachSubscriber(t, hub)
	second := attachSubscriber(t, hub)
	waitSubscribers(t, hub, 2)

	hub.detach(first)
	hub.detach(first)
	waitSubscribers(t, hub, 1)
	if _, ok := <-first.out; ok {
		t.Error("detached subscriber queue still open")
	}

	cancel()
	<-done
	if hub.Subscribers() != 0 {
		t.Errorf("after shutdown Subscribers() = %d, want 0", hub.Subscribers())
	}
	if _, ok := <-second.out; ok {
		t.Error("subscriber queue still open after shutdown")
	}
	if hub.attach(newSubscriber(nil)) {
		t.Error("attach() = true on a stopped hub")
	}
}

func TestWebSocket_SubscribeAndStream(t *testing.T) {
	srv, fx := testServer(t)
	fx.registry.AddSink(srv.Hub())

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	send := func(kind, ref string, channels ...string) {
		t.Helper()
		f := Frame{Kind: kind, Ref: ref}
		if channels != nil {
			f.Data, _ = json.Marshal(ChannelList{Channels: channels}) //nolint:errcheck // Static input
		}
		if err := conn.WriteJSON(f); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	read := func() Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		return f
	}

	send(FrameSubscribe, "1", "sensors.everything")
	if f := read(); f.Kind != FrameError || f.Ref != "1" {
		t.Errorf("unknown channel reply = %+v, want error", f)
	}

	send(FrameSubscribe, "2")
	if f := read(); f.Kind != FrameError || f.Ref != "2" {
		t.Errorf("missing channels reply = %+v, want error", f)
	}

	send(FrameSubscribe, "3", ChannelDeviceChanged)
	if f := read(); f.Kind != FrameAck || f.Ref != "3" {
		t.Fatalf("subscribe reply = %+v, want ack", f)
	}

	fx.registry.Disconnect(context.Background(), "192.168.0.5")

	f := read()
	var ev device.Event
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if f.Channel != ChannelDeviceChanged || ev.Action != device.ActionRemoved {
		t.Errorf("event = %+v, want device removal", f)
	}

	send(FramePing, "4")
	if f := read(); f.Kind != FramePong || f.Ref != "4" {
		t.Errorf("ping reply = %+v, want pong", f)
	}
}

// Compile-time checks that the production types plug into the server.
var (
	_ DeviceSource     = (*device.Registry)(nil)
	_ ReadingSource    = (*reading.SQLRepository)(nil)
	_ PoolStats        = (*database.DB)(nil)
	_ reading.Sink     = (*Hub)(nil)
	_ device.EventSink = (*Hub)(nil)
)
