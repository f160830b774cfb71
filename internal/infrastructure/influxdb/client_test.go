package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/anthem-core/internal/infrastructure/config"
	"github.com/nerrad567/anthem-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

var t0 = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	srv        *httptest.Server
	pingStatus int

	mu     sync.Mutex
	writes []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(f.pingStatus)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.srv.URL,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "anthem",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// recorder is a PointWriter that keeps every point.
type recorder struct {
	mu     sync.Mutex
	points []*write.Point
}

func (r *recorder) WritePoint(p *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.points))
	for i, p := range r.points {
		out[i] = strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	}
	return out
}

func showering() state.DeviceState {
	return state.DeviceState{
		Connection: state.ConnectionConnected,
		System: state.System{
			Mode:           state.SystemShowerInProgress,
			ActivePresetID: "p1",
			Ready:          true,
			TotalFlow:      2.5,
		},
		Warmup: state.Warmup{Enabled: true},
		Valves: map[int]state.Valve{
			2: {Index: 2, TemperatureSetpoint: 36, FlowSetpoint: 50},
			1: {
				Index:               1,
				TemperatureSetpoint: 38,
				FlowSetpoint:        100,
				AtTemperature:       true,
				Mode:                valve.ModeShowerhead,
				Outlets:             [state.OutletCount]state.Outlet{{Index: 1, Enabled: true}},
			},
		},
		LastUpdateSource: state.SourceRealtime,
		LastUpdateTime:   t0,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := newFakeInflux(t).config()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := newFakeInflux(t).config()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	f := newFakeInflux(t)
	f.pingStatus = http.StatusServiceUnavailable

	_, err := influxdb.Connect(context.Background(), f.config())
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with default batch settings")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose_Idempotent(t *testing.T) {
	client, err := influxdb.Connect(context.Background(), newFakeInflux(t).config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after close are dropped.
	client.WritePoint(write.NewPoint("x", nil, map[string]any{"v": 1}, t0))
	client.Flush()
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestExporter_Points(t *testing.T) {
	rec := &recorder{}
	influxdb.NewExporter(rec).Export("gcs-1", showering())

	lines := rec.lines()
	if len(lines) != 3 {
		t.Fatalf("Export() wrote %d points, want 3: %v", len(lines), lines)
	}

	shower := lines[0]
	for _, want := range []string{
		"shower_state,device_id=gcs-1,source=realtime ",
		`active_preset="p1"`,
		"connected=true",
		"showering=true",
		`system_mode="shower_in_progress"`,
		"total_flow=2.5",
		"warmup_enabled=true",
	} {
		if !strings.Contains(shower, want) {
			t.Errorf("shower point = %q, want %q", shower, want)
		}
	}
	if !strings.HasSuffix(shower, " "+strconv.FormatInt(t0.UnixNano(), 10)) {
		t.Errorf("shower point = %q, want timestamp %d", shower, t0.UnixNano())
	}

	// Valves are written in index order.
	if !strings.HasPrefix(lines[1], "valve_state,device_id=gcs-1,valve=1 ") {
		t.Errorf("valve point 1 = %q", lines[1])
	}
	for _, want := range []string{"temperature_setpoint=38", "flow_setpoint=100", "at_temperature=true", "open_outlets=1i", `mode="showerhead"`} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("valve point 1 = %q, want %q", lines[1], want)
		}
	}
	if !strings.HasPrefix(lines[2], "valve_state,device_id=gcs-1,valve=2 ") {
		t.Errorf("valve point 2 = %q", lines[2])
	}
	if strings.Contains(lines[2], "mode=") {
		t.Errorf("valve point 2 = %q, want no mode field", lines[2])
	}
}

func TestExporter_OmitsUnknownFields(t *testing.T) {
	rec := &recorder{}
	influxdb.NewExporter(rec).Export("gcs-1", state.DeviceState{Connection: state.ConnectionDisconnected})

	lines := rec.lines()
	if len(lines) != 1 {
		t.Fatalf("Export() wrote %d points, want 1", len(lines))
	}
	for _, unwanted := range []string{"source=", "system_mode=", "active_preset="} {
		if strings.Contains(lines[0], unwanted) {
			t.Errorf("point = %q, want no %q", lines[0], unwanted)
		}
	}
	if !strings.Contains(lines[0], "connected=false") {
		t.Errorf("point = %q, want connected=false", lines[0])
	}
}

func TestExporter_StoreListener(t *testing.T) {
	rec := &recorder{}
	store := state.NewStore()
	store.OnChange(influxdb.NewExporter(rec).Listener())

	store.Observe("gcs-1")
	if n := len(rec.lines()); n != 0 {
		t.Fatalf("Observe() exported %d points, want 0", n)
	}

	st := showering()
	store.ApplyRestState("gcs-1", st, t0)
	lines := rec.lines()
	if len(lines) != 3 {
		t.Fatalf("ApplyRestState() exported %d points, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "source=rest") {
		t.Errorf("shower point = %q, want source=rest", lines[0])
	}

	// A stale snapshot changes nothing and exports nothing.
	store.ApplyRestState("gcs-1", st, t0.Add(-time.Minute))
	if n := len(rec.lines()); n != 3 {
		t.Errorf("stale ApplyRestState() exported %d points total, want 3", n)
	}
}

func TestExporter_WritesThroughClient(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	influxdb.NewExporter(client).Export("gcs-1", showering())
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(f.body(), "valve_state,device_id=gcs-1,valve=2") {
		if time.Now().After(deadline) {
			t.Fatalf("write body = %q, want valve_state points", f.body())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(f.body(), "shower_state,device_id=gcs-1") {
		t.Errorf("write body = %q, want shower_state point", f.body())
	}

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}
