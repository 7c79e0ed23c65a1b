package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mwidmann/capstan/internal/config"
	"github.com/mwidmann/capstan/internal/health"
	"github.com/mwidmann/capstan/internal/ledger"
	"github.com/mwidmann/capstan/internal/observe"
	"github.com/mwidmann/capstan/internal/recorder"
	sinkmock "github.com/mwidmann/capstan/internal/sink/mock"
	capmock "github.com/mwidmann/capstan/pkg/capture/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", LogLevel: config.LogInfo},
		Capture: config.CaptureConfig{
			Source:    "synth",
			Width:     1280,
			Height:    720,
			FrameRate: 30,
			Channels:  []config.Channel{config.ChannelVideo},
		},
		Filter:    config.FilterConfig{Display: "main"},
		Recording: config.RecordingConfig{Dir: "/tmp/capstan"},
	}
}

// newTestServer wires a monitor server to a mock-backed recorder and returns
// an httptest server driving its handler.
func newTestServer(t *testing.T) (*httptest.Server, *recorder.Recorder, *ledger.MemoryLedger) {
	t.Helper()

	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	led := ledger.NewMemory()
	rec := recorder.New(recorder.Config{
		Platform: &capmock.Platform{OpenResult: &capmock.Handle{}},
		Sink:     &sinkmock.Sink{StopLocation: "/var/spool/capstan/test"},
		Ledger:   led,
		Metrics:  met,
	})

	srv := New(testConfig().Server, Options{
		Recorder: rec,
		Ledger:   led,
		Metrics:  met,
		Snapshot: testConfig,
		Checkers: []health.Checker{
			{Name: "always_ok", Check: func(context.Context) error { return nil }},
		},
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = rec.Stop(context.Background()) })
	return ts, rec, led
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSession_IdleByDefault(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	var got sessionResponse
	if code := getJSON(t, ts.URL+"/v1/session", &got); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if got.State != "idle" {
		t.Errorf("state = %q, want idle", got.State)
	}
	if got.SessionID != "" {
		t.Errorf("session_id should be empty when idle, got %q", got.SessionID)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	t.Parallel()
	ts, rec, led := newTestServer(t)

	var started sessionResponse
	if code := postJSON(t, ts.URL+"/v1/session/start", "", &started); code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", code)
	}
	if started.State != "active" {
		t.Errorf("state after start = %q, want active", started.State)
	}
	if started.SessionID == "" {
		t.Error("start response should carry a session id")
	}
	if started.Configuration == nil || started.Configuration.Width != 1280 {
		t.Errorf("start response configuration = %+v", started.Configuration)
	}
	if rec.State() != recorder.StateActive {
		t.Errorf("recorder state = %v, want active", rec.State())
	}

	var stopped sessionResponse
	if code := postJSON(t, ts.URL+"/v1/session/stop", "", &stopped); code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", code)
	}
	if stopped.State != "idle" {
		t.Errorf("state after stop = %q, want idle", stopped.State)
	}
	if got := len(led.All()); got != 1 {
		t.Errorf("ledger records = %d, want 1", got)
	}
}

func TestStart_ConflictWhenActive(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	if code := postJSON(t, ts.URL+"/v1/session/start", "", nil); code != http.StatusCreated {
		t.Fatalf("first start status = %d, want 201", code)
	}

	var errResp errorResponse
	if code := postJSON(t, ts.URL+"/v1/session/start", "", &errResp); code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", code)
	}
	if errResp.Error == "" {
		t.Error("conflict response should carry an error message")
	}
}

func TestStart_FilterOverride(t *testing.T) {
	t.Parallel()
	ts, rec, _ := newTestServer(t)

	body := `{"display":"secondary","exclude_apps":["com.example.vault"]}`
	if code := postJSON(t, ts.URL+"/v1/session/start", body, nil); code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", code)
	}

	info, ok := rec.Info()
	if !ok {
		t.Fatal("no active session after start")
	}
	if info.Filter.Display != "secondary" {
		t.Errorf("display = %q, want secondary", info.Filter.Display)
	}
	if len(info.Filter.ExcludedApps) != 1 || info.Filter.ExcludedApps[0] != "com.example.vault" {
		t.Errorf("excluded apps = %v", info.Filter.ExcludedApps)
	}
}

func TestStart_BadBody(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	if code := postJSON(t, ts.URL+"/v1/session/start", "{not json", nil); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestStop_IdleIsOK(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	if code := postJSON(t, ts.URL+"/v1/session/stop", "", nil); code != http.StatusOK {
		t.Fatalf("stop while idle status = %d, want 200", code)
	}
}

func TestLevels_SilenceFloorWhenIdle(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	var got levelsResponse
	if code := getJSON(t, ts.URL+"/v1/levels", &got); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if got.AverageDB > -90 || got.PeakDB > -90 {
		t.Errorf("idle levels should sit at the silence floor, got %+v", got)
	}
}

func TestRecordings_ListAndLimit(t *testing.T) {
	t.Parallel()
	ts, _, led := newTestServer(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"session-a", "session-b", "session-c"} {
		rec := ledger.Record{
			ID:        id,
			Location:  "/var/spool/capstan/" + id,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + 5*time.Minute),
		}
		if err := led.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var all []recordingResponse
	if code := getJSON(t, ts.URL+"/v1/recordings", &all); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(all) != 3 {
		t.Fatalf("got %d recordings, want 3", len(all))
	}
	if all[0].ID != "session-c" {
		t.Errorf("first record = %q, want newest (session-c)", all[0].ID)
	}

	var limited []recordingResponse
	if code := getJSON(t, ts.URL+"/v1/recordings?limit=1", &limited); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(limited) != 1 {
		t.Errorf("got %d recordings with limit=1, want 1", len(limited))
	}

	var errResp errorResponse
	if code := getJSON(t, ts.URL+"/v1/recordings?limit=zero", &errResp); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		var got map[string]any
		if code := getJSON(t, ts.URL+path, &got); code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, code)
		}
		if got["status"] != "ok" {
			t.Errorf("%s status field = %v, want ok", path, got["status"])
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestLive_PushesStatusFrames(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/live"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial live feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read live frame: %v", err)
	}

	var frame liveFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal live frame: %v", err)
	}
	if frame.State != "idle" {
		t.Errorf("live state = %q, want idle", frame.State)
	}
	if frame.AverageDB > -90 {
		t.Errorf("live average = %v, want silence floor", frame.AverageDB)
	}
}
