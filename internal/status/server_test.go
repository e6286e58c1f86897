package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/bridge"
	"github.com/getcharzp/sam2-td/internal/prompt"
)

type fixedStats bridge.Stats

func (f fixedStats) Stats() bridge.Stats { return bridge.Stats(f) }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: invalid JSON %q: %v", path, rec.Body.String(), err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := NewServer("127.0.0.1:0", fixedStats{}, nil, zap.NewNop())
	rec, body := get(t, s.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["status"] != "alive" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["uptime"].(float64); !ok {
		t.Errorf("uptime should be a number: %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestStatus(t *testing.T) {
	s := NewServer("127.0.0.1:0", fixedStats{
		Frames:      900,
		Inferences:  30,
		Mode:        prompt.ModeBox,
		LastCount:   1,
		LatencyMean: 20 * time.Millisecond,
		LatencyP95:  35 * time.Millisecond,
		Uptime:      30 * time.Second,
		InputError:  "ffmpeg exited",
	}, nil, zap.NewNop())

	rec, body := get(t, s.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if body["frames"] != float64(900) || body["inferences"] != float64(30) || body["mode"] != "box" {
		t.Errorf("unexpected body %v", body)
	}
	if body["latency_mean_ms"] != float64(20) || body["latency_p95_ms"] != float64(35) || body["uptime"] != float64(30) {
		t.Errorf("unexpected timing fields %v", body)
	}
	if body["input_error"] != "ffmpeg exited" {
		t.Errorf("input error should be reported: %v", body)
	}
}

func TestPrompt(t *testing.T) {
	state := prompt.NewState(100, 100)
	state.SetMode(prompt.ModePoint)
	if _, err := state.AddPoint(0.5, 0.25, 0); err != nil {
		t.Fatal(err)
	}
	s := NewServer("127.0.0.1:0", fixedStats{}, state, zap.NewNop())

	rec, body := get(t, s.Handler(), "/prompt")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	points, ok := body["points"].([]any)
	if body["mode"] != "point" || !ok || len(points) != 1 {
		t.Fatalf("unexpected body %v", body)
	}
	p := points[0].(map[string]any)
	if p["x"] != float64(50) || p["y"] != float64(25) || p["positive"] != false {
		t.Errorf("unexpected point %v", p)
	}

	rec, _ = get(t, NewServer("127.0.0.1:0", fixedStats{}, nil, zap.NewNop()).Handler(), "/prompt")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without prompt state, got %d", rec.Code)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := NewServer(addr, fixedStats{}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server did not come up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
