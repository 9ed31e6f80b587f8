package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nvrd/nvrd/internal/capture"
	"github.com/nvrd/nvrd/internal/detector"
	"github.com/nvrd/nvrd/internal/session"
	"github.com/nvrd/nvrd/internal/sweep"
	"github.com/nvrd/nvrd/internal/transfer"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type nopMover struct{}

func (nopMover) Move(_ context.Context, localPath, _ string) error {
	return os.Remove(localPath)
}

var _ transfer.Mover = nopMover{}

func testRouter(t *testing.T, apiKey string) (http.Handler, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(session.Config{
		StateDir: t.TempDir(),
		Build: func(spec session.Spec) (*exec.Cmd, string, error) {
			return exec.Command("sleep", "60"), "/media/video/" + spec.Name + ".mp4", nil
		},
	})
	t.Cleanup(func() {
		for _, st := range reg.List() {
			if st.State == session.StateActive {
				_ = syscall.Kill(-st.PID, syscall.SIGKILL)
				_ = syscall.Kill(st.PID, syscall.SIGKILL)
			}
		}
		reg.SweepRecords()
	})

	sweeper := sweep.NewSweeper(sweep.Config{
		Root:         t.TempDir(),
		MinAge:       time.Second,
		Mover:        nopMover{},
		Lock:         &sweep.Lock{Token: detector.TokenFile{Path: filepath.Join(t.TempDir(), "sweep.lock")}},
		OpenForWrite: func(string) bool { return false },
	})

	r := NewRouter(Config{
		Registry: reg,
		Sweeper:  sweeper,
		FFmpeg:   &capture.FFmpeg{Bin: "/nonexistent/ffmpeg", MediaRoot: t.TempDir()},
		BasePath: "/api",
		APIKey:   apiKey,
	})
	return r.Handler(), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzUnauthenticated(t *testing.T) {
	h, _ := testRouter(t, "secret")
	w := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", w.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	h, _ := testRouter(t, "secret")

	w := doJSON(t, h, http.MethodGet, "/api/record/status", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d, want 401", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/record/status", nil, map[string]string{"X-Api-Key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key = %d, want 401", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/record/status", nil, map[string]string{"X-Api-Key": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("header key = %d, want 200", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/record/status?key=secret", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("query key = %d, want 200", w.Code)
	}
}

func TestAPIKeyDisabledWhenEmpty(t *testing.T) {
	h, _ := testRouter(t, "")
	w := doJSON(t, h, http.MethodGet, "/api/record/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status without auth config = %d, want 200", w.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h, _ := testRouter(t, "")

	w := doJSON(t, h, http.MethodPost, "/api/record/start",
		map[string]string{"name": "cam1", "source": "rtsp://host/stream"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d body=%s, want 200", w.Code, w.Body.String())
	}
	var st session.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if st.State != session.StateActive || st.PID <= 0 {
		t.Fatalf("start response = %+v", st)
	}

	// Second start for the same name conflicts.
	w = doJSON(t, h, http.MethodPost, "/api/record/start",
		map[string]string{"name": "cam1", "source": "rtsp://host/stream"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double start = %d, want 409", w.Code)
	}

	// Status reflects the live session.
	w = doJSON(t, h, http.MethodGet, "/api/record/status?name=cam1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != session.StateActive {
		t.Fatalf("status = %+v, want active", st)
	}

	w = doJSON(t, h, http.MethodPost, "/api/record/stop?name=cam1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop = %d, want 200", w.Code)
	}
	w = doJSON(t, h, http.MethodPost, "/api/record/stop?name=cam1", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("stop again = %d, want 404", w.Code)
	}
}

func TestStartRejectsUnsafeNames(t *testing.T) {
	h, _ := testRouter(t, "")
	for _, name := range []string{"", "a/b", "..", "a..b", "café"} {
		w := doJSON(t, h, http.MethodPost, "/api/record/start",
			map[string]string{"name": name, "source": "rtsp://h"}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("start %q = %d, want 400", name, w.Code)
		}
	}
}

func TestStartLaunchFailureIsServerError(t *testing.T) {
	reg := session.NewRegistry(session.Config{
		StateDir: t.TempDir(),
		Build: func(spec session.Spec) (*exec.Cmd, string, error) {
			return exec.Command("/nonexistent/ffmpeg"), "", nil
		},
	})
	r := NewRouter(Config{Registry: reg, BasePath: "/api"})
	h := r.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/record/start",
		map[string]string{"name": "cam1", "source": "rtsp://h"}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("launch failure = %d, want 500", w.Code)
	}
}

func TestStatusUnknownName(t *testing.T) {
	h, _ := testRouter(t, "")
	w := doJSON(t, h, http.MethodGet, "/api/record/status?name=nobody", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st session.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != session.StateNoRecord {
		t.Fatalf("state = %q, want no_record", st.State)
	}
}

func TestStatusList(t *testing.T) {
	h, _ := testRouter(t, "")
	doJSON(t, h, http.MethodPost, "/api/record/start",
		map[string]string{"name": "cam1", "source": "rtsp://h"}, nil)

	w := doJSON(t, h, http.MethodGet, "/api/record/status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200", w.Code)
	}
	var sts []session.Status
	if err := json.Unmarshal(w.Body.Bytes(), &sts); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(sts) != 1 || sts[0].Name != "cam1" {
		t.Fatalf("list = %+v", sts)
	}
}

func TestClearRecords(t *testing.T) {
	h, reg := testRouter(t, "")
	st, err := reg.Start(session.Spec{Name: "cam1", Source: "rtsp://h"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = syscall.Kill(-st.PID, syscall.SIGKILL) }()

	w := doJSON(t, h, http.MethodPost, "/api/record/clear", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear = %d, want 200", w.Code)
	}
	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Cleared != 1 {
		t.Fatalf("cleared = %d, want 1", out.Cleared)
	}
}

func TestSnapshotFailure(t *testing.T) {
	h, _ := testRouter(t, "")
	w := doJSON(t, h, http.MethodPost, "/api/snapshot",
		map[string]any{"name": "cam1", "source": "rtsp://h", "timeout_ms": 200}, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("snapshot with broken grabber = %d, want 502", w.Code)
	}
}

func TestSnapshotValidation(t *testing.T) {
	h, _ := testRouter(t, "")
	w := doJSON(t, h, http.MethodPost, "/api/snapshot",
		map[string]any{"name": "cam1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("snapshot without source = %d, want 400", w.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	h, _ := testRouter(t, "")
	w := doJSON(t, h, http.MethodPost, "/api/sweep", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep = %d, want 200", w.Code)
	}
	var sum sweep.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.LockHeld {
		t.Fatalf("summary = %+v, lock unexpectedly held", sum)
	}
}

func TestSanitizeBase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
	}
	for _, tt := range tests {
		if got := sanitizeBase(tt.in); got != tt.want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	for _, ok := range []string{"cam1", "front-door", "a.b_c-1"} {
		if !isSafeName(ok) {
			t.Errorf("isSafeName(%q) = false, want true", ok)
		}
	}
	for _, bad := range []string{"", "a/b", `a\b`, "..", "x..y", "a b", "café"} {
		if isSafeName(bad) {
			t.Errorf("isSafeName(%q) = true, want false", bad)
		}
	}
}
