package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nvrd/nvrd/internal/capture"
	"github.com/nvrd/nvrd/internal/history"
	"github.com/nvrd/nvrd/internal/metrics"
	"github.com/nvrd/nvrd/internal/notify"
	"github.com/nvrd/nvrd/internal/session"
	"github.com/nvrd/nvrd/internal/sweep"
)

// Router provides the HTTP control surface for the recorder.
// Endpoints (under basePath):
//
//	POST /record/start   body: {name, source, trace_id}
//	POST /record/stop    query: name=...
//	GET  /record/status  query: name=... (single) or none (list)
//	POST /record/clear   administrative registry reset
//	POST /snapshot       body: {name, source, trace_id, timeout_ms}
//	POST /sweep          run one upload sweep now
//	GET  /healthz        liveness probe, unauthenticated
//
// Every other endpoint requires the shared secret via ?key= or X-Api-Key.
type Router struct {
	reg      *session.Registry
	sweeper  *sweep.Sweeper
	ffmpeg   *capture.FFmpeg
	basePath string
	apiKey   string
	logger   *slog.Logger
	sink     history.Sink
	notifier notify.Notifier
}

// Config wires a Router.
type Config struct {
	Registry *session.Registry
	Sweeper  *sweep.Sweeper
	FFmpeg   *capture.FFmpeg
	BasePath string
	APIKey   string
	Logger   *slog.Logger
	Sink     history.Sink
	Notifier notify.Notifier
}

func NewRouter(cfg Config) *Router {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{
		reg:      cfg.Registry,
		sweeper:  cfg.Sweeper,
		ffmpeg:   cfg.FFmpeg,
		basePath: sanitizeBase(cfg.BasePath),
		apiKey:   cfg.APIKey,
		logger:   l,
		sink:     cfg.Sink,
		notifier: cfg.Notifier,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })

	group := g.Group(r.basePath)
	group.Use(requireAPIKey(r.apiKey))
	group.POST("/record/start", r.handleStart)
	group.POST("/record/stop", r.handleStop)
	group.GET("/record/status", r.handleStatus)
	group.POST("/record/clear", r.handleClear)
	group.POST("/snapshot", r.handleSnapshot)
	group.POST("/sweep", r.handleSweep)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, cfg Config) *http.Server {
	r := NewRouter(cfg)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Snapshots block for the capture timeout; keep write generous.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startReq struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	TraceID string `json:"trace_id"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if req.TraceID != "" && !isSafeName(req.TraceID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid trace_id"})
		return
	}
	st, err := r.reg.Start(session.Spec{Name: req.Name, Source: req.Source, TraceID: req.TraceID})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		var lerr *session.LaunchError
		if errors.As(err, &lerr) {
			// Subprocess could not be launched; the request itself was fine.
			r.logger.Warn("capture launch failed", "name", req.Name, "error", err)
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if err := r.reg.Stop(name); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.reg.List())
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
		return
	}
	st := r.reg.Status(name)
	if st.State == session.StateActive && c.Query("detail") != "" {
		if u, err := metrics.SampleUsage(st.PID); err == nil {
			writeJSON(c, http.StatusOK, gin.H{"status": st, "usage": u})
			return
		}
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleClear(c *gin.Context) {
	n := r.reg.SweepRecords()
	writeJSON(c, http.StatusOK, gin.H{"cleared": n})
}

type snapshotReq struct {
	Name      string `json:"name"`
	Source    string `json:"source"`
	TraceID   string `json:"trace_id"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (r *Router) handleSnapshot(c *gin.Context) {
	var req snapshotReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.Name) || req.Source == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name and source required"})
		return
	}
	if req.TraceID != "" && !isSafeName(req.TraceID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid trace_id"})
		return
	}
	path, err := r.ffmpeg.Snapshot(c.Request.Context(), req.Name, req.Source, req.TraceID,
		time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		metrics.IncSnapshot(req.Name, "failed")
		r.logger.Warn("snapshot failed", "name", req.Name, "error", err)
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	metrics.IncSnapshot(req.Name, "ok")
	history.Emit(c.Request.Context(), r.sink, r.logger,
		history.Event{Type: history.EventSnapshot, Name: req.Name, Path: path})
	notify.Emit(c.Request.Context(), r.notifier, r.logger,
		history.Event{Type: history.EventSnapshot, Name: req.Name, Path: path})
	writeJSON(c, http.StatusOK, gin.H{"saved_path": path})
}

func (r *Router) handleSweep(c *gin.Context) {
	sum, err := r.sweeper.Run(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sum)
}
