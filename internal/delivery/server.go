// Package delivery implements the Delivery Surface (component H): a
// WebSocket broadcaster at /ws, REST endpoints over the Result Store, and
// internal endpoints the packager path uses to read the Distributor's
// latest frame without a second TCP hop.
package delivery

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/distributor"
	"github.com/visiona/scenewatch/internal/reader"
	"github.com/visiona/scenewatch/internal/scheduler"
	"github.com/visiona/scenewatch/internal/store"
)

// envelope is the {success, data?, error?, timestamp} shape every REST
// response uses.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data, Timestamp: time.Now()})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, envelope{Success: false, Error: message, Timestamp: time.Now()})
}

// Server wires the Distributor, Reader, Store and Scheduler into the HTTP
// surface described in spec.md §4.H.
type Server struct {
	echo   *echo.Echo
	hub    *Hub
	logger *slog.Logger

	cfg  config.DeliveryConfig
	dist *distributor.Distributor
	rdr  *reader.Reader
	st   *store.Store
	sch  *scheduler.Scheduler
}

// New builds a Server. Call Handler() to obtain the http.Handler to serve,
// and Hub().RunFrameForwarder(ctx) in its own goroutine to start
// video_frame pushes.
func New(cfg config.DeliveryConfig, dist *distributor.Distributor, rdr *reader.Reader, st *store.Store, sch *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithHub(cfg, NewHub(dist, cfg.SendQueueSize, logger), dist, rdr, st, sch, logger)
}

// NewWithHub builds a Server around a Hub constructed elsewhere — used when
// the caller needs the Hub to exist before the Server itself can be built
// (e.g. a Sink that broadcasts through the same Hub the Server serves).
func NewWithHub(cfg config.DeliveryConfig, hub *Hub, dist *distributor.Distributor, rdr *reader.Reader, st *store.Store, sch *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:   echo.New(),
		hub:    hub,
		logger: logger.With("component", "delivery"),
		cfg:    cfg,
		dist:   dist,
		rdr:    rdr,
		st:     st,
		sch:    sch,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s
}

// Hub exposes the WebSocket broadcaster so the rest of the process can push
// inference results as they finish.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	s.echo.GET("/ws", s.handleWebSocket)

	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/experiment-log", s.handleExperimentLog)
	api.GET("/inference-history", s.handleInferenceHistory)
	api.GET("/latest-inference", s.handleLatestInference)
	api.GET("/latest-inference-with-ai", s.handleLatestInferenceWithAI)
	api.GET("/inference-count", s.handleInferenceCount)
	api.GET("/media-history", s.handleMediaHistory)
	api.GET("/videos/:filename", s.handleMediaBytes)
	api.GET("/media/:filename", s.handleMediaBytes)
	api.POST("/stream/start", s.handleStreamStart)
	api.POST("/stream/stop", s.handleStreamStop)
	api.DELETE("/history", s.handleClearHistory)
	api.GET("/sentry/status", s.handleSentryStatus)
	api.POST("/sentry/toggle", s.handleSentryToggle)

	internalGroup := s.echo.Group("/internal/video")
	internalGroup.GET("/latest-frame", s.handleLatestFrame)
	internalGroup.GET("/status", s.handleVideoStatus)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return nil
	}

	conn := newConn(ws, s.cfg.SendQueueSize, s.logger)
	s.hub.register(conn)

	ctx := c.Request().Context()
	go conn.writePump(ctx)
	conn.readPump(ctx)

	s.hub.unregister(conn)
	return nil
}

func (s *Server) handleStatus(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"stream":       s.rdr.Stats(),
		"distributor":  s.dist.Stats(),
		"skipped_sync": s.sch.SkippedInSyncCount(),
	})
}

func (s *Server) handleExperimentLog(c echo.Context) error {
	return ok(c, s.st.ExperimentLog())
}

func (s *Server) handleInferenceHistory(c echo.Context) error {
	limit := parseLimit(c)
	return ok(c, s.st.History(limit))
}

func (s *Server) handleLatestInference(c echo.Context) error {
	rec, found := s.st.LatestInference()
	if !found {
		return ok(c, nil)
	}
	return ok(c, rec)
}

func (s *Server) handleLatestInferenceWithAI(c echo.Context) error {
	rec, found := s.st.LatestInferenceWithAI()
	if !found {
		return ok(c, nil)
	}
	return ok(c, rec)
}

func (s *Server) handleInferenceCount(c echo.Context) error {
	return ok(c, map[string]int{"count": s.st.InferenceCount()})
}

func (s *Server) handleMediaHistory(c echo.Context) error {
	limit := parseLimit(c)
	return ok(c, s.st.MediaHistory(limit))
}

func (s *Server) handleMediaBytes(c echo.Context) error {
	filename := c.Param("filename")
	f, err := s.st.Open(filename)
	if err != nil {
		return fail(c, http.StatusNotFound, "media file not found")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(c, http.StatusInternalServerError, "stat media file failed")
	}
	http.ServeContent(c.Response(), c.Request(), filename, info.ModTime(), f)
	return nil
}

func (s *Server) handleStreamStart(c echo.Context) error {
	s.hub.SetGlobalStreaming(true)
	return ok(c, map[string]string{"status": "streaming"})
}

func (s *Server) handleStreamStop(c echo.Context) error {
	s.hub.SetGlobalStreaming(false)
	return ok(c, map[string]string{"status": "stopped"})
}

func (s *Server) handleClearHistory(c echo.Context) error {
	s.st.Clear()
	return ok(c, map[string]string{"status": "cleared"})
}

func (s *Server) handleSentryStatus(c echo.Context) error {
	return ok(c, map[string]bool{"sentry_mode_enabled": s.sch.SentryEnabled()})
}

func (s *Server) handleSentryToggle(c echo.Context) error {
	s.sch.SetSentryEnabled(!s.sch.SentryEnabled())
	return ok(c, map[string]bool{"sentry_mode_enabled": s.sch.SentryEnabled()})
}

func (s *Server) handleLatestFrame(c echo.Context) error {
	f := s.dist.Latest()
	if f == nil {
		return ok(c, nil)
	}
	return ok(c, map[string]interface{}{
		"frame_number": f.Seq,
		"timestamp":    f.Timestamp,
		"jpeg_base64":  base64.StdEncoding.EncodeToString(f.Data),
	})
}

func (s *Server) handleVideoStatus(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"stream":      s.rdr.Stats(),
		"distributor": s.dist.Stats(),
	})
}

func parseLimit(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
