// Package asr implements the ASR intake HTTP server (component I, ASR
// half): a small echo server that accepts question text and forwards it to
// the scheduler's at-most-one user-question registry.
package asr

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/visiona/scenewatch/internal/config"
)

// QuestionRegistry is the subset of *scheduler.Scheduler the ASR server
// needs. Satisfied by *scheduler.Scheduler.
type QuestionRegistry interface {
	SetQuestion(text string, now time.Time)
	CurrentQuestion(now time.Time) string
	ClearQuestion()
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server is the ASR intake HTTP surface.
type Server struct {
	echo *echo.Echo
	cfg  config.ASRConfig
	reg  QuestionRegistry

	received atomic.Uint64
	rejected atomic.Uint64
}

// New builds a Server. Call Handler() to obtain the http.Handler to serve.
func New(cfg config.ASRConfig, reg QuestionRegistry) *Server {
	s := &Server{echo: echo.New(), cfg: cfg, reg: reg}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	s.echo.POST("/asr", s.handleASR)
	s.echo.GET("/question/current", s.handleCurrent)
	s.echo.POST("/question/clear", s.handleClear)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
}

type asrRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleASR(c echo.Context) error {
	var req asrRequest
	if err := c.Bind(&req); err != nil {
		s.rejected.Add(1)
		return c.JSON(http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		s.rejected.Add(1)
		return c.JSON(http.StatusBadRequest, envelope{Success: false, Error: "question must not be empty"})
	}
	maxChars := s.cfg.MaxQuestionChars
	if maxChars <= 0 {
		maxChars = 500
	}
	if utf8.RuneCountInString(question) > maxChars {
		s.rejected.Add(1)
		return c.JSON(http.StatusBadRequest, envelope{Success: false, Error: "question exceeds max length"})
	}

	now := time.Now()
	s.reg.SetQuestion(question, now)
	s.received.Add(1)

	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
		"status":    "accepted",
		"message":   "question registered",
		"question":  question,
		"timestamp": now,
	}})
}

func (s *Server) handleCurrent(c echo.Context) error {
	q := s.reg.CurrentQuestion(time.Now())
	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]string{"question": q}})
}

func (s *Server) handleClear(c echo.Context) error {
	s.reg.ClearQuestion()
	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]string{"status": "cleared"}})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]string{"status": "ok"}})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]uint64{
		"received": s.received.Load(),
		"rejected": s.rejected.Load(),
	}})
}
