// Command scenewatchd is the process entrypoint: it loads configuration,
// wires the reader, distributor, packager, scheduler, VLM client, MCP
// bridge, result store and delivery/ASR/TTS surfaces together, and runs
// until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/visiona/scenewatch/internal/asr"
	"github.com/visiona/scenewatch/internal/config"
	"github.com/visiona/scenewatch/internal/delivery"
	"github.com/visiona/scenewatch/internal/distributor"
	"github.com/visiona/scenewatch/internal/mcpbridge"
	"github.com/visiona/scenewatch/internal/model"
	"github.com/visiona/scenewatch/internal/packager"
	"github.com/visiona/scenewatch/internal/reader"
	"github.com/visiona/scenewatch/internal/scheduler"
	"github.com/visiona/scenewatch/internal/store"
	"github.com/visiona/scenewatch/internal/tts"
	"github.com/visiona/scenewatch/internal/vlm"
)

const defaultConfigPath = "config/scenewatch.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	outputDir := flag.String("output-dir", "", "override config's output_dir")
	streamEndpoint := flag.String("stream-endpoint", "", "override config's stream.endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *streamEndpoint != "" {
		cfg.Stream.Endpoint = *streamEndpoint
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting scenewatch", "config", *configPath, "output_dir", cfg.OutputDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error("service run loop exited with error", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("scenewatch stopped")
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// service is the process-lifetime container wiring every component
// together, mirroring the teacher's single-orchestrator-struct shape.
type service struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *model.Session

	dist   *distributor.Distributor
	rdr    *reader.Reader
	pkg    *packager.Packager
	sched  *scheduler.Scheduler
	st     *store.Store
	dsrv   *delivery.Server
	asrSrv *asr.Server
	ttsW   *tts.Worker

	httpSrv    *http.Server
	asrHTTPSrv *http.Server

	wg sync.WaitGroup
}

// fanoutSink implements scheduler.Sink: every finished record is written to
// the result store and pushed to connected WebSocket clients.
type fanoutSink struct {
	st  *store.Store
	hub *delivery.Hub
}

func (f *fanoutSink) Finalize(rec *model.InferenceRecord) {
	f.st.Finalize(rec)
	f.hub.BroadcastInferenceResult(rec)
}

func newService(cfg *config.Config, logger *slog.Logger) (*service, error) {
	session := model.NewSession(time.Now(), cfg.OutputDir)

	st := store.New(session, cfg, logger)
	dist := distributor.New()

	rdr := reader.New(reader.Config{
		Endpoint:       cfg.Stream.Endpoint,
		ConnectTimeout: cfg.Stream.ConnectTimeout,
		MaxRetries:     cfg.Stream.MaxRetries,
		RetryBaseDelay: cfg.Stream.RetryBaseDelay,
		MaxRetryDelay:  cfg.Stream.MaxRetryDelay,
	}, session, dist.Publish, logger)

	pkg := packager.New(cfg.Packager, dist.Subscribe(), session, logger)

	vlmClient := vlm.New(cfg.VLM.BaseURL, cfg.VLM.APIKey, cfg.VLM.Model, cfg.VLM.Timeout)
	mcpClient := mcpbridge.New(cfg.MCP.BaseURL, cfg.MCP.Timeout, logger)

	// dsrv is built once sched exists (it needs sched for the sentry
	// endpoints); sched is built first with a hub-aware sink, which in
	// turn needs dsrv's Hub. Break the cycle with a hub built up front and
	// handed to both.
	hub := delivery.NewHub(dist, cfg.Delivery.SendQueueSize, logger)
	sink := &fanoutSink{st: st, hub: hub}

	var sched *scheduler.Scheduler
	worker := newInferenceWorker(vlmClient, mcpClient, cfg.VLM, func() *scheduler.Scheduler { return sched })
	sched = scheduler.New(cfg.Scheduler, worker, sink, logger)

	dsrv := delivery.NewWithHub(cfg.Delivery, hub, dist, rdr, st, sched, logger)

	asrSrv := asr.New(cfg.ASR, sched)
	ttsWorker := tts.New(cfg.TTS, st, logger)

	return &service{
		cfg:     cfg,
		logger:  logger,
		session: session,
		dist:    dist,
		rdr:     rdr,
		pkg:     pkg,
		sched:   sched,
		st:      st,
		dsrv:    dsrv,
		asrSrv:  asrSrv,
		ttsW:    ttsWorker,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled. Startup
// order mirrors the teacher's convention: passive components (distributor,
// store) need no start call, the frame source starts before anything that
// consumes it, and the HTTP surfaces start last.
func (s *service) Run(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rdr.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pkg.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumeArtifacts(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dsrv.Hub().RunFrameForwarder(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ttsW.Run(ctx)
	}()

	s.httpSrv = &http.Server{Addr: s.cfg.Delivery.ListenAddr, Handler: s.dsrv.Handler()}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("delivery server stopped", "error", err)
		}
	}()

	s.asrHTTPSrv = &http.Server{Addr: s.cfg.ASR.ListenAddr, Handler: s.asrSrv.Handler()}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.asrHTTPSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("asr server stopped", "error", err)
		}
	}()

	s.logger.Info("scenewatch running", "session_id", s.session.ID, "session_dir", s.session.Dir)

	<-ctx.Done()
	return nil
}

// consumeArtifacts drains the packager's ready queue, registers each
// artifact with the result store, then hands it to the scheduler's
// dispatch algorithm.
func (s *service) consumeArtifacts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-s.pkg.Ready():
			if !ok {
				return
			}
			s.st.RegisterArtifact(a)
			s.sched.Submit(ctx, a)
		}
	}
}

// Shutdown tears components down in dependency order: stop the reader so
// no more frames arrive, close the HTTP listeners, wait for the ctx-driven
// background goroutines, drain in-flight scheduler dispatches, then
// checkpoint the store.
func (s *service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down scenewatch")

	// 1. Stop the reader first — no more frames means the packager and
	// scheduler drain naturally.
	s.rdr.Stop()

	// 2. Close the HTTP listeners. ctx is already cancelled by the time
	// Shutdown runs (main cancels before calling this), so every
	// ctx-driven background goroutine (packager consumer, frame
	// forwarder, TTS worker) is already unwinding; the HTTP servers need
	// an explicit Shutdown since ListenAndServe only returns on one.
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("delivery server shutdown failed", "error", err)
		}
	}
	if s.asrHTTPSrv != nil {
		if err := s.asrHTTPSrv.Shutdown(ctx); err != nil {
			s.logger.Error("asr server shutdown failed", "error", err)
		}
	}

	// 3. Wait for every background goroutine to actually finish.
	s.wg.Wait()

	// 4. Drain any scheduler dispatch still in flight.
	s.sched.Wait()

	// 5. Final checkpoint of the result store.
	if err := s.st.Checkpoint(); err != nil {
		s.logger.Error("final checkpoint failed", "error", err)
	}

	s.logger.Info("scenewatch shutdown complete")
	return nil
}
