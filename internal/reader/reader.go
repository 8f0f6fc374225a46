// Package reader implements the TCP Frame Reader (component A): the sole
// owner of the upstream socket, decoding a length-prefixed JPEG stream into
// timestamped Frames and handing them to a publish callback.
package reader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/visiona/scenewatch/internal/model"
)

// Status is the reader's coarse connectivity state, polled by the delivery
// surface through Stats().
type Status string

const (
	StatusDown       Status = "down"
	StatusConnecting Status = "connecting"
	StatusUp         Status = "up"
	StatusTerminal   Status = "terminal"
)

// magic and version are the fixed header prelude at session start.
var magic = [4]byte{'F', 'R', 'A', 'M'}

const protocolVersion = 1

// Sink supplies the frame sequence numbers and session-relative timestamps
// stamped on each decoded frame; *model.Session satisfies it.
type Sink interface {
	NextFrameSeq() uint64
	RelativeMillis(t time.Time) int64
}

// Stats is a point-in-time snapshot of reader activity.
type Stats struct {
	FramesRead      uint64
	ProtocolErrors  uint64
	ReconnectCount  uint64
	Status          Status
	SourceEndpoint  string
}

// Config configures dial timeout, retry budget and backoff.
type Config struct {
	Endpoint       string
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// Reader owns exactly one outbound TCP connection to a JPEG-framed video
// stream and emits a bounded-rate sequence of Frames to a Distributor-like
// publisher.
type Reader struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	publish func(*model.Frame)

	mu      sync.Mutex
	status  Status
	retries int

	framesRead     atomic.Uint64
	protocolErrors atomic.Uint64
	reconnects     atomic.Uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Reader. publish is called with every decoded frame; it must
// not block (a Distributor's Publish never does).
func New(cfg Config, sink Sink, publish func(*model.Frame), logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cfg:     cfg,
		sink:    sink,
		publish: publish,
		logger:  logger.With("component", "reader"),
		status:  StatusDown,
	}
}

// Run blocks running the reconnect-and-read loop until ctx is cancelled or
// the retry budget is exhausted, at which point Status becomes Terminal.
func (r *Reader) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			r.setStatus(StatusDown)
			return
		default:
		}

		r.setStatus(StatusConnecting)
		conn, err := r.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !r.bumpRetryAndMaybeGiveUp(ctx) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.retries = 0
		r.mu.Unlock()
		r.setStatus(StatusUp)
		r.logger.Info("reader up", "endpoint", r.cfg.Endpoint)

		err = r.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Warn("read loop ended, reconnecting", "error", err)
		}
		r.reconnects.Add(1)
		if !r.bumpRetryAndMaybeGiveUp(ctx) {
			return
		}
	}
}

// Stop is idempotent; tears down the socket and joins the read worker.
func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Stats reports a point-in-time snapshot of reader activity.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	return Stats{
		FramesRead:     r.framesRead.Load(),
		ProtocolErrors: r.protocolErrors.Load(),
		ReconnectCount: r.reconnects.Load(),
		Status:         status,
		SourceEndpoint: r.cfg.Endpoint,
	}
}

func (r *Reader) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Reader) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()
	var d net.Dialer
	return d.DialContext(dialCtx, "tcp", r.cfg.Endpoint)
}

// bumpRetryAndMaybeGiveUp applies exponential backoff capped at
// MaxRetryDelay; once the retry budget is exhausted the reader's status
// becomes Terminal and it does not autodial thereafter.
func (r *Reader) bumpRetryAndMaybeGiveUp(ctx context.Context) bool {
	r.mu.Lock()
	r.retries++
	retries := r.retries
	r.mu.Unlock()

	if retries > r.cfg.MaxRetries {
		r.setStatus(StatusTerminal)
		r.logger.Error("retry budget exhausted, reader is now terminal", "retries", retries)
		return false
	}

	delay := r.cfg.RetryBaseDelay * time.Duration(1<<uint(retries-1))
	if delay > r.cfg.MaxRetryDelay {
		delay = r.cfg.MaxRetryDelay
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// readLoop reads the FRAM header once, then an indefinite sequence of
// length-prefixed JPEG records, resyncing on any parse deviation.
func (r *Reader) readLoop(ctx context.Context, conn net.Conn) error {
	// Close the socket as soon as ctx is cancelled so a blocked read
	// returns and Stop can join the worker.
	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-loopDone:
		}
	}()

	br := bufio.NewReaderSize(conn, maxRecordSize+64)

	if err := readHeader(br); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	sc := newProtocolScanner(br)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		payload, err := sc.next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if payload == nil {
			// resync in progress, counted internally
			r.protocolErrors.Add(1)
			continue
		}

		now := time.Now()
		f := &model.Frame{
			Seq:            r.sink.NextFrameSeq(),
			Timestamp:      now,
			RelativeMillis: r.sink.RelativeMillis(now),
			Data:           payload,
			TraceID:        uuid.New().String(),
		}
		r.framesRead.Add(1)
		r.publish(f)
	}
}

func readHeader(br *bufio.Reader) error {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return err
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] || hdr[3] != magic[3] {
		return fmt.Errorf("bad magic %q", hdr[0:4])
	}
	if hdr[4] != protocolVersion {
		return fmt.Errorf("unsupported protocol version %d", hdr[4])
	}
	return nil
}
