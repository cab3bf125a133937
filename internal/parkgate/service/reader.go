package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MaxLineBytes caps a single serial line. Anything longer is noise from a
// misbehaving reader and is discarded.
const MaxLineBytes = 4096

// Reader is the single producer of the pipeline: a background goroutine
// that reads newline-delimited text from src and hands complete lines to
// the handler one at a time.
//
// src must return periodically even when idle (a serial port with a read
// timeout returns 0, nil) so Stop is observed promptly.
type Reader struct {
	src     io.Reader
	handler LineHandler
	backoff time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReaderConfig holds the parameters for NewReader.
type ReaderConfig struct {
	// RetryBackoff is how long to wait after a read error before trying
	// again. Defaults to 1s.
	RetryBackoff time.Duration
}

// NewReader creates a reader but does not start it.
func NewReader(src io.Reader, handler LineHandler, cfg ReaderConfig, logger *zap.Logger) *Reader {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		src:     src,
		handler: handler,
		backoff: cfg.RetryBackoff,
		logger:  logger,
	}
}

// Start launches the read loop. It exits when ctx is cancelled, Stop is
// called, or src reports io.EOF. Starting twice is a no-op.
func (r *Reader) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.loop(ctx, r.done)
	r.logger.Info("serial reader started")
}

// Stop signals the loop to exit and waits until it has. Safe to call more
// than once, and before Start.
func (r *Reader) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has exited.
func (r *Reader) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

func (r *Reader) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.logger.Info("serial reader stopped")

	buf := make([]byte, 256)
	var pending []byte
	discarding := false

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := r.src.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := pending[:i]
				pending = pending[i+1:]
				if discarding {
					discarding = false
					continue
				}
				if len(line) > MaxLineBytes {
					r.logger.Warn("serial line too long, discarding", zap.Int("bytes", len(line)))
					continue
				}
				r.dispatch(ctx, line)
			}
			if len(pending) > MaxLineBytes {
				r.logger.Warn("serial line too long, discarding", zap.Int("bytes", len(pending)))
				pending = pending[:0]
				discarding = true
			}
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 && !discarding {
				r.dispatch(ctx, pending)
			}
			r.logger.Info("serial stream ended")
			return
		}
		if ctx.Err() != nil {
			return
		}

		r.logger.Warn("serial read error", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.backoff):
		}
	}
}

func (r *Reader) dispatch(ctx context.Context, raw []byte) {
	line := strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
	if line == "" {
		return
	}
	if _, err := r.handler.HandleLine(ctx, line); err != nil {
		r.logger.Error("line handling failed", zap.String("line", line), zap.Error(err))
	}
}
