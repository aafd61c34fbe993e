// Package logstream keeps a live, bounded, debounced view of a core or node
// log stream. A Session owns its buffer and its connection; nothing is
// shared between sessions.
package logstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/config"
	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logging"
	"github.com/modoterra/panelctl/pkg/transport/ws"
)

// Options configures a Session.
type Options struct {
	Endpoint    ws.Endpoint
	Policy      ws.Policy
	MaxLines    int
	FlushWindow time.Duration
	// BurstGuard skips a flush when at least this many messages arrived
	// since the previous flush tick. It counts messages in the batch, not
	// lines held in the buffer. Zero or negative disables it.
	BurstGuard int
	Dialer     ws.Dialer
	Logger     *zap.Logger
}

// FromConfig builds Options from a loaded config.
func FromConfig(c *config.Config, token string) Options {
	return Options{
		Endpoint: ws.Endpoint{
			BaseAPI:  c.BaseAPI,
			Origin:   c.Origin,
			Interval: c.Logs.Interval,
			Token:    token,
		},
		Policy: ws.Policy{
			MaxAttempts: c.Logs.ReconnectAttempts,
			Interval:    c.Logs.ReconnectInterval.D(),
		},
		MaxLines:    c.Logs.MaxLines,
		FlushWindow: c.Logs.FlushWindow.D(),
		BurstGuard:  c.Logs.BurstGuard,
	}
}

// Frame is a debounced snapshot of the buffer, ready to render.
type Frame struct {
	Epoch  uint64
	Target core.Target
	Lines  []string
}

// StateChange reports a connection state transition. Terminal is set once
// the reconnect bound is exhausted.
type StateChange struct {
	Epoch    uint64
	Target   core.Target
	State    core.ConnState
	Terminal bool
}

// Session is the view-owned log stream client.
type Session struct {
	opts   Options
	logger *zap.Logger

	frames chan Frame
	states chan StateChange

	// lifecycle serializes Connect and Close.
	lifecycle sync.Mutex

	mu       sync.Mutex
	epoch    uint64
	target   core.Target
	buf      *Buffer
	pending  int
	timer    *time.Timer
	timerSeq uint64
	state    core.ConnState
	terminal bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSession creates an idle session. Call Connect to start streaming.
func NewSession(opts Options) *Session {
	if opts.MaxLines <= 0 {
		opts.MaxLines = config.DefaultMaxLines
	}
	if opts.FlushWindow <= 0 {
		opts.FlushWindow = config.DefaultFlushWindow
	}
	return &Session{
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("logstream"),
		frames: make(chan Frame, 1),
		states: make(chan StateChange, 1),
		buf:    NewBuffer(opts.MaxLines),
		state:  core.ConnClosed,
	}
}

// Frames delivers debounced buffer snapshots. Only the latest undelivered
// frame is kept.
func (s *Session) Frames() <-chan Frame { return s.frames }

// States delivers connection state changes, latest wins.
func (s *Session) States() <-chan StateChange { return s.states }

// Connect tears down any current stream, clears the buffer, and starts
// streaming target. If the endpoint URL cannot be built the error is logged
// and the session stays closed.
func (s *Session) Connect(target core.Target) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.epoch
	s.target = target

	url, err := s.opts.Endpoint.URL(target)
	if err != nil {
		s.logger.Error("cannot build log stream url", zap.Stringer("target", target), zap.Error(err))
		s.state = core.ConnClosed
		publish(s.states, StateChange{Epoch: epoch, Target: target, State: core.ConnClosed})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	stream := ws.NewStream(url, s.opts.Dialer, s.opts.Policy, s.logger.With(zap.Stringer("target", target)))
	stream.OnMessage = func(data string) { s.ingest(epoch, data) }
	stream.OnState = func(state core.ConnState) { s.setState(epoch, state) }

	go func() {
		defer close(done)
		if err := stream.Run(ctx); errors.Is(err, ws.ErrRetriesExhausted) {
			s.markTerminal(epoch)
		}
	}()
}

// Reconnect restarts the stream for the current target, e.g. after the
// reconnect bound was exhausted.
func (s *Session) Reconnect() {
	s.Connect(s.Target())
}

// Close tears the session down: the stream is released, the pending flush
// is cancelled and the buffer is cleared. No frame is delivered after Close
// returns.
func (s *Session) Close() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop()
}

// stop invalidates the current epoch and waits for its stream goroutine.
func (s *Session) stop() {
	s.mu.Lock()
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = 0
	s.buf.Reset()
	s.state = core.ConnClosed
	s.terminal = false
	drain(s.frames)
	drain(s.states)
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Session) ingest(epoch uint64, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}

	s.buf.Append(data)
	s.pending++

	// Trailing-edge debounce: replace, never stack.
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++
	seq := s.timerSeq
	s.timer = time.AfterFunc(s.opts.FlushWindow, func() { s.flush(epoch, seq) })
}

func (s *Session) flush(epoch, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || seq != s.timerSeq {
		return
	}
	s.timer = nil

	batch := s.pending
	s.pending = 0
	if s.opts.BurstGuard > 0 && batch >= s.opts.BurstGuard {
		s.logger.Debug("burst guard skipped frame", zap.Int("batch", batch), zap.Int("guard", s.opts.BurstGuard))
		return
	}
	publish(s.frames, Frame{Epoch: epoch, Target: s.target, Lines: s.buf.Snapshot()})
}

func (s *Session) setState(epoch uint64, state core.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.state = state
	publish(s.states, StateChange{Epoch: epoch, Target: s.target, State: state})
}

func (s *Session) markTerminal(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.terminal = true
	s.state = core.ConnClosed
	publish(s.states, StateChange{Epoch: epoch, Target: s.target, State: core.ConnClosed, Terminal: true})
}

// State returns the current connection state.
func (s *Session) State() core.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminal reports whether the stream gave up reconnecting.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Target returns the current target.
func (s *Session) Target() core.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Epoch returns the current generation. Frames and state changes carrying
// an older epoch are stale.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Lines returns the ingested buffer, which may be ahead of the last frame.
func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Snapshot()
}

// publish replaces any undelivered value. Callers hold s.mu, so there is a
// single producer and the send never blocks.
func publish[T any](ch chan T, v T) {
	drain(ch)
	ch <- v
}

func drain[T any](ch chan T) {
	select {
	case <-ch:
	default:
	}
}
