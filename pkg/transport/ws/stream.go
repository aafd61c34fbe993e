// Package ws carries the live log stream over WebSocket: endpoint URLs,
// the reconnecting client Stream, and the server-side Hub.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logging"
)

// ErrRetriesExhausted is returned by Run once the reconnect bound is reached.
var ErrRetriesExhausted = errors.New("ws: reconnect attempts exhausted")

// Dialer opens WebSocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Policy is a capped, fixed-delay reconnect policy.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPolicy retries 10 times, one second apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 10, Interval: time.Second}
}

// Stream is one logical log subscription. It dials, reads, and redials on
// drop until the policy gives up or its context is cancelled. Callbacks run
// on the goroutine that called Run.
type Stream struct {
	url    string
	dialer Dialer
	policy Policy
	logger *zap.Logger

	OnMessage func(data string)
	OnState   func(state core.ConnState)
}

// NewStream creates a stream for url. A nil dialer uses websocket.DefaultDialer.
func NewStream(url string, dialer Dialer, policy Policy, logger *zap.Logger) *Stream {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Stream{
		url:    url,
		dialer: dialer,
		policy: policy,
		logger: logging.OrNop(logger).With(zap.String("url", Redact(url))),
	}
}

// Run blocks until ctx is cancelled (returns nil) or the reconnect bound is
// exhausted (returns ErrRetriesExhausted). The attempt counter resets after
// every successful connect. Attempts are strictly sequential.
func (s *Stream) Run(ctx context.Context) error {
	attempts := 0
	for {
		s.setState(core.ConnConnecting)
		connected, err := s.session(ctx)
		s.setState(core.ConnClosed)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempts = 0
		}
		if attempts >= s.policy.MaxAttempts {
			s.logger.Warn("log stream gave up", zap.Int("attempts", attempts), zap.Error(err))
			return ErrRetriesExhausted
		}
		attempts++
		s.logger.Info("log stream reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("delay", s.policy.Interval),
			zap.Error(err))

		timer := time.NewTimer(s.policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs a single connection. connected reports whether the dial
// succeeded and the server did not reject the subscription with an
// application close code (4000-4999).
func (s *Stream) session(ctx context.Context) (connected bool, err error) {
	connID := uuid.NewString()
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on teardown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.logger.Debug("log stream connected", zap.String("conn_id", connID))
	s.setState(core.ConnConnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				s.logger.Info("log stream closed by server",
					zap.String("conn_id", connID),
					zap.Int("code", ce.Code),
					zap.String("reason", ce.Text))
				if ce.Code >= 4000 && ce.Code <= 4999 {
					return false, err
				}
			}
			return true, err
		}
		if s.OnMessage != nil {
			s.OnMessage(string(data))
		}
	}
}

func (s *Stream) setState(state core.ConnState) {
	if s.OnState != nil {
		s.OnState(state)
	}
}

// Redact hides the token query parameter so URLs can be logged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
