package devpanel

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/config"
	"github.com/modoterra/panelctl/pkg/core"
)

// Close codes sent on the log WebSocket before any data.
const (
	CloseBadRequest   = 4400
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
	CloseNotFound     = 4404
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	subBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// parseInterval reads the batching hint. Zero or absent means one message
// per line.
func parseInterval(raw string) (time.Duration, int, string) {
	if raw == "" {
		return 0, 0, ""
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, CloseBadRequest, "Invalid interval value"
	}
	if secs < 0 || secs > config.MaxInterval {
		return 0, CloseBadRequest, "Interval must be more than 0 and at most 10 seconds"
	}
	return time.Duration(secs * float64(time.Second)), 0, ""
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// handleLogs streams a hub to one WebSocket client. With an interval the
// lines collected during each interval go out as one newline-joined
// message; otherwise every line is its own message.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	target := core.MainTarget
	if id := chi.URLParam(r, "nodeID"); id != "" {
		target = core.NodeTarget(id)
	}
	connID := uuid.NewString()
	logger := s.logger.With(zap.String("target", target.String()), zap.String("conn_id", connID))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("log ws: upgrade failed", zap.Error(err))
		return
	}

	switch s.access(r) {
	case roleNone:
		closeWith(conn, CloseUnauthorized, "Unauthorized")
		return
	case roleAdmin:
		closeWith(conn, CloseForbidden, "You're not allowed")
		return
	}
	interval, code, reason := parseInterval(r.URL.Query().Get("interval"))
	if code != 0 {
		closeWith(conn, code, reason)
		return
	}
	if !s.knownTarget(target) {
		closeWith(conn, CloseNotFound, "Node not found")
		return
	}
	defer conn.Close()

	backlog, lines, cancel := s.Hub(target).Subscribe(subBuffer)
	defer cancel()
	logger.Info("log ws: client attached", zap.Duration("interval", interval), zap.Int("backlog", len(backlog)))

	// The reader only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			logger.Debug("log ws: write failed", zap.Error(err))
			return false
		}
		return true
	}

	var (
		cache strings.Builder
		flush <-chan time.Time
	)
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		flush = t.C
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	emit := func(line string) bool {
		if interval > 0 {
			cache.WriteString(line)
			cache.WriteByte('\n')
			return true
		}
		return send(line)
	}

	for _, l := range backlog {
		if !emit(l.Line) {
			return
		}
	}
	for {
		select {
		case <-gone:
			logger.Info("log ws: client left")
			return
		case l, ok := <-lines:
			if !ok {
				closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if !emit(l.Line) {
				return
			}
		case <-flush:
			if cache.Len() == 0 {
				continue
			}
			if !send(cache.String()) {
				return
			}
			cache.Reset()
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
	}
}
