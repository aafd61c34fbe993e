// Package devpanel is an in-memory stand-in for the panel backend. It
// serves the REST endpoints panelctl calls and the live log WebSockets,
// fed by Publish, a file tailer or a synthetic generator.
package devpanel

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logging"
	"github.com/modoterra/panelctl/pkg/transport/ws"
)

// DefaultHistory is how many recent lines a new log subscriber receives.
const DefaultHistory = 100

// Options configures a Server.
type Options struct {
	// Token is the sudo admin's bearer token. Empty disables auth.
	Token string
	// AdminToken, when set, authenticates a non-sudo admin. It may read
	// core stats, nodes and users; everything else answers 403, and the
	// log sockets close with 4403.
	AdminToken string
	Seed       Seed
	History    int
	Logger     *zap.Logger
}

// role is what a request's token grants.
type role int

const (
	roleNone role = iota
	roleAdmin
	roleSudo
)

// Server is the devpanel HTTP handler.
type Server struct {
	token      string
	adminToken string
	history    int
	state      *state
	router     chi.Router
	logger     *zap.Logger

	mu     sync.Mutex
	hubs   map[core.Target]*ws.Hub
	closed bool
}

// New builds a server from opts.
func New(opts Options) (*Server, error) {
	st, err := newState(opts.Seed)
	if err != nil {
		return nil, err
	}
	history := opts.History
	if history == 0 {
		history = DefaultHistory
	}
	s := &Server{
		token:      opts.Token,
		adminToken: opts.AdminToken,
		history:    history,
		state:      st,
		logger:     logging.OrNop(opts.Logger),
		hubs:       make(map[core.Target]*ws.Hub),
	}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		// WebSocket routes authenticate inside the handler so they can
		// answer with a close code instead of an HTTP status.
		r.Get("/core/logs", s.handleLogs)
		r.Get("/node/{nodeID}/logs", s.handleLogs)

		r.Group(func(r chi.Router) {
			r.Use(s.require(roleAdmin))
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/core", s.handleCoreStats)
			r.Get("/nodes", s.handleNodes)
			r.Get("/users", s.handleUsers)

			r.Group(func(r chi.Router) {
				r.Use(s.require(roleSudo))

				r.Post("/core/restart", s.handleRestart)
				r.Get("/core/config", s.handleGetConfig)
				r.Put("/core/config", s.handlePutConfig)

				r.Get("/xray/templates", s.handleListTemplates)
				r.Post("/xray/templates", s.handleCreateTemplate)
				r.Get("/xray/templates/{id}", s.handleGetTemplate)
				r.Put("/xray/templates/{id}", s.handleUpdateTemplate)
				r.Delete("/xray/templates/{id}", s.handleDeleteTemplate)

				r.Delete("/user/{username}", s.handleDeleteUser)
				r.Delete("/users/expired", s.handleDeleteExpired)
				r.Post("/users/reset", s.handleResetUsage)
			})
		})
	})
	return r
}

// Hub returns the log hub for target, creating it on first use.
func (s *Server) Hub(target core.Target) *ws.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[target]
	if !ok {
		h = ws.NewHub(target, s.history)
		if s.closed {
			h.Close()
		}
		s.hubs[target] = h
	}
	return h
}

// Publish appends line to the log stream of target.
func (s *Server) Publish(target core.Target, line string) {
	s.Hub(target).Publish(line)
}

// Close ends every log subscription. REST handlers keep working.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, h := range s.hubs {
		h.Close()
	}
}

// Targets lists the main process and every known node.
func (s *Server) Targets() []core.Target {
	targets := []core.Target{core.MainTarget}
	for _, n := range s.state.nodeList() {
		targets = append(targets, n.Target())
	}
	return targets
}

// knownTarget reports whether target names the core or a seeded node.
func (s *Server) knownTarget(target core.Target) bool {
	if target.IsMain() {
		return true
	}
	id, err := strconv.Atoi(target.NodeID)
	return err == nil && s.state.hasNode(id)
}

func (s *Server) access(r *http.Request) role {
	if s.token == "" {
		return roleSudo
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	switch {
	case token == s.token:
		return roleSudo
	case s.adminToken != "" && token == s.adminToken:
		return roleAdmin
	}
	return roleNone
}

func (s *Server) require(need role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch got := s.access(r); {
			case got == roleNone:
				writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			case got < need:
				writeDetail(w, http.StatusForbidden, "You're not allowed")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
