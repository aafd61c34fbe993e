package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/modoterra/panelctl/pkg/core"
)

func newTestClient(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseAPI: srv.URL + "/api", Token: "secret", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadBase(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"relative without origin", Options{BaseAPI: "/api"}},
		{"ftp", Options{BaseAPI: "ftp://panel/api"}},
		{"no host", Options{BaseAPI: "http:///api"}},
		{"garbage", Options{BaseAPI: "::"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestNewResolvesRelativeBase(t *testing.T) {
	c, err := New(Options{BaseAPI: "/api", Origin: "https://panel.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://panel.example.com/api", c.BaseURL())
}

func TestCoreStatsSendsBearer(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/core", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusOK, core.CoreStats{Version: "1.8.4", Started: true, LogsWebsocket: "/api/core/logs"})
	})
	c := newTestClient(t, r)

	stats, err := c.CoreStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.8.4", stats.Version)
	assert.True(t, stats.Started)
}

func TestCoreConfigRoundTrip(t *testing.T) {
	stored := json.RawMessage(`{"inbounds":[]}`)
	r := chi.NewRouter()
	r.Get("/api/core/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(stored)
	})
	r.Put("/api/core/config", func(w http.ResponseWriter, req *http.Request) {
		var body json.RawMessage
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		stored = body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(stored)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	got, err := c.CoreConfig(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"inbounds":[]}`, string(got))

	got, err = c.UpdateCoreConfig(ctx, json.RawMessage(`{"inbounds":[{"tag":"a"}]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"inbounds":[{"tag":"a"}]}`, string(got))

	_, err = c.UpdateCoreConfig(ctx, json.RawMessage(`[1,2]`))
	assert.Error(t, err, "non-object config must be rejected before sending")
}

func TestTemplateCRUD(t *testing.T) {
	var (
		mu    sync.Mutex
		items = map[int]core.Template{}
		next  = 1
	)
	r := chi.NewRouter()
	r.Route("/api/xray/templates", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			list := make([]core.Template, 0, len(items))
			for _, t := range items {
				list = append(list, t)
			}
			writeJSON(w, http.StatusOK, list)
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var in core.TemplateInput
			require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
			mu.Lock()
			defer mu.Unlock()
			tpl := core.Template{ID: next, Name: in.Name, Config: in.Config}
			items[next] = tpl
			next++
			writeJSON(w, http.StatusOK, tpl)
		})
		r.Put("/{id}", func(w http.ResponseWriter, req *http.Request) {
			var patch core.TemplatePatch
			require.NoError(t, json.NewDecoder(req.Body).Decode(&patch))
			mu.Lock()
			defer mu.Unlock()
			tpl, ok := items[1]
			if !ok || chi.URLParam(req, "id") != "1" {
				writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Template not found"})
				return
			}
			if patch.Name != nil {
				tpl.Name = *patch.Name
			}
			items[1] = tpl
			writeJSON(w, http.StatusOK, tpl)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			delete(items, 1)
			w.WriteHeader(http.StatusOK)
		})
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	created, err := c.CreateTemplate(ctx, core.TemplateInput{Name: "edge", Config: json.RawMessage(`{"inbounds":[]}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID)

	name := "edge-2"
	updated, err := c.UpdateTemplate(ctx, 1, core.TemplatePatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "edge-2", updated.Name)

	_, err = c.UpdateTemplate(ctx, 7, core.TemplatePatch{Name: &name})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Equal(t, "Template not found", Message(err, "fallback"))

	list, err := c.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteTemplate(ctx, 1))
	list, err = c.Templates(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateTemplateValidatesLocally(t *testing.T) {
	c, err := New(Options{BaseAPI: "http://127.0.0.1:1/api"})
	require.NoError(t, err)

	_, err = c.CreateTemplate(context.Background(), core.TemplateInput{Name: "", Config: json.RawMessage(`{}`)})
	assert.Error(t, err)
	_, err = c.CreateTemplate(context.Background(), core.TemplateInput{Name: "ok", Config: json.RawMessage(`"x"`)})
	assert.Error(t, err)
}

func TestDeleteUsersRunsAll(t *testing.T) {
	var (
		mu      sync.Mutex
		deleted []string
	)
	r := chi.NewRouter()
	r.Delete("/api/user/{username}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "username")
		if name == "ghost" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
			return
		}
		mu.Lock()
		deleted = append(deleted, name)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, r)

	err := c.DeleteUsers(context.Background(), []string{"alice", "ghost", "bob"})
	require.Error(t, err)
	assert.Equal(t, "User not found", Message(err, ""))

	sort.Strings(deleted)
	assert.Equal(t, []string{"alice", "bob"}, deleted)
}

func TestDeleteExpiredUsersQuery(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	r := chi.NewRouter()
	r.Delete("/api/users/expired", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		assert.Equal(t, "2000-01-01T00:00:00", q.Get("expired_after"))
		assert.Equal(t, "2024-03-01T12:00:00.000Z", q.Get("expired_before"))
		writeJSON(w, http.StatusOK, []string{"u1", "u2"})
	})
	c := newTestClient(t, r)

	removed, err := c.DeleteExpiredUsers(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, removed)

	_, err = c.DeleteExpiredUsers(context.Background(), -1, now)
	assert.Error(t, err)
}

func TestRestartAndReset(t *testing.T) {
	var hits []string
	r := chi.NewRouter()
	r.Post("/api/core/restart", func(w http.ResponseWriter, _ *http.Request) {
		hits = append(hits, "restart")
	})
	r.Post("/api/users/reset", func(w http.ResponseWriter, _ *http.Request) {
		hits = append(hits, "reset")
	})
	r.Get("/api/nodes", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []core.Node{{ID: 3, Name: "de-1", Address: "10.0.0.3"}})
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	require.NoError(t, c.RestartCore(ctx))
	require.NoError(t, c.ResetAllUsage(ctx))
	nodes, err := c.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, core.NodeTarget("3"), nodes[0].Target())
	assert.Equal(t, []string{"restart", "reset"}, hits)
}
