package devpanel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/modoterra/panelctl/pkg/core"
)

// expiryLayouts are the timestamp forms the expiry sweep accepts.
var expiryLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body in the {"detail": ...} envelope.
func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

// fieldErrors is a 422 detail keyed by field name, in insertion order.
type fieldErrors struct {
	keys []string
	msgs map[string]string
}

func (f *fieldErrors) add(field, msg string) {
	if f.msgs == nil {
		f.msgs = make(map[string]string)
	}
	if _, ok := f.msgs[field]; !ok {
		f.keys = append(f.keys, field)
	}
	f.msgs[field] = msg
}

func (f *fieldErrors) empty() bool { return len(f.keys) == 0 }

// MarshalJSON keeps the order fields were reported in; clients show the
// first one.
func (f *fieldErrors) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.msgs[k])
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func templateID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		var fe fieldErrors
		fe.add("template_id", "value is not a valid integer")
		writeDetail(w, http.StatusUnprocessableEntity, &fe)
		return 0, false
	}
	return id, true
}

func writeStateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errTemplateNotFound):
		writeDetail(w, http.StatusNotFound, "Template not found")
	case errors.Is(err, errTemplateExists):
		writeDetail(w, http.StatusConflict, "Template name already exists")
	case errors.Is(err, errUserNotFound):
		writeDetail(w, http.StatusNotFound, "User not found")
	default:
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCoreStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.stats())
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	n := s.state.restart()
	s.logger.Info("core restarted", zap.Int("restarts", n))
	s.Publish(core.MainTarget, fmt.Sprintf("[Info] core: Xray %s started (restart #%d)", s.state.stats().Version, n))
	for _, node := range s.state.nodeList() {
		s.Publish(node.Target(), fmt.Sprintf("[Info] node %s: core restarted", node.Name))
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.state.config())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.state.setConfig(payload); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.state.restart()
	s.Publish(core.MainTarget, "[Info] core: configuration replaced, core restarted")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.templateList())
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}
	t, err := s.state.template(id)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// checkTemplate validates name and config the way the real backend's
// schema does. A nil name or config means the field was absent.
func checkTemplate(name *string, config json.RawMessage, required bool) *fieldErrors {
	var fe fieldErrors
	switch {
	case name != nil:
		if err := core.ValidateTemplateName(*name); err != nil {
			fe.add("name", err.Error())
		}
	case required:
		fe.add("name", "field required")
	}
	switch {
	case config != nil:
		if err := core.ValidateConfigObject(config); err != nil {
			fe.add("config", "value is not a valid dict")
		}
	case required:
		fe.add("config", "field required")
	}
	return &fe
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   *string         `json:"name"`
		Config json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if fe := checkTemplate(body.Name, body.Config, true); !fe.empty() {
		writeDetail(w, http.StatusUnprocessableEntity, fe)
		return
	}
	t, err := s.state.createTemplate(core.TemplateInput{Name: *body.Name, Config: body.Config})
	if err != nil {
		writeStateError(w, err)
		return
	}
	s.logger.Info("template created", zap.Int("id", t.ID), zap.String("name", t.Name))
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}
	var patch core.TemplatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if fe := checkTemplate(patch.Name, patch.Config, false); !fe.empty() {
		writeDetail(w, http.StatusUnprocessableEntity, fe)
		return
	}
	t, err := s.state.updateTemplate(id, patch)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := templateID(w, r)
	if !ok {
		return
	}
	if err := s.state.deleteTemplate(id); err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.nodeList())
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.userList())
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.state.deleteUser(chi.URLParam(r, "username")); err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func parseExpiry(v string) (time.Time, error) {
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", v)
}

func (s *Server) handleDeleteExpired(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var fe fieldErrors
	after, before := time.Time{}, s.state.now().UTC()
	if v := q.Get("expired_after"); v != "" {
		t, err := parseExpiry(v)
		if err != nil {
			fe.add("expired_after", err.Error())
		}
		after = t
	}
	if v := q.Get("expired_before"); v != "" {
		t, err := parseExpiry(v)
		if err != nil {
			fe.add("expired_before", err.Error())
		}
		before = t
	}
	if !fe.empty() {
		writeDetail(w, http.StatusUnprocessableEntity, &fe)
		return
	}
	removed := s.state.deleteExpired(after, before)
	s.logger.Info("expired users removed", zap.Int("count", len(removed)))
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleResetUsage(w http.ResponseWriter, _ *http.Request) {
	s.state.resetUsage()
	writeJSON(w, http.StatusOK, struct{}{})
}
