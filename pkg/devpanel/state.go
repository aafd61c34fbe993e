package devpanel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modoterra/panelctl/pkg/core"
)

var (
	errTemplateNotFound = errors.New("template not found")
	errTemplateExists   = errors.New("template name already exists")
	errUserNotFound     = errors.New("user not found")
)

// User is the slice of a panel user the maintenance endpoints touch.
type User struct {
	Username    string     `json:"username" yaml:"username"`
	Expire      *time.Time `json:"expire,omitempty" yaml:"expire,omitempty"`
	UsedTraffic int64      `json:"used_traffic" yaml:"used_traffic"`
}

// Seed is the initial content of a devpanel.
type Seed struct {
	CoreVersion string         `yaml:"core_version"`
	CoreConfig  map[string]any `yaml:"core_config"`
	Nodes       []core.Node    `yaml:"nodes"`
	Templates   []SeedTemplate `yaml:"templates"`
	Users       []User         `yaml:"users"`
}

// SeedTemplate is a template entry in a seed file.
type SeedTemplate struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
}

// DefaultSeed is a small panel with one node, one template and two users.
func DefaultSeed() Seed {
	expired := time.Now().Add(-30 * 24 * time.Hour).UTC().Truncate(time.Second)
	return Seed{
		CoreVersion: "1.8.4",
		CoreConfig: map[string]any{
			"log":      map[string]any{"loglevel": "warning"},
			"inbounds": []any{map[string]any{"tag": "VLESS TCP", "protocol": "vless", "port": 443}},
		},
		Nodes: []core.Node{{ID: 1, Name: "edge-1", Address: "10.0.0.11", Status: "connected", XrayVersion: "1.8.4"}},
		Templates: []SeedTemplate{{
			Name:   "default",
			Config: map[string]any{"inbounds": []any{}},
		}},
		Users: []User{
			{Username: "alice", UsedTraffic: 5 << 30},
			{Username: "bob", Expire: &expired, UsedTraffic: 1 << 20},
		},
	}
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return s, nil
}

// state is the in-memory panel backing the REST handlers.
type state struct {
	mu          sync.RWMutex
	coreVersion string
	started     bool
	restarts    int
	coreConfig  json.RawMessage
	nodes       map[int]core.Node
	templates   map[int]core.Template
	nextID      int
	users       map[string]User
	now         func() time.Time
}

func newState(seed Seed) (*state, error) {
	st := &state{
		coreVersion: seed.CoreVersion,
		started:     true,
		coreConfig:  json.RawMessage(`{"inbounds":[]}`),
		nodes:       make(map[int]core.Node),
		templates:   make(map[int]core.Template),
		nextID:      1,
		users:       make(map[string]User),
		now:         time.Now,
	}
	if seed.CoreConfig != nil {
		raw, err := json.Marshal(seed.CoreConfig)
		if err != nil {
			return nil, fmt.Errorf("encode core config: %w", err)
		}
		if err := checkCoreConfig(raw); err != nil {
			return nil, err
		}
		st.coreConfig = raw
	}
	for _, n := range seed.Nodes {
		st.nodes[n.ID] = n
	}
	for _, t := range seed.Templates {
		raw, err := json.Marshal(t.Config)
		if err != nil {
			return nil, fmt.Errorf("encode template %q: %w", t.Name, err)
		}
		if _, err := st.createTemplate(core.TemplateInput{Name: t.Name, Config: raw}); err != nil {
			return nil, fmt.Errorf("seed template %q: %w", t.Name, err)
		}
	}
	for _, u := range seed.Users {
		st.users[u.Username] = u
	}
	return st, nil
}

// checkCoreConfig accepts JSON objects with an "inbounds" array.
func checkCoreConfig(raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return errors.New("config must be a JSON object")
	}
	var inbounds []json.RawMessage
	if err := json.Unmarshal(obj["inbounds"], &inbounds); err != nil || inbounds == nil {
		return errors.New("config doesn't have inbounds")
	}
	return nil
}

func (st *state) stats() core.CoreStats {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return core.CoreStats{
		Version:       st.coreVersion,
		Started:       st.started,
		LogsWebsocket: "/api/core/logs",
	}
}

func (st *state) restart() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.started = true
	st.restarts++
	return st.restarts
}

func (st *state) config() json.RawMessage {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.coreConfig
}

func (st *state) setConfig(raw json.RawMessage) error {
	if err := checkCoreConfig(raw); err != nil {
		return err
	}
	st.mu.Lock()
	st.coreConfig = append(json.RawMessage(nil), raw...)
	st.mu.Unlock()
	return nil
}

func (st *state) nodeList() []core.Node {
	st.mu.RLock()
	defer st.mu.RUnlock()
	list := make([]core.Node, 0, len(st.nodes))
	for _, n := range st.nodes {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (st *state) hasNode(id int) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.nodes[id]
	return ok
}

func (st *state) templateList() []core.Template {
	st.mu.RLock()
	defer st.mu.RUnlock()
	list := make([]core.Template, 0, len(st.templates))
	for _, t := range st.templates {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (st *state) template(id int) (core.Template, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	t, ok := st.templates[id]
	if !ok {
		return core.Template{}, errTemplateNotFound
	}
	return t, nil
}

// nameTaken must be called with mu held.
func (st *state) nameTaken(name string, except int) bool {
	for id, t := range st.templates {
		if id != except && t.Name == name {
			return true
		}
	}
	return false
}

func (st *state) createTemplate(in core.TemplateInput) (core.Template, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.nameTaken(in.Name, 0) {
		return core.Template{}, errTemplateExists
	}
	t := core.Template{
		ID:        st.nextID,
		Name:      in.Name,
		Config:    append(json.RawMessage(nil), in.Config...),
		CreatedAt: st.now().UTC(),
	}
	st.templates[t.ID] = t
	st.nextID++
	return t, nil
}

func (st *state) updateTemplate(id int, patch core.TemplatePatch) (core.Template, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.templates[id]
	if !ok {
		return core.Template{}, errTemplateNotFound
	}
	if patch.Name != nil {
		if st.nameTaken(*patch.Name, id) {
			return core.Template{}, errTemplateExists
		}
		t.Name = *patch.Name
	}
	if patch.Config != nil {
		t.Config = append(json.RawMessage(nil), patch.Config...)
	}
	st.templates[id] = t
	return t, nil
}

func (st *state) deleteTemplate(id int) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.templates[id]; !ok {
		return errTemplateNotFound
	}
	delete(st.templates, id)
	return nil
}

func (st *state) deleteUser(username string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.users[username]; !ok {
		return errUserNotFound
	}
	delete(st.users, username)
	return nil
}

// deleteExpired removes users whose expiry lies in [after, before] and
// returns their names in sorted order.
func (st *state) deleteExpired(after, before time.Time) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := []string{}
	for name, u := range st.users {
		if u.Expire == nil || u.Expire.Before(after) || u.Expire.After(before) {
			continue
		}
		delete(st.users, name)
		removed = append(removed, name)
	}
	sort.Strings(removed)
	return removed
}

func (st *state) resetUsage() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for name, u := range st.users {
		u.UsedTraffic = 0
		st.users[name] = u
	}
}

func (st *state) userList() []User {
	st.mu.RLock()
	defer st.mu.RUnlock()
	list := make([]User, 0, len(st.users))
	for _, u := range st.users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	return list
}
