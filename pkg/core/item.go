package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConnState is the status label of a log stream connection.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnClosed     ConnState = "closed"
)

// Target identifies which emitter a log view subscribes to.
// The zero value is the main core process.
type Target struct {
	NodeID string `json:"node_id,omitempty"`
}

// MainTarget is the main core process.
var MainTarget = Target{}

// NodeTarget returns the target for a remote node.
func NodeTarget(id string) Target {
	return Target{NodeID: id}
}

// IsMain reports whether t addresses the main core process.
func (t Target) IsMain() bool { return t.NodeID == "" }

func (t Target) String() string {
	if t.IsMain() {
		return "main"
	}
	return "node:" + t.NodeID
}

// ParseTarget parses the String form of a target. "", "main" and "host"
// all select the main process.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "", "main", "host":
		return MainTarget, nil
	}
	id, ok := strings.CutPrefix(s, "node:")
	if !ok {
		id = s
	}
	if !ValidNodeID(id) {
		return Target{}, fmt.Errorf("invalid target %q", s)
	}
	return NodeTarget(id), nil
}

// ValidNodeID reports whether id can stand as a single URL path segment.
func ValidNodeID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, "/?#")
}

// Node is a remote node the platform manages.
type Node struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Address     string `json:"address" yaml:"address"`
	Status      string `json:"status,omitempty" yaml:"status,omitempty"`
	XrayVersion string `json:"xray_version,omitempty" yaml:"xray_version,omitempty"`
}

// Target returns the log target for n.
func (n Node) Target() Target {
	return NodeTarget(fmt.Sprint(n.ID))
}

// CoreStats is the version/status metadata of the core process.
type CoreStats struct {
	Version       string `json:"version"`
	Started       bool   `json:"started"`
	LogsWebsocket string `json:"logs_websocket"`
}

// Template is a named, reusable core configuration.
type Template struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Config     json.RawMessage `json:"config"`
	CreatedAt  time.Time       `json:"created_at"`
	NodesCount int             `json:"nodes_count"`
}

// TemplateInput is the payload for creating a template.
type TemplateInput struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// TemplatePatch is the payload for updating a template. Nil fields are left unchanged.
type TemplatePatch struct {
	Name   *string         `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

const maxTemplateName = 256

// ValidateTemplateName checks the name length rules the backend enforces.
func ValidateTemplateName(name string) error {
	n := len([]rune(name))
	if n < 1 || n > maxTemplateName {
		return fmt.Errorf("template name must be 1 to %d characters, got %d", maxTemplateName, n)
	}
	return nil
}

// ValidateConfigObject checks that raw is a JSON object.
func ValidateConfigObject(raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("config must be a JSON object: %w", err)
	}
	if obj == nil {
		return fmt.Errorf("config must be a JSON object, got null")
	}
	return nil
}
