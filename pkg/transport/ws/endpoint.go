package ws

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/modoterra/panelctl/pkg/core"
)

// Endpoint describes where the log stream for a target lives.
type Endpoint struct {
	// BaseAPI is the panel API root, e.g. https://panel.example.com/api.
	// A value starting with "/" is resolved against Origin.
	BaseAPI string
	Origin  string
	// Interval is the server batching hint in seconds; 0 omits it.
	Interval int
	Token    string
}

// URL derives the WebSocket URL for target.
//
//	main:  wss://host/api/core/logs?interval=1&token=...
//	node:  wss://host/api/node/<id>/logs?interval=1&token=...
func (e Endpoint) URL(target core.Target) (string, error) {
	raw := e.BaseAPI
	if strings.HasPrefix(raw, "/") {
		if e.Origin == "" {
			return "", fmt.Errorf("relative base %q needs an origin", raw)
		}
		raw = strings.TrimSuffix(e.Origin, "/") + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", raw, err)
	}
	if base.Host == "" {
		return "", fmt.Errorf("base %q has no host", raw)
	}

	u := url.URL{Host: base.Host}
	switch base.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q in base %q", base.Scheme, raw)
	}

	if target.IsMain() {
		u.Path = path.Join("/", base.Path, "core", "logs")
	} else {
		if !core.ValidNodeID(target.NodeID) {
			return "", fmt.Errorf("invalid node id %q", target.NodeID)
		}
		u.Path = path.Join("/", base.Path, "node", target.NodeID, "logs")
	}

	q := url.Values{}
	if e.Interval > 0 {
		q.Set("interval", strconv.Itoa(e.Interval))
	}
	q.Set("token", e.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
