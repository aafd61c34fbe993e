// Package api is a thin client for the panel REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modoterra/panelctl/pkg/core"
	"github.com/modoterra/panelctl/pkg/logging"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// expiredAfter is the lower bound the dashboard sends for expiry sweeps.
const expiredAfter = "2000-01-01T00:00:00"

// Options configures a Client.
type Options struct {
	// BaseAPI is the API root. A value starting with "/" is resolved
	// against Origin.
	BaseAPI    string
	Origin     string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the panel API. It never retries writes.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New validates the base URL and returns a client.
func New(opts Options) (*Client, error) {
	raw := opts.BaseAPI
	if strings.HasPrefix(raw, "/") {
		if opts.Origin == "" {
			return nil, fmt.Errorf("relative base %q needs an origin", raw)
		}
		raw = strings.TrimSuffix(opts.Origin, "/") + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in base %q", base.Scheme, raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base %q has no host", raw)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		base:   base,
		token:  opts.Token,
		http:   hc,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(query url.Values, elem ...string) string {
	u := *c.base
	u.Path = path.Join(append([]string{"/", c.base.Path}, elem...)...)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("url", endpoint), zap.String("request_id", reqID), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return newError(resp.StatusCode, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, req.URL.Path, err)
	}
	return nil
}

// CoreStats returns the core version and run state.
func (c *Client) CoreStats(ctx context.Context) (core.CoreStats, error) {
	var stats core.CoreStats
	err := c.do(ctx, http.MethodGet, c.endpoint(nil, "core"), nil, &stats)
	return stats, err
}

// CoreConfig returns the current core configuration as an opaque JSON object.
func (c *Client) CoreConfig(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "core", "config"), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UpdateCoreConfig replaces the core configuration and returns what the
// server stored.
func (c *Client) UpdateCoreConfig(ctx context.Context, cfg json.RawMessage) (json.RawMessage, error) {
	if err := core.ValidateConfigObject(cfg); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPut, c.endpoint(nil, "core", "config"), cfg, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// RestartCore asks the server to restart the core process.
func (c *Client) RestartCore(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.endpoint(nil, "core", "restart"), nil, nil)
}

// Templates lists every template.
func (c *Client) Templates(ctx context.Context) ([]core.Template, error) {
	var list []core.Template
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "xray", "templates"), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Template fetches one template.
func (c *Client) Template(ctx context.Context, id int) (core.Template, error) {
	var t core.Template
	err := c.do(ctx, http.MethodGet, c.endpoint(nil, "xray", "templates", strconv.Itoa(id)), nil, &t)
	return t, err
}

// CreateTemplate stores a new template.
func (c *Client) CreateTemplate(ctx context.Context, in core.TemplateInput) (core.Template, error) {
	if err := core.ValidateTemplateName(in.Name); err != nil {
		return core.Template{}, err
	}
	if err := core.ValidateConfigObject(in.Config); err != nil {
		return core.Template{}, err
	}
	var t core.Template
	err := c.do(ctx, http.MethodPost, c.endpoint(nil, "xray", "templates"), in, &t)
	return t, err
}

// UpdateTemplate changes the name and/or config of a template.
func (c *Client) UpdateTemplate(ctx context.Context, id int, patch core.TemplatePatch) (core.Template, error) {
	if patch.Name != nil {
		if err := core.ValidateTemplateName(*patch.Name); err != nil {
			return core.Template{}, err
		}
	}
	if patch.Config != nil {
		if err := core.ValidateConfigObject(patch.Config); err != nil {
			return core.Template{}, err
		}
	}
	var t core.Template
	err := c.do(ctx, http.MethodPut, c.endpoint(nil, "xray", "templates", strconv.Itoa(id)), patch, &t)
	return t, err
}

// DeleteTemplate removes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, c.endpoint(nil, "xray", "templates", strconv.Itoa(id)), nil, nil)
}

// Nodes lists the remote nodes.
func (c *Client) Nodes(ctx context.Context) ([]core.Node, error) {
	var list []core.Node
	if err := c.do(ctx, http.MethodGet, c.endpoint(nil, "nodes"), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteUser removes one user.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	if username == "" || strings.Contains(username, "/") {
		return fmt.Errorf("invalid username %q", username)
	}
	return c.do(ctx, http.MethodDelete, c.endpoint(nil, "user", username), nil, nil)
}

// DeleteUsers removes users concurrently. It returns the first error; the
// other deletions still run to completion.
func (c *Client) DeleteUsers(ctx context.Context, usernames []string) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, name := range usernames {
		g.Go(func() error {
			if err := c.DeleteUser(ctx, name); err != nil {
				return fmt.Errorf("delete user %q: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ExpiredBefore formats the upper expiry bound for a sweep of users that
// expired at least days ago.
func ExpiredBefore(now time.Time, days int) string {
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour).Format("2006-01-02T15:04:05.000Z")
}

// DeleteExpiredUsers removes users that expired at least days before now
// and returns their usernames.
func (c *Client) DeleteExpiredUsers(ctx context.Context, days int, now time.Time) ([]string, error) {
	if days < 0 {
		return nil, fmt.Errorf("days must not be negative, got %d", days)
	}
	q := url.Values{}
	q.Set("expired_after", expiredAfter)
	q.Set("expired_before", ExpiredBefore(now, days))
	var removed []string
	if err := c.do(ctx, http.MethodDelete, c.endpoint(q, "users", "expired"), nil, &removed); err != nil {
		return nil, err
	}
	return removed, nil
}

// ResetAllUsage zeroes the traffic counters of every user.
func (c *Client) ResetAllUsage(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.endpoint(nil, "users", "reset"), nil, nil)
}
