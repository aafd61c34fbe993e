package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/panelctl/pkg/config"
	"github.com/modoterra/panelctl/pkg/devpanel"
)

// startPanel runs a devpanel and writes a config pointing at it.
func startPanel(t *testing.T) string {
	t.Helper()
	s, err := devpanel.New(devpanel.Options{Token: "secret", Seed: devpanel.DefaultSeed()})
	require.NoError(t, err)
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})

	c := config.Default()
	c.BaseAPI = srv.URL + "/api"
	c.Token = "secret"
	path := filepath.Join(t.TempDir(), "panelctl.yaml")
	require.NoError(t, config.Save(c, path))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "panelctl "))
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panelctl.yaml")

	out, err := run(t, "config", "init", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated")

	_, err = run(t, "config", "init", "--output", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestConfigValidateReportsProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`version: 2
base_api: /api
logs:
  interval: 30
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	out, err := run(t, "config", "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "3 error(s)")
	assert.Contains(t, out, "origin is required")
}

func TestCoreStatus(t *testing.T) {
	cfg := startPanel(t)
	out, err := run(t, "--config", cfg, "core", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "started")
}

func TestCoreConfigSetRejectsMissingInbounds(t *testing.T) {
	cfg := startPanel(t)
	file := filepath.Join(t.TempDir(), "core.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"log":{}}`), 0o644))

	_, err := run(t, "--config", cfg, "core", "config", "set", file)
	assert.ErrorContains(t, err, "config doesn't have inbounds")
}

func TestTemplatesLifecycle(t *testing.T) {
	cfg := startPanel(t)

	out, err := run(t, "--config", cfg, "templates", "create", "--name", "edge", "--file", "")
	require.NoError(t, err)
	assert.Contains(t, out, `template "edge" created`)

	_, err = run(t, "--config", cfg, "templates", "create", "--name", "edge", "--file", "")
	assert.ErrorContains(t, err, "Template name already exists")

	out, err = run(t, "--config", cfg, "templates", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "edge")

	_, err = run(t, "--config", cfg, "templates", "delete", "999")
	assert.ErrorContains(t, err, "Template not found")
}

func TestNodesListJSON(t *testing.T) {
	cfg := startPanel(t)
	out, err := run(t, "--config", cfg, "nodes", "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "edge-1"`)
}

func TestUsersDeleteExpired(t *testing.T) {
	cfg := startPanel(t)
	out, err := run(t, "--config", cfg, "users", "delete-expired", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "bob")
	assert.NotContains(t, out, "alice")
}

func TestResetUsageNeedsConfirmation(t *testing.T) {
	cfg := startPanel(t)
	_, err := run(t, "--config", cfg, "users", "reset-usage")
	assert.ErrorContains(t, err, "--yes")

	out, err := run(t, "--config", cfg, "users", "reset-usage", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "usage reset")
}

func TestBadTokenSurfacesDetail(t *testing.T) {
	cfg := startPanel(t)
	_, err := run(t, "--config", cfg, "--token", "wrong", "nodes", "list")
	assert.ErrorContains(t, err, "Could not validate credentials")

	// Flags persist on the shared command tree.
	require.NoError(t, rootCmd.PersistentFlags().Set("token", ""))
}
