// ABOUTME: Tests for the relay CLI commands and logger setup
// ABOUTME: Covers config discovery, init output, token minting, health and sessions commands

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/foundry-relay/internal/auth"
	"github.com/2389/foundry-relay/internal/config"
	"github.com/2389/foundry-relay/internal/store"
)

func init() {
	color.NoColor = true
}

func resetConfigFlag(t *testing.T) {
	t.Helper()
	configPath = ""
	t.Cleanup(func() { configPath = "" })
}

func TestGetConfigPath_Priority(t *testing.T) {
	resetConfigFlag(t)

	t.Setenv("FOUNDRY_RELAY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "foundry-relay", "relay.yaml"), getConfigPath())

	t.Setenv("FOUNDRY_RELAY_CONFIG", "/etc/relay.yaml")
	assert.Equal(t, "/etc/relay.yaml", getConfigPath())

	configPath = "/flag/relay.yaml"
	assert.Equal(t, "/flag/relay.yaml", getConfigPath())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestSetupLogger_ColorText(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	defer closeFn()

	logger.With("component", "gateway").Info("server started", "addr", ":5000")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "INF server started")
	assert.Contains(t, out, "component=gateway")
	assert.Contains(t, out, "addr=:5000")
	assert.NotContains(t, out, "hidden")
}

func TestSetupLogger_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)
	defer closeFn()

	logger.WithGroup("http").Debug("request", "status", 200)

	assert.Contains(t, buf.String(), "DBG request http.status=200")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	defer closeFn()

	logger.Info("skipped")
	logger.Warn("disk low", "free_mb", 12)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "disk low", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 12, rec["free_mb"])
}

func TestSetupLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	var buf bytes.Buffer
	logger, closeFn := setupLogger(config.LoggingConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}, &buf)

	logger.Info("upload stored", "key", "uploads/x.csv")
	closeFn()

	assert.Contains(t, buf.String(), "upload stored")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "upload stored", rec["msg"])
	assert.Equal(t, "uploads/x.csv", rec["key"])
}

func TestHealthURL(t *testing.T) {
	assert.Equal(t, "http://localhost:5000/health", healthURL("0.0.0.0:5000"))
	assert.Equal(t, "http://localhost:5000/health", healthURL(":5000"))
	assert.Equal(t, "http://127.0.0.1:8080/health", healthURL("127.0.0.1:8080"))
}

func TestRunHealth(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	assert.NoError(t, runHealth(context.Background(), srv.URL+"/health"))

	status = http.StatusServiceUnavailable
	assert.ErrorContains(t, runHealth(context.Background(), srv.URL+"/health"), "unhealthy: status 503")
}

func TestMintToken(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"

	token, err := mintToken(secret, " alice ", time.Hour)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	_, err = mintToken("", "alice", time.Hour)
	assert.Error(t, err)
	_, err = mintToken(secret, "  ", time.Hour)
	assert.Error(t, err)
	_, err = mintToken(secret, "alice", 0)
	assert.Error(t, err)
}

func TestRunInit_WritesLoadableConfig(t *testing.T) {
	resetConfigFlag(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)

	cfgPath := filepath.Join(dir, "relay.yaml")
	answers := strings.Join([]string{
		cfgPath,                           // config path
		"",                                // http addr
		"",                                // grpc addr
		filepath.Join(dir, "relay.db"),    // database
		"echo",                            // agent backend
		"local",                           // storage backend
		filepath.Join(dir, "blobs"),       // local dir
		"y",                               // require tokens
		"",                                // tailscale
		"debug",                           // log level
		"",                                // log format
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+cfgPath)

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.AgentBackendEcho, cfg.Agent.Backend)
	assert.Equal(t, config.StorageBackendLocal, cfg.Storage.Backend)
	assert.Equal(t, config.DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, "http://localhost:5000", cfg.Storage.PublicBaseURL)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), 32)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.TTL)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	resetConfigFlag(t)
	cfgPath := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(cfgPath+"\nno\n"), &out))

	assert.Contains(t, out.String(), "Aborted.")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

// writeSessionsConfig creates a config with a database holding two sessions.
func writeSessionsConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "relay.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SaveThread(ctx, "alpha", "thread_a"))
	require.NoError(t, s.SaveThread(ctx, "beta", "thread_b"))
	require.NoError(t, s.Close())

	cfgPath = filepath.Join(dir, "relay.yaml")
	content := "database:\n  path: " + dbPath + "\nagent:\n  backend: echo\nstorage:\n  backend: local\n  local_dir: " + filepath.Join(dir, "blobs") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0600))
	return cfgPath, dbPath
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetConfigFlag(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionsCommands(t *testing.T) {
	cfgPath, dbPath := writeSessionsConfig(t)

	out, err := runRoot(t, "--config", cfgPath, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "thread_b")

	out, err = runRoot(t, "--config", cfgPath, "sessions", "prune", "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 session(s)")

	out, err = runRoot(t, "--config", cfgPath, "sessions", "forget", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "forgot session alpha")

	_, err = runRoot(t, "--config", cfgPath, "sessions", "forget", "alpha")
	assert.ErrorContains(t, err, "not found")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	rows, err := s.ListSessionThreads(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "beta", rows[0].SessionID)
}

func TestSessionsCommands_RequireDatabase(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "relay.yaml")
	content := "agent:\n  backend: echo\nstorage:\n  backend: local\n  local_dir: " + filepath.Join(dir, "blobs") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0600))

	_, err := runRoot(t, "--config", cfgPath, "sessions", "list")
	assert.ErrorContains(t, err, "database.path is not configured")
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "relay.yaml")
	content := "agent:\n  backend: echo\nstorage:\n  backend: local\n  local_dir: " + filepath.Join(dir, "blobs") +
		"\nauth:\n  jwt_secret: \"0123456789abcdef0123456789abcdef\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0600))

	out, err := runRoot(t, "--config", cfgPath, "token", "--subject", "bob", "--ttl", "1h")
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	subject, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "bob", subject)
}
