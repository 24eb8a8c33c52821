// ABOUTME: Tests for the HTTP API handlers
// ABOUTME: Drives chat, upload, PDF and health routes through the full middleware stack

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/foundry-relay/internal/auth"
	"github.com/2389/foundry-relay/internal/config"
	"github.com/2389/foundry-relay/internal/foundry"
)

// stubAgent answers every run with a fixed assistant reply and counts threads.
type stubAgent struct {
	mu        sync.Mutex
	reply     string
	runStatus string
	err       error
	created   int
	posted    map[string][]string
}

func newStubAgent(reply string) *stubAgent {
	return &stubAgent{reply: reply, runStatus: foundry.RunCompleted, posted: make(map[string][]string)}
}

func (s *stubAgent) CreateThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return fmt.Sprintf("thread-%d", s.created), nil
}

func (s *stubAgent) CreateMessage(ctx context.Context, threadID, role, content string) (*foundry.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.posted[threadID] = append(s.posted[threadID], content)
	return &foundry.Message{ThreadID: threadID, Role: role}, nil
}

func (s *stubAgent) CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*foundry.Run, error) {
	return &foundry.Run{ThreadID: threadID, Status: s.runStatus}, nil
}

func (s *stubAgent) ListMessages(ctx context.Context, threadID string, order foundry.Order) ([]foundry.Message, error) {
	return []foundry.Message{
		{Role: foundry.RoleUser, Content: []foundry.ContentPart{{Type: "text", Text: &foundry.TextContent{Value: "hello"}}}},
		{Role: foundry.RoleAssistant, Content: []foundry.ContentPart{{Type: "text", Text: &foundry.TextContent{Value: s.reply}}}},
	}, nil
}

func (s *stubAgent) threadsCreated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// fakeBlobs records uploads in memory.
type fakeBlobs struct {
	mu   sync.Mutex
	err  error
	puts map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{puts: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.puts[key] = data
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func apiConfig() *config.Config {
	cfg := &config.Config{
		Agent:   config.AgentConfig{Backend: config.AgentBackendFoundry, AgentID: "asst_test"},
		Storage: config.StorageConfig{Backend: config.StorageBackendAzure, ConnectionString: "unused"},
	}
	cfg.ApplyDefaults()
	return cfg
}

type testEnv struct {
	gw     *Gateway
	agent  *stubAgent
	blobs  *fakeBlobs
	server http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := apiConfig()
	if mutate != nil {
		mutate(cfg)
	}
	agent := newStubAgent("hi")
	blobs := newFakeBlobs()

	gw, err := assemble(cfg, components{agent: agent, blobs: blobs}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { gw.sessions.Close() })

	return &testEnv{gw: gw, agent: agent, blobs: blobs, server: gw.Handler()}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func TestChat_ReturnsAssistantReply(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(jsonRequest(t, http.MethodPost, "/chat", ChatRequest{SessionID: "abc", Message: "hello"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"reply": "hi"}, decodeBody(t, rec))
}

func TestChat_SecondTurnReusesThread(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, msg := range []string{"hello", "again"} {
		rec := env.do(jsonRequest(t, http.MethodPost, "/chat", ChatRequest{SessionID: "abc", Message: msg}))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, env.agent.threadsCreated())
	assert.Equal(t, []string{"hello", "again"}, env.agent.posted["thread-1"])
}

func TestChat_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty message", `{"session_id":"abc","message":"   "}`, "message required"},
		{"missing message", `{"session_id":"abc"}`, "message required"},
		{"missing session", `{"message":"hello"}`, "session_id required"},
		{"blank session", `{"session_id":" ","message":"hello"}`, "session_id required"},
		{"both missing", `{}`, "message required"},
		{"invalid json", `not json`, "message required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))

			rec := env.do(req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec)["error"])
			assert.Zero(t, env.agent.threadsCreated())
		})
	}
}

func TestChat_RunFailed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.runStatus = "FAILED"

	rec := env.do(jsonRequest(t, http.MethodPost, "/chat", ChatRequest{SessionID: "abc", Message: "hello"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Agent run failed", decodeBody(t, rec)["error"])
}

func TestChat_AgentErrorText(t *testing.T) {
	env := newTestEnv(t, nil)
	env.agent.err = errors.New("service unavailable")

	rec := env.do(jsonRequest(t, http.MethodPost, "/chat", ChatRequest{SessionID: "abc", Message: "hello"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "service unavailable")
}

func TestUpload_StoresSessionScopedBlob(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(multipartRequest(t, map[string]string{"session_id": "abc"}, "data.csv", []byte("a,b\n1,2\n")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "data.csv", body["filename"])
	assert.Regexp(t, `^https://blobs\.test/sessions/abc/uploads/[0-9a-f]{32}_data\.csv$`, body["blob_url"])

	key := strings.TrimPrefix(body["blob_url"], "https://blobs.test/")
	assert.Equal(t, "a,b\n1,2\n", string(env.blobs.puts[key]))
}

func TestUpload_WithoutSessionIsUnscoped(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(multipartRequest(t, nil, "Report Final.XLSX", []byte("xlsx")))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Report Final.XLSX", body["filename"])
	assert.Regexp(t, `^https://blobs\.test/uploads/[0-9a-f]{32}_Report_Final\.XLSX$`, body["blob_url"])
}

func TestUpload_SessionIDIsEscapedNotMerged(t *testing.T) {
	env := newTestEnv(t, nil)

	var urls []string
	for _, session := range []string{"a/b", "a b", "a_b"} {
		rec := env.do(multipartRequest(t, map[string]string{"session_id": session}, "data.csv", []byte("1")))
		require.Equal(t, http.StatusOK, rec.Code)
		urls = append(urls, decodeBody(t, rec)["blob_url"])
	}

	assert.Contains(t, urls[0], "/sessions/a%2Fb/uploads/")
	assert.Contains(t, urls[1], "/sessions/a%20b/uploads/")
	assert.Contains(t, urls[2], "/sessions/a_b/uploads/")
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		want     string
	}{
		{"wrong extension", map[string]string{"session_id": "abc"}, "report.txt", "Invalid file type"},
		{"lookalike extension", map[string]string{"session_id": "abc"}, "data.csvx", "Invalid file type"},
		{"no file part", map[string]string{"session_id": "abc"}, "", "No file"},
		{"blank session", map[string]string{"session_id": "  "}, "data.csv", "session_id required"},
		{"dot-dot session", map[string]string{"session_id": ".."}, "data.csv", "invalid session_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.do(multipartRequest(t, tt.fields, tt.filename, []byte("x")))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec)["error"])
			assert.Zero(t, env.blobs.count())
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(jsonRequest(t, http.MethodPost, "/upload", map[string]string{"file": "x"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file", decodeBody(t, rec)["error"])
}

func TestUpload_TooLargeNeverReachesStore(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Uploads.MaxBytes = 1024 })
	big := bytes.Repeat([]byte("a,b\n"), 2048)

	rec := env.do(multipartRequest(t, map[string]string{"session_id": "abc"}, "data.csv", big))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File too large", decodeBody(t, rec)["error"])
	assert.Zero(t, env.blobs.count())
}

func TestUpload_TooLargeWithoutContentLength(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Uploads.MaxBytes = 1024 })
	big := bytes.Repeat([]byte("a,b\n"), 2048)

	req := multipartRequest(t, map[string]string{"session_id": "abc"}, "data.csv", big)
	req.ContentLength = -1

	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.blobs.count())
}

func TestUpload_StoreFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.blobs.err = errors.New("container is locked")

	rec := env.do(multipartRequest(t, map[string]string{"session_id": "abc"}, "data.csv", []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "container is locked", decodeBody(t, rec)["error"])
}

func TestDownloadPDF_EmptyText(t *testing.T) {
	for _, body := range []string{`{"text":""}`, `{}`, `garbage`} {
		env := newTestEnv(t, nil)

		rec := env.do(httptest.NewRequest(http.MethodPost, "/download_pdf", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "No text", decodeBody(t, rec)["error"], body)
	}
}

func TestDownloadPDF_ReturnsAttachment(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(jsonRequest(t, http.MethodPost, "/download_pdf", PDFRequest{Text: "**Summary**\nline two\n\nline four"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=agent_response.pdf", rec.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	assert.Equal(t, fmt.Sprint(rec.Body.Len()), rec.Header().Get("Content-Length"))
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct{ method, path string }{
		{http.MethodGet, "/chat"},
		{http.MethodGet, "/upload"},
		{http.MethodPut, "/download_pdf"},
		{http.MethodPost, "/health"},
		{http.MethodPost, "/"},
	}
	for _, c := range cases {
		rec := env.do(httptest.NewRequest(c.method, c.path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", c.method, c.path)
		assert.Equal(t, "method not allowed", decodeBody(t, rec)["error"])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody(t, rec))
}

func TestIndexAndUnknownPaths(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/static/app.js")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSAndRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodOptions, "/chat", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec = env.do(req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAuth_RequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = testSecret })

	rec := env.do(jsonRequest(t, http.MethodPost, "/chat", ChatRequest{SessionID: "abc", Message: "hello"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authorization header", decodeBody(t, rec)["error"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health stays open")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "landing page stays open")
}

func TestAuth_SubjectBecomesSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = testSecret })

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := jsonRequest(t, http.MethodPost, "/chat", ChatRequest{Message: "hello"})
		req.Header.Set("Authorization", "Bearer "+token)
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	assert.Equal(t, 1, env.agent.threadsCreated())
	assert.Equal(t, 1, env.gw.sessions.Len())
}

func TestAuth_RejectsForeignToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = testSecret })

	other, err := auth.NewJWTVerifier([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	token, err := other.Generate("mallory", time.Hour)
	require.NoError(t, err)

	req := jsonRequest(t, http.MethodPost, "/download_pdf", PDFRequest{Text: "hi"})
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decodeBody(t, rec)["error"])
}
