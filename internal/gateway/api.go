// ABOUTME: HTTP API handlers for chat, file upload, PDF download and health
// ABOUTME: Maps component errors onto JSON error responses with fixed status codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/2389/foundry-relay/internal/assets"
	"github.com/2389/foundry-relay/internal/auth"
	"github.com/2389/foundry-relay/internal/conversation"
	"github.com/2389/foundry-relay/internal/pdf"
	"github.com/2389/foundry-relay/internal/upload"
)

const (
	// multipartMemory is how much of a multipart form is held in memory before spilling to disk.
	multipartMemory = 32 << 20
	pdfFilename     = "agent_response.pdf"
)

// ChatRequest is the JSON request body for POST /chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the JSON response for POST /chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// UploadResponse is the JSON response for POST /upload.
type UploadResponse struct {
	Filename string `json:"filename"`
	BlobURL  string `json:"blob_url"`
}

// PDFRequest is the JSON request body for POST /download_pdf.
type PDFRequest struct {
	Text string `json:"text"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// routes builds the HTTP handler. The API routes require a bearer token when
// a JWT secret is configured.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", g.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", assets.FileServer()))
	mux.HandleFunc("/health", g.handleHealth)

	mux.Handle("/chat", g.protect(http.HandlerFunc(g.handleChat)))
	mux.Handle("/upload", g.protect(http.HandlerFunc(g.handleUpload)))
	mux.Handle("/download_pdf", g.protect(http.HandlerFunc(g.handleDownloadPDF)))

	if g.localBlobs != nil {
		mux.Handle("/blobs/", g.localBlobs.Handler())
	}

	return chainMiddlewares(mux,
		g.withBodyLimit,
		withCORS,
		g.withRequestLogging,
	)
}

// protect wraps h with bearer authentication when it is enabled.
func (g *Gateway) protect(h http.Handler) http.Handler {
	if g.verifier == nil {
		return h
	}
	return auth.HTTPAuthMiddleware(g.verifier, g.logger)(h)
}

// handleIndex serves the landing page at exactly "/".
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	assets.IndexHandler().ServeHTTP(w, r)
}

// handleHealth reports liveness.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	g.sendJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleChat runs one chat turn. A body that is not valid JSON is treated as
// an empty request.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		req = ChatRequest{}
	}

	sessionID := req.SessionID
	if strings.TrimSpace(sessionID) == "" {
		sessionID = auth.SubjectFromContext(r.Context())
	}

	reply, err := g.orchestrator.Converse(r.Context(), sessionID, req.Message)
	switch {
	case err == nil:
		g.sendJSON(w, http.StatusOK, ChatResponse{Reply: reply})
	case errors.Is(err, conversation.ErrMessageRequired):
		g.sendJSONError(w, http.StatusBadRequest, "message required")
	case errors.Is(err, conversation.ErrSessionRequired):
		g.sendJSONError(w, http.StatusBadRequest, "session_id required")
	case errors.Is(err, conversation.ErrRunFailed):
		g.sendJSONError(w, http.StatusInternalServerError, "Agent run failed")
	default:
		g.logger.Error("chat failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleUpload stores one multipart file in blob storage. A session_id form
// field scopes the blob key; a field that is present but blank is rejected.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if limit := g.config.Uploads.MaxBytes; limit > 0 && r.ContentLength > limit {
		g.sendJSONError(w, http.StatusBadRequest, "File too large")
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			g.sendJSONError(w, http.StatusBadRequest, "File too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "No file")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "No file")
		return
	}
	defer file.Close()

	switch err := g.validator.Check(header.Filename); {
	case errors.Is(err, upload.ErrNoFile):
		g.sendJSONError(w, http.StatusBadRequest, "No file")
		return
	case errors.Is(err, upload.ErrInvalidType):
		g.sendJSONError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	sessionID, ok := uploadSession(r)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "session_id required")
		return
	}

	key, err := upload.BlobKey(sessionID, header.Filename)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	blobURL, err := g.blobs.Put(r.Context(), key, file, header.Header.Get("Content-Type"))
	if err != nil {
		g.logger.Error("upload failed", "key", key, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if g.uploads != nil {
		g.uploads.Add(r.Context(), 1, metric.WithAttributes(attribute.Bool("session_scoped", sessionID != "")))
	}
	g.logger.Info("file uploaded", "filename", header.Filename, "key", key, "bytes", header.Size)
	g.sendJSON(w, http.StatusOK, UploadResponse{Filename: header.Filename, BlobURL: blobURL})
}

// uploadSession returns the session for an upload. Without a session_id field
// the authenticated subject is used, if any.
func uploadSession(r *http.Request) (string, bool) {
	values, present := r.MultipartForm.Value["session_id"]
	if !present || len(values) == 0 {
		return auth.SubjectFromContext(r.Context()), true
	}
	sessionID := strings.TrimSpace(values[0])
	return sessionID, sessionID != ""
}

// handleDownloadPDF renders the posted text as a PDF attachment.
func (g *Gateway) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PDFRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		req = PDFRequest{}
	}
	if req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, "No text")
		return
	}

	doc, err := pdf.Render(pdf.Layout(req.Text))
	if err != nil {
		g.logger.Error("pdf render failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if g.pdfs != nil {
		g.pdfs.Add(r.Context(), 1)
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", pdfFilename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
