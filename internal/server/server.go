package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"docstrat/internal/app"
	"docstrat/internal/ratelimit"
	"docstrat/internal/usertoken"
	"docstrat/internal/util"
	"docstrat/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	ChatLimiter    *ratelimit.FixedWindowLimiter
	CompareLimiter *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes the document and chat HTTP endpoints.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	chatLimiter    *ratelimit.FixedWindowLimiter
	compareLimiter *ratelimit.FixedWindowLimiter
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		chatLimiter:    cfg.ChatLimiter,
		compareLimiter: cfg.CompareLimiter,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("docstrat", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/api/user/profile", s.withUser(s.handleUserProfile))

	// documents
	s.mux.Handle("/api/documents", s.withUser(s.handleDocuments))
	s.mux.Handle("/api/documents/", s.withUser(s.handleDocumentSubtree))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"storage": s.app.StorageAvailable(r.Context()),
		"ai":      s.app.AIConfigured(),
	})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.VerifyIdentity(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.EnsureUser(r.Context(), identity.Subject, identity.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadDocument(w, r, user)
	case http.MethodGet:
		s.handleListDocuments(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// /api/documents/compare, /api/documents/{id} and its
// status / reprocess / chat sub-resources.
func (s *Server) handleDocumentSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if id == "compare" && len(parts) == 1 {
		s.handleCompareDocuments(w, r, user)
		return
	}
	if len(parts) == 1 {
		s.handleDocumentByID(w, r, user, id)
		return
	}
	switch parts[1] {
	case "status":
		s.handleDocumentStatus(w, r, user, id)
	case "reprocess":
		s.handleReprocessDocument(w, r, user, id)
	case "chat":
		s.handleChat(w, r, user, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: document)")
		return
	}
	defer file.Close()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" && ext != ".txt" {
		writeError(w, http.StatusBadRequest, "unsupported file type: only PDF and TXT files are supported")
		return
	}
	doc, err := s.app.CreateDocument(r.Context(), user.ID, header.Filename, file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"document_id": doc.ID,
		"message":     "Document uploaded successfully. Processing started.",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	docs, err := s.app.GetDocuments(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(r.Context(), id, user.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), id, user.ID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	status, chunks, err := s.app.DocumentStatus(r.Context(), id, user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"chunks_count":   chunks,
		"ready_for_chat": chunks > 0,
	})
}

func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.ReprocessDocument(r.Context(), id, user.ID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document reprocessing started"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.app.GetChatHistory(r.Context(), id, user.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	case http.MethodPost:
		s.handleSendMessage(w, r, user, id)
	case http.MethodDelete:
		if err := s.app.DeleteChatHistory(r.Context(), id, user.ID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if !s.allowRate(w, r, s.chatLimiter, user.ID, "too many chat requests") {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message cannot be empty")
		return
	}
	resp, err := s.app.SendMessage(r.Context(), id, user.ID, req.Message)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type compareRequest struct {
	DocumentIDs []string `json:"document_ids"`
	CompareType string   `json:"compare_type"`
}

func (s *Server) handleCompareDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.compareLimiter, user.ID, "too many comparison requests") {
		return
	}
	var req compareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	compareType := strings.TrimSpace(req.CompareType)
	if compareType == "" {
		compareType = "summary"
	}
	comparison, err := s.app.CompareDocuments(r.Context(), req.DocumentIDs, user.ID, compareType)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"comparison": comparison,
		"message":    "Document comparison completed successfully",
	})
}

// allowRate applies a per-user fixed-window limit. A nil limiter
// disables limiting for the route.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, userID, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + userID
	if key == "|" {
		key = r.URL.Path + "|" + clientIP(r)
	}
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// writeAppError maps application sentinels onto HTTP statuses. Anything
// not recognized as a caller problem becomes a 500.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
	case errors.Is(err, app.ErrDocumentProcessing):
		writeError(w, http.StatusAccepted, app.ErrDocumentProcessing.Error())
	case errors.Is(err, app.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "file storage service is currently unavailable, please try again later")
	case errors.Is(err, app.ErrAIUnavailable):
		writeError(w, http.StatusServiceUnavailable, "ai service is currently unavailable, please try again later")
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "required") ||
		strings.Contains(msg, "cannot be empty") ||
		strings.Contains(msg, "maximum")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "token verifier not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "document not found":
		return "DOC_NOT_FOUND"
	case strings.Contains(message, "still being processed"):
		return "DOC_PROCESSING"
	case strings.Contains(message, "storage service is currently unavailable"):
		return "STORAGE_UNAVAILABLE"
	case strings.Contains(message, "ai service is currently unavailable"):
		return "AI_UNAVAILABLE"
	case strings.Contains(message, "file is required"):
		return "DOC_FILE_REQUIRED"
	case strings.Contains(message, "unsupported file type"):
		return "DOC_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "DOC_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "DOC_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "DOC_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusNotFound:
		return "DOC_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
