package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"docstrat/internal/app"
	"docstrat/internal/ratelimit"
	"docstrat/internal/usertoken"
	"docstrat/pkg/storage"
	"docstrat/pkg/store"
)

type fakeGenerator struct {
	response   string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) GenerateText(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type testServer struct {
	srv       *httptest.Server
	app       *app.App
	store     *store.MemoryStore
	objects   *storage.MemoryObjectStore
	generator *fakeGenerator
	signer    *rsa.PrivateKey
	enqueued  []string
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ts := &testServer{
		store:     store.NewMemoryStore(),
		objects:   storage.NewMemoryObjectStore(),
		generator: &fakeGenerator{response: "generated answer"},
	}
	a, err := app.New(app.Config{
		Store:     ts.store,
		Objects:   ts.objects,
		Generator: ts.generator,
		Scheduler: app.SchedulerFunc(func(_ context.Context, documentID string) error {
			ts.enqueued = append(ts.enqueued, documentID)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ts.app = a

	verifier, signer := newJWKSVerifier(t)
	ts.signer = signer

	cfg.App = a
	cfg.TokenVerifier = verifier
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts.srv = httptest.NewServer(s.Router())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, subject, email string) string {
	t.Helper()
	return mustSignToken(t, ts.signer, subject, email)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (ts *testServer) upload(t *testing.T, token, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/documents", &buf)
	if err != nil {
		t.Fatalf("new upload request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	if body["storage"] != true || body["ai"] != true {
		t.Fatalf("expected storage and ai healthy, got %v", body)
	}
}

func TestRoutesRequireValidToken(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodGet, "/api/documents", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", resp.StatusCode)
	}

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	resp = ts.do(t, http.MethodGet, "/api/documents", mustSignToken(t, otherKey, "user-1", "u@example.com"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid signature expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if errBody["code"] != "AUTH_INVALID_TOKEN" {
		t.Fatalf("unexpected error code: %q", errBody["code"])
	}
}

func TestUserProfileCreatesUserLazily(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodGet, "/api/user/profile", ts.token(t, "user-1", "u1@example.com"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var profile map[string]any
	decodeBody(t, resp, &profile)
	if profile["id"] != "user-1" || profile["email"] != "u1@example.com" {
		t.Fatalf("unexpected profile: %v", profile)
	}
}

func TestUploadListProcessChatFlow(t *testing.T) {
	ts := newTestServer(t, Config{})
	token := ts.token(t, "user-1", "u1@example.com")

	resp := ts.upload(t, token, "plan.txt", "a strategic plan for growth")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload expected 201, got %d", resp.StatusCode)
	}
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	docID := uploaded["document_id"]
	if docID == "" {
		t.Fatalf("missing document_id in %v", uploaded)
	}
	if len(ts.enqueued) != 1 || ts.enqueued[0] != docID {
		t.Fatalf("expected one enqueued job for %s, got %v", docID, ts.enqueued)
	}

	resp = ts.do(t, http.MethodGet, "/api/documents", token, nil)
	var docs []map[string]any
	decodeBody(t, resp, &docs)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	// Chat before processing is held with 202.
	resp = ts.do(t, http.MethodPost, "/api/documents/"+docID+"/chat", token, map[string]string{"message": "summarize"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("chat before processing expected 202, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+docID+"/status", token, nil)
	var status map[string]any
	decodeBody(t, resp, &status)
	if status["status"] != "processing" || status["ready_for_chat"] != false {
		t.Fatalf("unexpected pre-processing status: %v", status)
	}

	if err := ts.app.ProcessDocumentByID(context.Background(), docID); err != nil {
		t.Fatalf("process document: %v", err)
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+docID+"/status", token, nil)
	status = nil
	decodeBody(t, resp, &status)
	if status["status"] != "ready" || status["ready_for_chat"] != true {
		t.Fatalf("unexpected post-processing status: %v", status)
	}

	resp = ts.do(t, http.MethodPost, "/api/documents/"+docID+"/chat", token, map[string]string{"message": "summarize"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat expected 200, got %d", resp.StatusCode)
	}
	var chat map[string]any
	decodeBody(t, resp, &chat)
	if chat["message"] != "generated answer" {
		t.Fatalf("unexpected chat response: %v", chat)
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+docID+"/chat", token, nil)
	var history []map[string]any
	decodeBody(t, resp, &history)
	// One held turn from the 202 attempt, then the answered pair.
	if len(history) != 3 {
		t.Fatalf("expected 3 history messages, got %d", len(history))
	}
	if history[len(history)-1]["role"] != "ai" {
		t.Fatalf("expected ai turn last, got %v", history[len(history)-1])
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.upload(t, ts.token(t, "user-1", ""), "malware.exe", "nope")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if errBody["code"] != "DOC_UNSUPPORTED_FILE_TYPE" {
		t.Fatalf("unexpected error code: %q", errBody["code"])
	}
}

func TestUploadWithStorageDownReturns503(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.objects.SetAvailable(false)

	resp := ts.upload(t, ts.token(t, "user-1", ""), "plan.txt", "content")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if errBody["code"] != "STORAGE_UNAVAILABLE" {
		t.Fatalf("unexpected error code: %q", errBody["code"])
	}
}

func TestDocumentsAreHiddenFromOtherUsers(t *testing.T) {
	ts := newTestServer(t, Config{})
	owner := ts.token(t, "user-1", "")
	stranger := ts.token(t, "user-2", "")

	resp := ts.upload(t, owner, "plan.txt", "content")
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	docID := uploaded["document_id"]

	for _, path := range []string{
		"/api/documents/" + docID,
		"/api/documents/" + docID + "/status",
		"/api/documents/" + docID + "/chat",
	} {
		resp := ts.do(t, http.MethodGet, path, stranger, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s by stranger expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestDeleteDocumentReturnsNoContent(t *testing.T) {
	ts := newTestServer(t, Config{})
	token := ts.token(t, "user-1", "")

	resp := ts.upload(t, token, "plan.txt", "content")
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	docID := uploaded["document_id"]

	resp = ts.do(t, http.MethodDelete, "/api/documents/"+docID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+docID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete expected 404, got %d", resp.StatusCode)
	}
}

func TestReprocessDocument(t *testing.T) {
	ts := newTestServer(t, Config{})
	token := ts.token(t, "user-1", "")

	resp := ts.upload(t, token, "plan.txt", "fresh content for chunks")
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	docID := uploaded["document_id"]

	resp = ts.do(t, http.MethodPost, "/api/documents/"+docID+"/reprocess", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reprocess expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if !strings.Contains(body["message"], "reprocessing") {
		t.Fatalf("unexpected message: %q", body["message"])
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+docID+"/status", token, nil)
	var status map[string]any
	decodeBody(t, resp, &status)
	if status["ready_for_chat"] != true {
		t.Fatalf("expected document ready after reprocess, got %v", status)
	}
}

func TestCompareDefaultsToSummaryFocus(t *testing.T) {
	ts := newTestServer(t, Config{})
	token := ts.token(t, "user-1", "")

	ids := make([]string, 0, 2)
	for _, name := range []string{"a.txt", "b.txt"} {
		resp := ts.upload(t, token, name, "content of "+name)
		var uploaded map[string]string
		decodeBody(t, resp, &uploaded)
		ids = append(ids, uploaded["document_id"])
		if err := ts.app.ProcessDocumentByID(context.Background(), uploaded["document_id"]); err != nil {
			t.Fatalf("process %s: %v", name, err)
		}
	}

	ts.generator.response = "SUMMARY: both are plans.\nKEY_THEMES:\n- growth"
	resp := ts.do(t, http.MethodPost, "/api/documents/compare", token, map[string]any{
		"document_ids": ids,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("compare expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Comparison struct {
			Summary   string   `json:"summary"`
			KeyThemes []string `json:"key_themes"`
		} `json:"comparison"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &body)
	if body.Comparison.Summary != "both are plans." {
		t.Fatalf("unexpected summary: %q", body.Comparison.Summary)
	}
	if body.Message == "" {
		t.Fatalf("expected completion message")
	}
	if !strings.Contains(ts.generator.lastUser, "high-level comparison summary") {
		t.Fatalf("expected default summary focus in prompt, got %q", ts.generator.lastUser)
	}
}

func TestCompareRejectsTooFewDocuments(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp := ts.do(t, http.MethodPost, "/api/documents/compare", ts.token(t, "user-1", ""), map[string]any{
		"document_ids": []string{"only-one"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatRateLimited(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "docstrat:test:chat", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ts := newTestServer(t, Config{ChatLimiter: limiter})
	token := ts.token(t, "user-1", "")

	resp := ts.upload(t, token, "plan.txt", "content")
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	docID := uploaded["document_id"]
	if err := ts.app.ProcessDocumentByID(context.Background(), docID); err != nil {
		t.Fatalf("process document: %v", err)
	}

	resp = ts.do(t, http.MethodPost, "/api/documents/"+docID+"/chat", token, map[string]string{"message": "first"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first chat expected 200, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/documents/"+docID+"/chat", token, map[string]string{"message": "second"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second chat expected 429, got %d", resp.StatusCode)
	}
	var errBody map[string]string
	decodeBody(t, resp, &errBody)
	if errBody["code"] != "RATE_LIMITED" {
		t.Fatalf("unexpected error code: %q", errBody["code"])
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestDeleteChatHistory(t *testing.T) {
	ts := newTestServer(t, Config{})
	token := ts.token(t, "user-1", "")

	resp := ts.upload(t, token, "plan.txt", "content")
	var uploaded map[string]string
	decodeBody(t, resp, &uploaded)
	docID := uploaded["document_id"]
	if err := ts.app.ProcessDocumentByID(context.Background(), docID); err != nil {
		t.Fatalf("process document: %v", err)
	}

	resp = ts.do(t, http.MethodPost, "/api/documents/"+docID+"/chat", token, map[string]string{"message": "hello"})
	resp.Body.Close()

	resp = ts.do(t, http.MethodDelete, "/api/documents/"+docID+"/chat", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete chat expected 204, got %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/api/documents/"+docID+"/chat", token, nil)
	var history []map[string]any
	decodeBody(t, resp, &history)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}
}

func newJWKSVerifier(t *testing.T) (*usertoken.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": "kid-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  jwksServer.URL,
		Issuer:   "docstrat-auth",
		Audience: "docstrat-api",
		Leeway:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier, key
}

func mustSignToken(t *testing.T, key *rsa.PrivateKey, subject, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": "docstrat-auth",
		"aud": "docstrat-api",
		"exp": time.Now().Add(time.Minute).Unix(),
		"iat": time.Now().Unix(),
		"nbf": time.Now().Add(-time.Second).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
