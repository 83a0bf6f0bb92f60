package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OlgaBilynska/REST-API-app/internal/avatars"
	"github.com/OlgaBilynska/REST-API-app/internal/domain"
	"github.com/OlgaBilynska/REST-API-app/internal/repository"
	"github.com/OlgaBilynska/REST-API-app/internal/service/auth"
	"github.com/OlgaBilynska/REST-API-app/pkg/config"
)

type routerFixture struct {
	router    *Router
	repo      *memoryRepo
	publicDir string
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	publicDir := t.TempDir()
	store, err := avatars.NewStore(publicDir)
	if err != nil {
		t.Fatalf("avatar store: %v", err)
	}
	repo := newMemoryRepo()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		BaseURL:    "http://localhost:3000",
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := auth.New(repo, store, noopSender{}, log, cfg)
	router := NewRouter(log, svc, t.TempDir(), publicDir, nil)
	return &routerFixture{router: router, repo: repo, publicDir: publicDir}
}

func (f *routerFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestSignupEndpointCreatesAccount(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/signup", map[string]string{
		"email":    "alice@example.com",
		"password": "pw123456",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["email"] != "alice@example.com" {
		t.Fatalf("unexpected email: %v", payload["email"])
	}
	if payload["subscription"] != "starter" {
		t.Fatalf("unexpected subscription: %v", payload["subscription"])
	}
	avatarURL, _ := payload["avatarURL"].(string)
	if !strings.HasPrefix(avatarURL, "https://www.gravatar.com/avatar/") {
		t.Fatalf("expected gravatar default, got %v", payload["avatarURL"])
	}
	user := f.repo.byEmail("alice@example.com")
	if user == nil || user.Verified {
		t.Fatalf("expected stored unverified user, got %+v", user)
	}
}

func TestSignupEndpointDuplicateConflict(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"email": "alice@example.com", "password": "pw123456"}
	if rec := f.do(t, http.MethodPost, "/signup", body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("first signup failed: %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/signup", body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if f.repo.count() != 1 {
		t.Fatalf("expected exactly one record, got %d", f.repo.count())
	}
}

func TestSignupEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := []map[string]string{
		{"email": "not-an-email", "password": "pw123456"},
		{"email": "alice@example.com", "password": "short"},
		{"password": "pw123456"},
	}
	for _, body := range cases {
		if rec := f.do(t, http.MethodPost, "/signup", body, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, rec.Code)
		}
	}
}

func TestSigninFailuresShareOneMessage(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/signup", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, nil)

	unknown := f.do(t, http.MethodPost, "/signin", map[string]string{
		"email": "ghost@example.com", "password": "pw123456",
	}, nil)
	wrongPassword := f.do(t, http.MethodPost, "/signin", map[string]string{
		"email": "alice@example.com", "password": "pw999999",
	}, nil)
	unverified := f.do(t, http.MethodPost, "/signin", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, nil)

	for name, rec := range map[string]*httptest.ResponseRecorder{
		"unknown": unknown, "wrong password": wrongPassword, "unverified": unverified,
	} {
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
	if unknown.Body.String() != wrongPassword.Body.String() || wrongPassword.Body.String() != unverified.Body.String() {
		t.Fatalf("expected identical bodies, got %q / %q / %q",
			unknown.Body.String(), wrongPassword.Body.String(), unverified.Body.String())
	}
}

func TestAccountLifecycleScenario(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/signup", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d body %s", rec.Code, rec.Body.String())
	}

	user := f.repo.byEmail("alice@example.com")
	if user == nil || user.VerificationToken == nil {
		t.Fatalf("expected pending verification token")
	}
	verificationToken := *user.VerificationToken

	rec = f.do(t, http.MethodGet, "/verify/"+verificationToken, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d body %s", rec.Code, rec.Body.String())
	}
	if rec = f.do(t, http.MethodGet, "/verify/"+verificationToken, nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected second verification to 404, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/signin", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("signin: %d body %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["token"].(string)
	if token == "" {
		t.Fatalf("expected session token in signin response")
	}

	rec = f.do(t, http.MethodGet, "/current", nil, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("current: %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPatch, "/subscription", map[string]string{"subscription": "pro"}, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("subscription: %d body %s", rec.Code, rec.Body.String())
	}
	if sub := decodeBody(t, rec)["subscription"]; sub != "pro" {
		t.Fatalf("expected pro subscription, got %v", sub)
	}

	rec = f.do(t, http.MethodPost, "/logout", nil, bearer(token))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d body %s", rec.Code, rec.Body.String())
	}

	if rec = f.do(t, http.MethodGet, "/current", nil, bearer(token)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old token to fail after logout, got %d", rec.Code)
	}
}

func TestSigninRotationInvalidatesOldToken(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/signup", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, nil)
	user := f.repo.byEmail("alice@example.com")
	f.do(t, http.MethodGet, "/verify/"+*user.VerificationToken, nil, nil)

	creds := map[string]string{"email": "alice@example.com", "password": "pw123456"}
	first, _ := decodeBody(t, f.do(t, http.MethodPost, "/signin", creds, nil))["token"].(string)
	second, _ := decodeBody(t, f.do(t, http.MethodPost, "/signin", creds, nil))["token"].(string)
	if first == "" || second == "" || first == second {
		t.Fatalf("expected two distinct tokens, got %q and %q", first, second)
	}

	if rec := f.do(t, http.MethodGet, "/current", nil, bearer(first)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected rotated-out token to fail, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/current", nil, bearer(second)); rec.Code != http.StatusOK {
		t.Fatalf("expected latest token to authenticate, got %d", rec.Code)
	}
}

func TestResendVerificationEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/signup", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, nil)
	before := *f.repo.byEmail("alice@example.com").VerificationToken

	rec := f.do(t, http.MethodPost, "/verify", map[string]string{"email": "alice@example.com"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resend: %d body %s", rec.Code, rec.Body.String())
	}
	after := *f.repo.byEmail("alice@example.com").VerificationToken
	if before != after {
		t.Fatalf("expected token unchanged by resend")
	}

	if rec := f.do(t, http.MethodPost, "/verify", map[string]string{"email": "ghost@example.com"}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown email, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/verify", map[string]string{}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", rec.Code)
	}

	f.do(t, http.MethodGet, "/verify/"+after, nil, nil)
	if rec := f.do(t, http.MethodPost, "/verify", map[string]string{"email": "alice@example.com"}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 once verified, got %d", rec.Code)
	}
}

func TestBearerMiddlewareRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/current", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/current", nil, bearer("garbage")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/current", nil, map[string]string{"Authorization": "Token abc"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer scheme, got %d", rec.Code)
	}
}

func TestPatchAvatarReplacesLocalFile(t *testing.T) {
	f := newFixture(t)
	token := f.signupVerifiedAndSignedIn(t, "alice@example.com")

	firstRec := f.doMultipart(t, http.MethodPatch, "/avatar", nil, "first.png", []byte("first-image"), bearer(token))
	if firstRec.Code != http.StatusOK {
		t.Fatalf("first avatar patch: %d body %s", firstRec.Code, firstRec.Body.String())
	}
	firstURL, _ := decodeBody(t, firstRec)["avatarURL"].(string)
	if !strings.HasPrefix(firstURL, "avatars/") {
		t.Fatalf("expected local avatar path, got %s", firstURL)
	}
	firstFile := filepath.Join(f.publicDir, filepath.FromSlash(firstURL))
	if _, err := os.Stat(firstFile); err != nil {
		t.Fatalf("expected committed file on disk: %v", err)
	}

	secondRec := f.doMultipart(t, http.MethodPatch, "/avatar", nil, "second.png", []byte("second-image"), bearer(token))
	if secondRec.Code != http.StatusOK {
		t.Fatalf("second avatar patch: %d body %s", secondRec.Code, secondRec.Body.String())
	}
	secondURL, _ := decodeBody(t, secondRec)["avatarURL"].(string)
	if secondURL == firstURL {
		t.Fatalf("expected a fresh avatar path")
	}
	if _, err := os.Stat(firstFile); err == nil {
		t.Fatalf("expected replaced file to be removed")
	}
	if f.repo.byEmail("alice@example.com").AvatarURL != secondURL {
		t.Fatalf("expected record to reference the new avatar")
	}
}

func TestPatchAvatarWithoutFileKeepsURL(t *testing.T) {
	f := newFixture(t)
	token := f.signupVerifiedAndSignedIn(t, "alice@example.com")
	before := f.repo.byEmail("alice@example.com").AvatarURL

	rec := f.do(t, http.MethodPatch, "/avatar", nil, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("avatar patch: %d body %s", rec.Code, rec.Body.String())
	}
	if url := decodeBody(t, rec)["avatarURL"]; url != before {
		t.Fatalf("expected unchanged avatar url, got %v", url)
	}
}

func TestSignupWithAvatarUpload(t *testing.T) {
	f := newFixture(t)
	fields := map[string]string{"email": "alice@example.com", "password": "pw123456"}
	rec := f.doMultipart(t, http.MethodPost, "/signup", fields, "face.png", []byte("image-bytes"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d body %s", rec.Code, rec.Body.String())
	}
	avatarURL, _ := decodeBody(t, rec)["avatarURL"].(string)
	if !strings.HasPrefix(avatarURL, "avatars/") || !strings.HasSuffix(avatarURL, "face.png") {
		t.Fatalf("unexpected avatar url: %s", avatarURL)
	}
	if _, err := os.Stat(filepath.Join(f.publicDir, filepath.FromSlash(avatarURL))); err != nil {
		t.Fatalf("expected uploaded avatar on disk: %v", err)
	}
}

func (f *routerFixture) signupVerifiedAndSignedIn(t *testing.T, email string) string {
	t.Helper()
	if rec := f.do(t, http.MethodPost, "/signup", map[string]string{
		"email": email, "password": "pw123456",
	}, nil); rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d body %s", rec.Code, rec.Body.String())
	}
	user := f.repo.byEmail(email)
	if rec := f.do(t, http.MethodGet, "/verify/"+*user.VerificationToken, nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("verify: %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/signin", map[string]string{
		"email": email, "password": "pw123456",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("signin: %d body %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["token"].(string)
	if token == "" {
		t.Fatalf("missing token")
	}
	return token
}

func (f *routerFixture) doMultipart(t *testing.T, method, path string, fields map[string]string, filename string, content []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("avatar", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type noopSender struct{}

func (noopSender) SendVerificationEmail(context.Context, string, string) error { return nil }

// memoryRepo is an in-memory UserRepository with the same conflict and
// filtered-update semantics as the postgres implementation, so router tests
// exercise the full stack below the HTTP layer.
type memoryRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[string]*domain.User)}
}

func (m *memoryRepo) byEmail(email string) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone
		}
	}
	return nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *memoryRepo) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *memoryRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepo) MarkVerified(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if !u.Verified && u.VerificationToken != nil && *u.VerificationToken == token {
			u.Verified = true
			u.VerificationToken = nil
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memoryRepo) SetSessionToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.SessionToken = &token
	return nil
}

func (m *memoryRepo) ClearSessionToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.SessionToken = nil
	return nil
}

func (m *memoryRepo) UpdateSubscriptionBySession(_ context.Context, sessionToken, subscription string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.SessionToken != nil && *u.SessionToken == sessionToken {
			u.Subscription = subscription
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepo) UpdateAvatarBySession(_ context.Context, sessionToken, avatarURL string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.SessionToken != nil && *u.SessionToken == sessionToken {
			u.AvatarURL = avatarURL
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

var _ repository.UserRepository = (*memoryRepo)(nil)
