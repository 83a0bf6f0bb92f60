package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/OlgaBilynska/REST-API-app/internal/service/auth"
)

const (
	minPasswordLength  = 6
	healthCheckTimeout = 2 * time.Second
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Router wires HTTP endpoints to the auth service.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      auth.Service
	tmpDir    string
	publicDir string
	dbHealth  func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, tmpDir, publicDir string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		auth:      authSvc,
		tmpDir:    tmpDir,
		publicDir: publicDir,
		dbHealth:  dbHealth,
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/signup", r.handleSignup)
	r.mux.HandleFunc("/verify/", r.handleVerifyToken)
	r.mux.HandleFunc("/verify", r.handleResendVerification)
	r.mux.HandleFunc("/signin", r.handleSignin)
	r.mux.HandleFunc("/current", r.requireAuth(r.handleCurrent))
	r.mux.HandleFunc("/logout", r.requireAuth(r.handleLogout))
	r.mux.HandleFunc("/subscription", r.requireAuth(r.handleSubscription))
	r.mux.HandleFunc("/avatar", r.requireAuth(r.handleAvatar))
	avatarDir := filepath.Join(r.publicDir, "avatars")
	r.mux.Handle("/avatars/", http.StripPrefix("/avatars/", http.FileServer(http.Dir(avatarDir))))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	email, password, upload, err := r.credentialsPayload(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg, ok := validateCredentials(email, password); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	user, err := r.auth.Signup(req.Context(), email, password, upload)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"email":        user.Email,
		"subscription": user.Subscription,
		"avatarURL":    user.AvatarURL,
	})
}

func (r *Router) handleVerifyToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	token := strings.TrimPrefix(req.URL.Path, "/verify/")
	if token == "" || strings.Contains(token, "/") {
		r.notFound(w)
		return
	}
	if err := r.auth.Verify(req.Context(), token); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Verification is successful.")
}

func (r *Router) handleResendVerification(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Email == "" {
		writeError(w, http.StatusBadRequest, "missing required field email")
		return
	}
	if err := r.auth.ResendVerification(req.Context(), payload.Email); err != nil {
		// An unknown email is a caller mistake here, not a lookup miss.
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "missing required field email")
			return
		}
		r.writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Verification email has been sent.")
}

func (r *Router) handleSignin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg, ok := validateCredentials(payload.Email, payload.Password); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        token,
		"email":        user.Email,
		"subscription": user.Subscription,
	})
}

func (r *Router) handleCurrent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":        sess.User.Email,
		"subscription": sess.User.Subscription,
	})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	if err := r.auth.Logout(req.Context(), sess.User); err != nil {
		r.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleSubscription(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	var payload struct {
		Subscription string `json:"subscription"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := r.auth.UpdateSubscription(req.Context(), sess.Token, payload.Subscription)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":        user.Email,
		"subscription": user.Subscription,
		"avatarURL":    user.AvatarURL,
	})
}

func (r *Router) handleAvatar(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	sess, ok := sessionFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	upload, err := r.avatarUpload(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := r.auth.UpdateAvatar(req.Context(), sess.User, sess.Token, upload)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"avatarURL": user.AvatarURL,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Warn("database health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// credentialsPayload reads email/password from either a JSON body or a
// multipart form, staging the optional avatar file in the latter case.
func (r *Router) credentialsPayload(req *http.Request) (string, string, *auth.AvatarUpload, error) {
	if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
		upload, err := r.avatarUpload(req)
		if err != nil {
			return "", "", nil, err
		}
		return req.FormValue("email"), req.FormValue("password"), upload, nil
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		return "", "", nil, errors.New("invalid JSON body")
	}
	return payload.Email, payload.Password, nil, nil
}

func validateCredentials(email, password string) (string, bool) {
	if email == "" || !emailPattern.MatchString(email) {
		return "invalid email format", false
	}
	if len(password) < minPasswordLength {
		return "password must be at least 6 characters", false
	}
	return "", true
}

func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email is already in use")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, "verification has already been passed")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "email or password is wrong")
	case errors.Is(err, auth.ErrInvalidSubscription):
		writeError(w, http.StatusBadRequest, "invalid subscription type")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
