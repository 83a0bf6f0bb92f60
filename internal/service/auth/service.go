package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OlgaBilynska/REST-API-app/internal/avatars"
	"github.com/OlgaBilynska/REST-API-app/internal/domain"
	"github.com/OlgaBilynska/REST-API-app/internal/mail"
	"github.com/OlgaBilynska/REST-API-app/internal/repository"
	"github.com/OlgaBilynska/REST-API-app/pkg/config"
	"github.com/OlgaBilynska/REST-API-app/pkg/crypto"
	"github.com/OlgaBilynska/REST-API-app/pkg/jwt"
)

var (
	ErrEmailTaken      = errors.New("auth: email already in use")
	ErrUserNotFound    = errors.New("auth: user not found")
	ErrAlreadyVerified = errors.New("auth: verification already passed")
	// ErrInvalidCredentials covers unknown email, wrong password and an
	// unverified account alike so a caller cannot tell which check failed.
	ErrInvalidCredentials  = errors.New("auth: email or password is wrong")
	ErrInvalidSubscription = errors.New("auth: invalid subscription type")
	ErrInvalidToken        = errors.New("auth: invalid session token")
)

// AvatarStore commits uploaded avatar files and releases replaced ones.
type AvatarStore interface {
	Commit(tempPath, filename string) (string, error)
	Remove(publicPath string) error
}

// AvatarUpload references an uploaded file sitting in the temp area.
type AvatarUpload struct {
	TempPath string
	Filename string
}

// Service orchestrates the account lifecycle: registration, email
// verification, credential sign-in/out and the self-service profile
// mutations.
type Service struct {
	users   repository.UserRepository
	avatars AvatarStore
	sender  mail.Sender
	logger  *slog.Logger
	cfg     config.Config
}

// New constructs a Service.
func New(users repository.UserRepository, store AvatarStore, sender mail.Sender, logger *slog.Logger, cfg config.Config) Service {
	return Service{users: users, avatars: store, sender: sender, logger: logger, cfg: cfg}
}

// Signup registers a new account in the pending-verification state and
// dispatches the verification email. Email delivery is best-effort and never
// rolls back the created record.
func (s Service) Signup(ctx context.Context, email, password string, upload *AvatarUpload) (*domain.User, error) {
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	token, err := newVerificationToken()
	if err != nil {
		return nil, err
	}

	avatarURL := avatars.GravatarURL(email)
	if upload != nil {
		avatarURL, err = s.avatars.Commit(upload.TempPath, upload.Filename)
		if err != nil {
			return nil, err
		}
	}

	user := &domain.User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		Subscription:      domain.SubscriptionStarter,
		AvatarURL:         avatarURL,
		VerificationToken: &token,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// The unique constraint backstops the pre-check under races.
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	mail.Dispatch(s.sender, s.logger, email, mail.VerificationLink(s.cfg.BaseURL, token))
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Verify consumes a verification token. The matching account is flipped to
// verified and the token cleared in one atomic store update, so a second
// attempt with the same token reports ErrUserNotFound.
func (s Service) Verify(ctx context.Context, verificationToken string) error {
	if err := s.users.MarkVerified(ctx, verificationToken); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// ResendVerification re-sends the verification email with the token issued
// at registration. The token is never regenerated.
func (s Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.Verified || user.VerificationToken == nil {
		return ErrAlreadyVerified
	}
	mail.Dispatch(s.sender, s.logger, email, mail.VerificationLink(s.cfg.BaseURL, *user.VerificationToken))
	return nil
}

// Login authenticates credentials and issues a fresh session token,
// replacing whatever token the account held before.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if !user.Verified {
		return nil, "", ErrInvalidCredentials
	}

	token, err := jwt.GenerateToken(user.ID, s.cfg.JWTSecret, s.cfg.SessionTTL)
	if err != nil {
		return nil, "", err
	}
	if err := s.users.SetSessionToken(ctx, user.ID, token); err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and resolves the account it belongs
// to. Beyond the signature and expiry check, the token must equal the
// stored session token: rotation and sign-out both leave older tokens
// failing this comparison.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	claims, err := jwt.Parse(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if user.SessionToken == nil || *user.SessionToken != token {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// Logout clears the stored session token. An account that already holds no
// token signs out successfully.
func (s Service) Logout(ctx context.Context, user *domain.User) error {
	if err := s.users.ClearSessionToken(ctx, user.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.logger.Info("user logged out", "user_id", user.ID)
	return nil
}

// UpdateSubscription sets the subscription tier of the account currently
// holding sessionToken. A concurrent sign-out makes the filtered update miss
// and is reported as ErrUserNotFound.
func (s Service) UpdateSubscription(ctx context.Context, sessionToken, subscription string) (*domain.User, error) {
	if !domain.ValidSubscription(subscription) {
		return nil, ErrInvalidSubscription
	}
	user, err := s.users.UpdateSubscriptionBySession(ctx, sessionToken, subscription)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateAvatar replaces the account avatar. The new file is committed and
// the record updated before the superseded file is released, so a crash in
// between leaves an orphaned file rather than a dangling reference. Removal
// of the old file is best-effort and only attempted for locally stored
// paths, never for gravatar-style URLs.
func (s Service) UpdateAvatar(ctx context.Context, user *domain.User, sessionToken string, upload *AvatarUpload) (*domain.User, error) {
	avatarURL := user.AvatarURL
	if upload != nil {
		committed, err := s.avatars.Commit(upload.TempPath, upload.Filename)
		if err != nil {
			return nil, err
		}
		avatarURL = committed
	}

	updated, err := s.users.UpdateAvatarBySession(ctx, sessionToken, avatarURL)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if upload != nil && user.AvatarURL != avatarURL && avatars.IsLocal(user.AvatarURL) {
		if err := s.avatars.Remove(user.AvatarURL); err != nil {
			s.logger.Warn("remove replaced avatar", "path", user.AvatarURL, "error", err)
		}
	}
	return updated, nil
}

// newVerificationToken produces a short URL-safe one-time token for email
// verification links.
func newVerificationToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
