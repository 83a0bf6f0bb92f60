package repository

import (
	"context"

	"github.com/OlgaBilynska/REST-API-app/internal/domain"
)

// UserRepository persists user accounts.
//
// The *BySession mutations are filtered atomic updates: they touch the
// record whose current session token equals the supplied value and report
// ErrNotFound when the filter matches nothing, which is how a concurrent
// sign-out is surfaced to callers.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	MarkVerified(ctx context.Context, verificationToken string) error
	SetSessionToken(ctx context.Context, userID, token string) error
	ClearSessionToken(ctx context.Context, userID string) error
	UpdateSubscriptionBySession(ctx context.Context, sessionToken, subscription string) (*domain.User, error)
	UpdateAvatarBySession(ctx context.Context, sessionToken, avatarURL string) (*domain.User, error)
}
