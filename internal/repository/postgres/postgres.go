package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OlgaBilynska/REST-API-app/internal/domain"
	"github.com/OlgaBilynska/REST-API-app/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.UserRepository = (*Repository)(nil)

const userColumns = `id, email, password_hash, subscription, avatar_url, verification_token, verified, session_token, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Subscription, &u.AvatarURL, &u.VerificationToken, &u.Verified, &u.SessionToken, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user. A violation of the email unique constraint is
// reported as repository.ErrEmailExists so callers can translate races into
// the same conflict outcome as the pre-insert check.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, subscription, avatar_url, verification_token, verified, session_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Subscription, user.AvatarURL,
		user.VerificationToken, user.Verified, user.SessionToken, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return repository.ErrEmailExists
			}
		}
		return err
	}
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// MarkVerified flips the account whose pending verification token matches to
// verified and clears the token in the same statement. A token that matches
// no pending account, including one that was already consumed, yields
// repository.ErrNotFound.
func (r *Repository) MarkVerified(ctx context.Context, verificationToken string) error {
	const query = `UPDATE users SET verified = TRUE, verification_token = NULL
		WHERE verification_token = $1 AND NOT verified`
	tag, err := r.pool.Exec(ctx, query, verificationToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetSessionToken stores a freshly issued session token, replacing any prior one.
func (r *Repository) SetSessionToken(ctx context.Context, userID, token string) error {
	const query = `UPDATE users SET session_token = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClearSessionToken removes the stored session token on sign-out.
func (r *Repository) ClearSessionToken(ctx context.Context, userID string) error {
	const query = `UPDATE users SET session_token = NULL WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateSubscriptionBySession updates the subscription of the account whose
// current session token equals sessionToken and returns the updated record.
func (r *Repository) UpdateSubscriptionBySession(ctx context.Context, sessionToken, subscription string) (*domain.User, error) {
	const query = `UPDATE users SET subscription = $2 WHERE session_token = $1
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, sessionToken, subscription))
}

// UpdateAvatarBySession updates the avatar URL of the account whose current
// session token equals sessionToken and returns the updated record.
func (r *Repository) UpdateAvatarBySession(ctx context.Context, sessionToken, avatarURL string) (*domain.User, error) {
	const query = `UPDATE users SET avatar_url = $2 WHERE session_token = $1
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, sessionToken, avatarURL))
}
