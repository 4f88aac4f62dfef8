package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"

	"session_auth/internal/models"
)

const (
	usersTable         = "users"
	refreshTokensTable = "refresh_tokens"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
	ErrDuplicateToken = errors.New("duplicate refresh token")
	ErrTokenUsed      = errors.New("refresh token already used")
)

type UserStorage interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// TokenStorage persists issued refresh tokens and their used/expiry state.
type TokenStorage interface {
	// Store inserts a new unused token. A digest collision returns ErrDuplicateToken.
	Store(ctx context.Context, token models.RefreshToken) error

	// FindActive looks a token up by exact digest and owner. Used rows are
	// returned too so that the caller can detect replays.
	FindActive(ctx context.Context, tokenHash string, userID uuid.UUID) (models.RefreshToken, error)

	// MarkUsed flips used to true only if it is still false. It returns
	// ErrTokenUsed when another caller got there first and ErrNotFound when
	// the row does not exist.
	MarkUsed(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) error

	// PurgeExpired deletes the user's tokens with expires_at < now and
	// returns the deleted rows.
	PurgeExpired(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error)

	PurgeAllExpired(ctx context.Context, now time.Time) (int64, error)

	// RevokeAllForUser marks every unused token of the user as used.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

var (
	_ UserStorage  = (*PostgresStorage)(nil)
	_ TokenStorage = (*PostgresStorage)(nil)
	_ TokenStorage = (*RedisTokenStorage)(nil)
)
