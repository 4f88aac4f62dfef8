package mocks

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"session_auth/internal/models"
)

type TokenStorage struct{ mock.Mock }

func (m *TokenStorage) Store(ctx context.Context, token models.RefreshToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *TokenStorage) FindActive(ctx context.Context, tokenHash string, userID uuid.UUID) (models.RefreshToken, error) {
	args := m.Called(ctx, tokenHash, userID)
	var out models.RefreshToken
	if v := args.Get(0); v != nil {
		out = v.(models.RefreshToken)
	}
	return out, args.Error(1)
}

func (m *TokenStorage) MarkUsed(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) error {
	return m.Called(ctx, tokenHash, userID, now).Error(0)
}

func (m *TokenStorage) PurgeExpired(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	args := m.Called(ctx, userID, now)
	var out []models.RefreshToken
	if v := args.Get(0); v != nil {
		out = v.([]models.RefreshToken)
	}
	return out, args.Error(1)
}

func (m *TokenStorage) PurgeAllExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *TokenStorage) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(int64), args.Error(1)
}
