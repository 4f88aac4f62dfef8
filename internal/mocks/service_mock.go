package mocks

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"session_auth/internal/models"
)

type Service struct{ mock.Mock }

func (m *Service) Register(ctx context.Context, username, email, password string) error {
	return m.Called(ctx, username, email, password).Error(0)
}

func (m *Service) Login(ctx context.Context, email, password string) (models.TokenPair, error) {
	args := m.Called(ctx, email, password)
	return pairArg(args), args.Error(1)
}

func (m *Service) Rotate(ctx context.Context, refreshToken string, userID uuid.UUID) (models.TokenPair, error) {
	args := m.Called(ctx, refreshToken, userID)
	return pairArg(args), args.Error(1)
}

func (m *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	return m.Called(ctx, userID, newPassword).Error(0)
}

func (m *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	return m.Called(ctx, userID, currentPassword, newPassword).Error(0)
}

func (m *Service) Logout(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func pairArg(args mock.Arguments) models.TokenPair {
	var out models.TokenPair
	if v := args.Get(0); v != nil {
		out = v.(models.TokenPair)
	}
	return out
}
