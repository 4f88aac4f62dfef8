package mocks

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"

	"session_auth/internal/models"
)

type UserStorage struct{ mock.Mock }

func (m *UserStorage) CreateUser(ctx context.Context, user models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *UserStorage) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	return userArg(args), args.Error(1)
}

func (m *UserStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	return userArg(args), args.Error(1)
}

func (m *UserStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	args := m.Called(ctx, userID)
	return userArg(args), args.Error(1)
}

func (m *UserStorage) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return m.Called(ctx, userID, passwordHash).Error(0)
}

func userArg(args mock.Arguments) models.User {
	var out models.User
	if v := args.Get(0); v != nil {
		out = v.(models.User)
	}
	return out
}
