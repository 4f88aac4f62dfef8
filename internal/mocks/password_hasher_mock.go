package mocks

import (
	"github.com/stretchr/testify/mock"
)

type PasswordHasher struct{ mock.Mock }

func (m *PasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *PasswordHasher) Compare(hash, password string) bool {
	return m.Called(hash, password).Bool(0)
}
