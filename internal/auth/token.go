package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)
)

type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a user id.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.FromString(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	return id, nil
}

// Issuer mints and verifies HS256 access and refresh tokens.
type Issuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	const op = "auth.NewIssuer"

	if len(secret) == 0 {
		return nil, fmt.Errorf("%s: empty signing key", op)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("%s: token ttl must be positive", op)
	}

	return &Issuer{
		key:        secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) IssueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	return i.issue(userID, TypeAccess, i.accessTTL)
}

func (i *Issuer) IssueRefreshToken(userID uuid.UUID) (string, time.Time, error) {
	return i.issue(userID, TypeRefresh, i.refreshTTL)
}

func (i *Issuer) ParseAccessToken(token string) (*Claims, error) {
	return i.parse(token, TypeAccess)
}

func (i *Issuer) ParseRefreshToken(token string) (*Claims, error) {
	return i.parse(token, TypeRefresh)
}

func (i *Issuer) issue(userID uuid.UUID, tokenType string, ttl time.Duration) (string, time.Time, error) {
	const op = "auth.issue"

	tokenID, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	now := i.now()
	expirationTime := now.Add(ttl)
	claims := &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        tokenID.String(),
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, expirationTime, nil
}

func (i *Issuer) parse(tokenStr, tokenType string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != tokenType {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, tokenType)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}

	return claims, nil
}

// HashToken returns the storage key for a refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
