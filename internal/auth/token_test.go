package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()

	iss, err := NewIssuer([]byte("super-secret"), 15*time.Minute, time.Hour)
	require.NoError(t, err)

	return iss
}

func TestNewIssuer_RejectsBadConfig(t *testing.T) {
	_, err := NewIssuer(nil, time.Minute, time.Minute)
	assert.Error(t, err)

	_, err = NewIssuer([]byte("k"), 0, time.Minute)
	assert.Error(t, err)

	_, err = NewIssuer([]byte("k"), time.Minute, -time.Minute)
	assert.Error(t, err)
}

func TestIssueAndParse_Access(t *testing.T) {
	iss := newTestIssuer(t)
	userID := uuid.Must(uuid.NewV4())

	before := time.Now()
	tok, exp, err := iss.IssueAccessToken(userID)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(15*time.Minute), exp, 2*time.Second)

	claims, err := iss.ParseAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, TypeAccess, claims.Type)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestIssueRefresh_UniqueAndSixtyMinutes(t *testing.T) {
	iss := newTestIssuer(t)
	userID := uuid.Must(uuid.NewV4())

	before := time.Now()
	a, exp, err := iss.IssueRefreshToken(userID)
	require.NoError(t, err)
	b, _, err := iss.IssueRefreshToken(userID)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, HashToken(a), HashToken(b))
	assert.WithinDuration(t, before.Add(time.Hour), exp, 2*time.Second)

	claims, err := iss.ParseRefreshToken(a)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
}

func TestParse_WrongType(t *testing.T) {
	iss := newTestIssuer(t)
	userID := uuid.Must(uuid.NewV4())

	refresh, _, err := iss.IssueRefreshToken(userID)
	require.NoError(t, err)
	_, err = iss.ParseAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	access, _, err := iss.IssueAccessToken(userID)
	require.NoError(t, err)
	_, err = iss.ParseRefreshToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_Expired(t *testing.T) {
	iss := newTestIssuer(t)
	past := time.Now().Add(-2 * time.Hour)
	iss.WithClock(func() time.Time { return past })

	tok, _, err := iss.IssueAccessToken(uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	iss.WithClock(time.Now)
	_, err = iss.ParseAccessToken(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_WrongSecret(t *testing.T) {
	iss := newTestIssuer(t)
	tok, _, err := iss.IssueAccessToken(uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	other, err := NewIssuer([]byte("other-secret"), time.Minute, time.Minute)
	require.NoError(t, err)

	_, err = other.ParseAccessToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_Tampered(t *testing.T) {
	iss := newTestIssuer(t)
	tok, _, err := iss.IssueAccessToken(uuid.Must(uuid.NewV4()))
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	parts[2] = strings.Repeat("A", len(parts[2]))

	_, err = iss.ParseAccessToken(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_Malformed(t *testing.T) {
	iss := newTestIssuer(t)

	_, err := iss.ParseAccessToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_BadSubject(t *testing.T) {
	iss := newTestIssuer(t)

	claims := &Claims{
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("super-secret"))
	require.NoError(t, err)

	_, err = iss.ParseAccessToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_RejectsNoneAlg(t *testing.T) {
	iss := newTestIssuer(t)

	claims := &Claims{
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.Must(uuid.NewV4()).String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.ParseAccessToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashToken_Deterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: 4}

	hash, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, "Passw0rd", hash)
	assert.True(t, h.Compare(hash, "Passw0rd"))
	assert.False(t, h.Compare(hash, "wrong"))
}

func TestBcryptHasher_LongPasswords(t *testing.T) {
	h := BcryptHasher{Cost: 4}

	long := strings.Repeat("a", 72) + "1"
	hash, err := h.Hash(long)
	require.NoError(t, err)
	assert.True(t, h.Compare(hash, long))

	// Past byte 72 the suffix still matters.
	assert.False(t, h.Compare(hash, strings.Repeat("a", 72)+"2"))
	assert.False(t, h.Compare(hash, strings.Repeat("a", 72)))

	huge := strings.Repeat("pässwörd1", 64)
	hash, err = h.Hash(huge)
	require.NoError(t, err)
	assert.True(t, h.Compare(hash, huge))
}
