package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session_auth/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisTokenStorage) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisTokenStorage(client)
}

func newToken(userID uuid.UUID, hash string, expiresAt time.Time) models.RefreshToken {
	return models.RefreshToken{
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-time.Hour),
	}
}

func TestRedisStoreAndFind(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	require.NoError(t, st.Store(ctx, newToken(userID, "h1", exp)))

	token, err := st.FindActive(ctx, "h1", userID)
	require.NoError(t, err)
	assert.Equal(t, "h1", token.TokenHash)
	assert.Equal(t, userID, token.UserID)
	assert.False(t, token.Used)
	assert.Nil(t, token.UsedAt)
	assert.True(t, exp.Equal(token.ExpiresAt))

	_, err = st.FindActive(ctx, "h1", uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.FindActive(ctx, "missing", userID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreDuplicate(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	require.NoError(t, st.Store(ctx, newToken(userID, "h1", time.Now().Add(time.Hour))))
	err := st.Store(ctx, newToken(userID, "h1", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrDuplicateToken)
}

func TestRedisMarkUsed(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.Store(ctx, newToken(userID, "h1", now.Add(time.Hour))))

	require.NoError(t, st.MarkUsed(ctx, "h1", userID, now))
	assert.ErrorIs(t, st.MarkUsed(ctx, "h1", userID, now), ErrTokenUsed)
	assert.ErrorIs(t, st.MarkUsed(ctx, "h1", uuid.Must(uuid.NewV4()), now), ErrNotFound)
	assert.ErrorIs(t, st.MarkUsed(ctx, "nope", userID, now), ErrNotFound)

	token, err := st.FindActive(ctx, "h1", userID)
	require.NoError(t, err)
	assert.True(t, token.Used)
	require.NotNil(t, token.UsedAt)
	assert.True(t, now.Equal(*token.UsedAt))
}

func TestRedisMarkUsedSingleWinner(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	require.NoError(t, st.Store(ctx, newToken(userID, "h1", time.Now().Add(time.Hour))))

	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.MarkUsed(ctx, "h1", userID, time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

func TestRedisPurgeExpired(t *testing.T) {
	mr, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.Store(ctx, newToken(userID, "old", now.Add(-time.Minute))))
	require.NoError(t, st.Store(ctx, newToken(userID, "fresh", now.Add(time.Hour))))
	require.NoError(t, st.Store(ctx, newToken(other, "other-old", now.Add(-time.Minute))))
	require.NoError(t, st.MarkUsed(ctx, "old", userID, now.Add(-2*time.Minute)))

	purged, err := st.PurgeExpired(ctx, userID, now)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "old", purged[0].TokenHash)
	assert.True(t, purged[0].Used)
	assert.NotNil(t, purged[0].UsedAt)

	assert.False(t, mr.Exists(tokenKey(userID, "old")))
	assert.True(t, mr.Exists(tokenKey(userID, "fresh")))
	assert.True(t, mr.Exists(tokenKey(other, "other-old")))

	purged, err = st.PurgeExpired(ctx, userID, now)
	require.NoError(t, err)
	assert.Empty(t, purged)
}

func TestRedisPurgeBoundaryIsStrict(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.Store(ctx, newToken(userID, "edge", now)))

	purged, err := st.PurgeExpired(ctx, userID, now)
	require.NoError(t, err)
	assert.Empty(t, purged)
}

func TestRedisPurgeAllExpired(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		userID := uuid.Must(uuid.NewV4())
		require.NoError(t, st.Store(ctx, newToken(userID, "old-"+userID.String(), now.Add(-time.Minute))))
		require.NoError(t, st.Store(ctx, newToken(userID, "new-"+userID.String(), now.Add(time.Minute))))
	}

	n, err := st.PurgeAllExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = st.PurgeAllExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRedisRevokeAllForUser(t *testing.T) {
	_, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	now := time.Now()

	require.NoError(t, st.Store(ctx, newToken(userID, "a", now.Add(time.Hour))))
	require.NoError(t, st.Store(ctx, newToken(userID, "b", now.Add(time.Hour))))
	require.NoError(t, st.Store(ctx, newToken(userID, "c", now.Add(time.Hour))))
	require.NoError(t, st.MarkUsed(ctx, "c", userID, now))

	n, err := st.RevokeAllForUser(ctx, userID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.ErrorIs(t, st.MarkUsed(ctx, "a", userID, now), ErrTokenUsed)
}

func TestRedisUnavailable(t *testing.T) {
	mr, st := newTestRedis(t)
	mr.Close()

	err := st.Store(context.Background(), newToken(uuid.Must(uuid.NewV4()), "h", time.Now()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateToken)
}

func TestRedisKeysShareUserHashTag(t *testing.T) {
	mr, st := newTestRedis(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	require.NoError(t, st.Store(ctx, newToken(userID, "h1", time.Now().Add(time.Hour))))

	tag := "{" + userID.String() + "}"
	assert.True(t, mr.Exists("refresh_token:"+tag+":h1"))
	assert.True(t, mr.Exists("user_refresh_tokens:"+tag))

	for _, key := range mr.Keys() {
		lo, hi := strings.Index(key, "{"), strings.Index(key, "}")
		require.True(t, lo >= 0 && hi > lo, key)
		assert.Equal(t, tag, key[lo:hi+1], key)
	}

	got, err := userFromTokensKey(userTokensKey(userID))
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestRedisClusterClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })

	st := NewRedisTokenStorage(client)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.Store(ctx, newToken(userID, "old", now.Add(-time.Minute))))
	require.NoError(t, st.Store(ctx, newToken(userID, "live", now.Add(time.Hour))))
	require.NoError(t, st.Store(ctx, newToken(userID, "spare", now.Add(time.Hour))))

	require.NoError(t, st.MarkUsed(ctx, "live", userID, now))
	assert.ErrorIs(t, st.MarkUsed(ctx, "live", userID, now), ErrTokenUsed)

	n, err := st.RevokeAllForUser(ctx, userID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	total, err := st.PurgeAllExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.False(t, mr.Exists(tokenKey(userID, "old")))
}
