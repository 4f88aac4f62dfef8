package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"

	"session_auth/internal/models"
)

// Keys carry the user id as a hash tag, so every key a script touches for
// one user maps to the same cluster slot:
//
//	refresh_token:{<user>}:<hash>   hash of the token row
//	user_refresh_tokens:{<user>}    set of the user's token hashes
const (
	tokenKeyPrefix      = "refresh_token:"
	userTokensKeyPrefix = "user_refresh_tokens:"
)

const (
	markStatusMissing = 0
	markStatusUsed    = 1
	markStatusOK      = 2
)

const storeTokenScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'used', '0', 'expires_at', ARGV[2], 'created_at', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`

var storeTokenLua = redis.NewScript(storeTokenScript)

const markUsedScript = `
local owner = redis.call('HGET', KEYS[1], 'user_id')
if not owner or owner ~= ARGV[1] then
  return 0
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  return 1
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[2])
return 2
`

var markUsedLua = redis.NewScript(markUsedScript)

// purgeExpiredScript returns the deleted rows flattened as
// hash, expires_at, used, used_at, created_at. ARGV[1] is the user's token
// key prefix, which shares the hash tag of KEYS[1].
const purgeExpiredScript = `
local out = {}
local now = tonumber(ARGV[2])
for _, h in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local k = ARGV[1] .. h
  local row = redis.call('HMGET', k, 'expires_at', 'used', 'used_at', 'created_at')
  if not row[1] then
    redis.call('SREM', KEYS[1], h)
  elseif tonumber(row[1]) < now then
    redis.call('DEL', k)
    redis.call('SREM', KEYS[1], h)
    table.insert(out, h)
    table.insert(out, row[1])
    table.insert(out, row[2] or '0')
    table.insert(out, row[3] or '')
    table.insert(out, row[4] or '')
  end
end
return out
`

var purgeExpiredLua = redis.NewScript(purgeExpiredScript)

const revokeAllScript = `
local n = 0
for _, h in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local k = ARGV[1] .. h
  if redis.call('HGET', k, 'used') == '0' then
    redis.call('HSET', k, 'used', '1', 'used_at', ARGV[2])
    n = n + 1
  end
end
return n
`

var revokeAllLua = redis.NewScript(revokeAllScript)

const purgeRowFields = 5

// RedisTokenStorage keeps refresh tokens in Redis. Every state change runs
// as a Lua script over the keys of a single user, which works the same on a
// standalone server and on a cluster.
type RedisTokenStorage struct {
	redis redis.UniversalClient
}

func NewRedisTokenStorage(client redis.UniversalClient) *RedisTokenStorage {
	return &RedisTokenStorage{
		redis: client,
	}
}

func userTag(userID uuid.UUID) string {
	return "{" + userID.String() + "}"
}

func userTokenPrefix(userID uuid.UUID) string {
	return tokenKeyPrefix + userTag(userID) + ":"
}

func tokenKey(userID uuid.UUID, tokenHash string) string {
	return userTokenPrefix(userID) + tokenHash
}

func userTokensKey(userID uuid.UUID) string {
	return userTokensKeyPrefix + userTag(userID)
}

func userFromTokensKey(key string) (uuid.UUID, error) {
	tag := strings.TrimPrefix(key, userTokensKeyPrefix)
	tag = strings.TrimSuffix(strings.TrimPrefix(tag, "{"), "}")
	return uuid.FromString(tag)
}

func (r *RedisTokenStorage) Store(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.redis.Store"

	res, err := storeTokenLua.Run(
		ctx,
		r.redis,
		[]string{tokenKey(token.UserID, token.TokenHash), userTokensKey(token.UserID)},
		token.UserID.String(),
		token.ExpiresAt.UnixMilli(),
		token.CreatedAt.UnixMilli(),
		token.TokenHash,
	).Int64()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res == 0 {
		return fmt.Errorf("%s: %w", op, ErrDuplicateToken)
	}

	return nil
}

func (r *RedisTokenStorage) FindActive(ctx context.Context, tokenHash string, userID uuid.UUID) (models.RefreshToken, error) {
	const op = "storage.redis.FindActive"

	fields, err := r.redis.HGetAll(ctx, tokenKey(userID, tokenHash)).Result()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(fields) == 0 || fields["user_id"] != userID.String() {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	token, err := decodeToken(tokenHash, userID, fields["expires_at"], fields["used"], fields["used_at"], fields["created_at"])
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (r *RedisTokenStorage) MarkUsed(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) error {
	const op = "storage.redis.MarkUsed"

	status, err := markUsedLua.Run(
		ctx,
		r.redis,
		[]string{tokenKey(userID, tokenHash)},
		userID.String(),
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch status {
	case markStatusOK:
		return nil
	case markStatusUsed:
		return fmt.Errorf("%s: %w", op, ErrTokenUsed)
	case markStatusMissing:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: unexpected script status %d", op, status)
	}
}

func (r *RedisTokenStorage) PurgeExpired(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	const op = "storage.redis.PurgeExpired"

	purged, err := r.purgeSet(ctx, userTokensKey(userID), userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return purged, nil
}

func (r *RedisTokenStorage) PurgeAllExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.redis.PurgeAllExpired"

	var total atomic.Int64
	sweep := func(ctx context.Context, node redis.UniversalClient) error {
		n, err := r.purgeNode(ctx, node, now)
		total.Add(n)
		return err
	}

	var err error
	if cluster, ok := r.redis.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return sweep(ctx, node)
		})
	} else {
		err = sweep(ctx, r.redis)
	}
	if err != nil {
		return total.Load(), fmt.Errorf("%s: %w", op, err)
	}

	return total.Load(), nil
}

// purgeNode scans the user sets held by node. Scripts still go through the
// store's client so they are routed by key.
func (r *RedisTokenStorage) purgeNode(ctx context.Context, node redis.UniversalClient, now time.Time) (int64, error) {
	var (
		total  int64
		cursor uint64
	)
	for {
		keys, next, err := node.Scan(ctx, cursor, userTokensKeyPrefix+"*", 1000).Result()
		if err != nil {
			return total, err
		}

		for _, key := range keys {
			userID, err := userFromTokensKey(key)
			if err != nil {
				continue
			}

			purged, err := r.purgeSet(ctx, key, userID, now)
			if err != nil {
				return total, err
			}
			total += int64(len(purged))
		}

		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

func (r *RedisTokenStorage) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const op = "storage.redis.RevokeAllForUser"

	n, err := revokeAllLua.Run(
		ctx,
		r.redis,
		[]string{userTokensKey(userID)},
		userTokenPrefix(userID),
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (r *RedisTokenStorage) purgeSet(ctx context.Context, setKey string, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	res, err := purgeExpiredLua.Run(
		ctx,
		r.redis,
		[]string{setKey},
		userTokenPrefix(userID),
		now.UnixMilli(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res)%purgeRowFields != 0 {
		return nil, fmt.Errorf("invalid purge script response of %d fields", len(res))
	}

	purged := make([]models.RefreshToken, 0, len(res)/purgeRowFields)
	for i := 0; i < len(res); i += purgeRowFields {
		token, err := decodeToken(res[i], userID, res[i+1], res[i+2], res[i+3], res[i+4])
		if err != nil {
			return purged, err
		}
		purged = append(purged, token)
	}

	return purged, nil
}

func decodeToken(tokenHash string, userID uuid.UUID, expiresAt, used, usedAt, createdAt string) (models.RefreshToken, error) {
	token := models.RefreshToken{
		TokenHash: tokenHash,
		UserID:    userID,
		Used:      used == "1",
	}

	exp, err := strconv.ParseInt(expiresAt, 10, 64)
	if err != nil {
		return token, fmt.Errorf("parse expires_at: %w", err)
	}
	token.ExpiresAt = time.UnixMilli(exp)

	if createdAt != "" {
		created, err := strconv.ParseInt(createdAt, 10, 64)
		if err != nil {
			return token, fmt.Errorf("parse created_at: %w", err)
		}
		token.CreatedAt = time.UnixMilli(created)
	}

	if usedAt != "" {
		ms, err := strconv.ParseInt(usedAt, 10, 64)
		if err != nil {
			return token, fmt.Errorf("parse used_at: %w", err)
		}
		t := time.UnixMilli(ms)
		token.UsedAt = &t
	}

	return token, nil
}
