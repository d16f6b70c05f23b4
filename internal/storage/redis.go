package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Storage = (*RedisStorage)(nil)

const (
	fieldState        = "state"
	fieldAccessToken  = "access_token"
	fieldRefreshToken = "refresh_token"
	fieldIDToken      = "id_token"
)

// The update keeps the key's TTL and refuses to resurrect a popped record.
const updateStateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "access_token", ARGV[1], "refresh_token", ARGV[2], "id_token", ARGV[3])
return 1
`

var updateStateLua = redis.NewScript(updateStateScript)

// Pop returns the full hash and deletes it only when the stored refresh
// token equals ARGV[1]; otherwise it returns nil.
const popStateScript = `
local stored = redis.call("HGET", KEYS[1], "refresh_token")
if not stored or stored ~= ARGV[1] then
  return false
end
local data = redis.call("HGETALL", KEYS[1])
redis.call("DEL", KEYS[1])
return data
`

var popStateLua = redis.NewScript(popStateScript)

// RedisStorage stores each handshake record as a hash under prefix+state.
// Update and Pop run as Lua scripts so the check and the write are atomic.
type RedisStorage struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStorage wraps an existing client; ttl <= 0 disables key expiry
func NewRedisStorage(client redis.UniversalClient, prefix string, ttl time.Duration) (*RedisStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStorage{redis: client, prefix: prefix, ttl: ttl}, nil
}

// DialRedis opens a client and checks connectivity
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStorage) key(stateID string) string {
	return s.prefix + stateID
}

func (s *RedisStorage) Create(ctx context.Context, stateID string) (*AuthenticationState, error) {
	key := s.key(stateID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldState, stateID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, backendError("create state", err)
	}
	return &AuthenticationState{State: stateID}, nil
}

func (s *RedisStorage) Get(ctx context.Context, stateID string) (*AuthenticationState, error) {
	id, err := s.redis.HGet(ctx, s.key(stateID), fieldState).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, backendError("get state", err)
	}
	return &AuthenticationState{State: id}, nil
}

func (s *RedisStorage) Update(ctx context.Context, state *AuthenticationState) error {
	updated, err := updateStateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(state.State)},
		state.AccessToken,
		state.RefreshToken,
		state.IDToken,
	).Int64()
	if err != nil {
		return backendError("update state", err)
	}
	if updated == 0 {
		return ErrStateNotFound
	}
	return nil
}

func (s *RedisStorage) Pop(ctx context.Context, stateID, refreshToken string) (*AuthenticationState, error) {
	if refreshToken == "" {
		return nil, ErrPopConditionFailed
	}

	values, err := popStateLua.Run(ctx, s.redis, []string{s.key(stateID)}, refreshToken).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPopConditionFailed
	}
	if err != nil {
		return nil, backendError("pop state", err)
	}

	popped := &AuthenticationState{State: stateID}
	for i := 0; i+1 < len(values); i += 2 {
		switch values[i] {
		case fieldAccessToken:
			popped.AccessToken = values[i+1]
		case fieldRefreshToken:
			popped.RefreshToken = values[i+1]
		case fieldIDToken:
			popped.IDToken = values[i+1]
		}
	}
	return popped, nil
}

func (s *RedisStorage) Close() error {
	return s.redis.Close()
}
