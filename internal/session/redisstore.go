package session

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/sekisho/internal/errors"
)

const redisKeyPrefix = "session:"

// RedisStore keeps each session under "session:<key>" as its JSON document.
// It also serves the RESP-speaking mini-memory server, which answers the
// same GET/SET subset.
type RedisStore struct {
	client *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

func (r *RedisStore) Load(ctx context.Context, key string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrStoreUnavailable, "session: redis get: "+err.Error())
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, errors.Wrap(errors.ErrStoreUnavailable, "session: corrupt session document: "+err.Error())
	}
	return &s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "session: marshal session: "+err.Error())
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, "session: redis set: "+err.Error())
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
