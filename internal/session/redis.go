package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const keyPrefix = "agenthub:session:"

// RedisStore shares sessions across server instances; expiry is the key TTL.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return eris.Errorf("session %s already expired", s.ID)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "encode session")
	}
	return eris.Wrap(r.rdb.Set(ctx, keyPrefix+s.ID, b, ttl).Err(), "store session")
}

func decode(id string, b []byte, err error) (*Session, error) {
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound(id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "load session")
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, eris.Wrap(err, "decode session")
	}
	return &s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	b, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	return decode(id, b, err)
}

func (r *RedisStore) Take(ctx context.Context, id string) (*Session, error) {
	b, err := r.rdb.GetDel(ctx, keyPrefix+id).Bytes()
	return decode(id, b, err)
}

func (r *RedisStore) Expire(ctx context.Context, id string) error {
	return eris.Wrap(r.rdb.Del(ctx, keyPrefix+id).Err(), "expire session")
}
