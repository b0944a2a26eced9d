package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	rdb *redis.Client
}

// OpenRedis connects to the server at url, e.g. "redis://localhost:6379/0".
func OpenRedis(ctx context.Context, url string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &redisStore{rdb: rdb}, nil
}

func key(cardId string) string {
	return "card:" + cardId
}

func (s *redisStore) Load(ctx context.Context, cardId string) (*Snapshot, error) {
	buf, err := s.rdb.Get(ctx, key(cardId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sn := &Snapshot{}
	if err := json.Unmarshal(buf, sn); err != nil {
		return nil, err
	}
	return sn, nil
}

func (s *redisStore) Save(ctx context.Context, cardId string, sn *Snapshot) error {
	buf, err := json.Marshal(sn)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(cardId), buf, 0).Err()
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
