package store

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var cardsBucket = []byte("cards")

type boltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates a bbolt database file.
func OpenBolt(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cardsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Load(ctx context.Context, cardId string) (*Snapshot, error) {
	sn := &Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cardsBucket).Get([]byte(cardId))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, sn)
	})
	if err != nil {
		return nil, err
	}
	return sn, nil
}

func (s *boltStore) Save(ctx context.Context, cardId string, sn *Snapshot) error {
	buf, err := json.Marshal(sn)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cardsBucket).Put([]byte(cardId), buf)
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
