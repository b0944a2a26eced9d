// Package store persists card snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("card not found")

// Snapshot is the state of a card as of revision Rev.
type Snapshot struct {
	Rev   int
	Props map[string]string
}

func (sn *Snapshot) clone() *Snapshot {
	props := make(map[string]string, len(sn.Props))
	for k, v := range sn.Props {
		props[k] = v
	}
	return &Snapshot{Rev: sn.Rev, Props: props}
}

// Store loads and saves the latest snapshot of each card. Implementations are
// safe for concurrent use.
type Store interface {
	// Load returns ErrNotFound if the card was never saved.
	Load(ctx context.Context, cardId string) (*Snapshot, error)
	Save(ctx context.Context, cardId string, sn *Snapshot) error
	Close() error
}

// Open returns the store named by url:
//
//	mem:                       in-process map (also the empty string)
//	bolt:/path/to/cards.db     bbolt file
//	postgres://user@host/db    PostgreSQL table "cards"
//	redis://host:6379/0        Redis keys "card:<id>"
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "" || url == "mem:":
		return NewMemory(), nil
	case strings.HasPrefix(url, "bolt:"):
		return OpenBolt(strings.TrimPrefix(url, "bolt:"))
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(ctx, url)
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return OpenRedis(ctx, url)
	}
	return nil, fmt.Errorf("unsupported store %q", url)
}
