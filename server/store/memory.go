package store

import (
	"context"
	"sync"
)

type memory struct {
	mu    sync.Mutex
	cards map[string]*Snapshot
}

func NewMemory() Store {
	return &memory{cards: make(map[string]*Snapshot)}
}

func (m *memory) Load(ctx context.Context, cardId string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sn, ok := m.cards[cardId]
	if !ok {
		return nil, ErrNotFound
	}
	return sn.clone(), nil
}

func (m *memory) Save(ctx context.Context, cardId string, sn *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[cardId] = sn.clone()
	return nil
}

func (m *memory) Close() error {
	return nil
}
