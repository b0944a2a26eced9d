package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTable = `CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	rev INTEGER NOT NULL,
	props JSONB NOT NULL
)`

type postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at url and creates the cards table
// if needed.
func OpenPostgres(ctx context.Context, url string) (Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgres{pool: pool}, nil
}

func (s *postgres) Load(ctx context.Context, cardId string) (*Snapshot, error) {
	sn := &Snapshot{}
	err := s.pool.QueryRow(ctx, `SELECT rev, props FROM cards WHERE id = $1`, cardId).Scan(&sn.Rev, &sn.Props)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sn, nil
}

func (s *postgres) Save(ctx context.Context, cardId string, sn *Snapshot) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO cards (id, rev, props) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET rev = EXCLUDED.rev, props = EXCLUDED.props`,
		cardId, sn.Rev, sn.Props)
	return err
}

func (s *postgres) Close() error {
	s.pool.Close()
	return nil
}
