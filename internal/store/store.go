package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LivePrice is the latest observed trade for one symbol.
type LivePrice struct {
	Symbol     string
	AssetClass string
	Price      float64
	Quantity   int64
	Side       string
	TradeTime  string
	UpdatedAt  time.Time
}

// Store writes live prices. Implementations must be safe for concurrent use.
type Store interface {
	UpsertLivePrice(ctx context.Context, p LivePrice) error
}

// PGStore is the PostgreSQL-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const upsertLivePriceSQL = `
INSERT INTO live_prices (symbol, asset_class, price, quantity, side, trade_time, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (symbol, asset_class) DO UPDATE SET
	price = EXCLUDED.price,
	quantity = EXCLUDED.quantity,
	side = EXCLUDED.side,
	trade_time = EXCLUDED.trade_time,
	updated_at = EXCLUDED.updated_at`

// UpsertLivePrice inserts or replaces the row for p's (symbol, asset_class).
func (s *PGStore) UpsertLivePrice(ctx context.Context, p LivePrice) error {
	_, err := s.pool.Exec(ctx, upsertLivePriceSQL,
		p.Symbol,
		p.AssetClass,
		p.Price,
		p.Quantity,
		p.Side,
		p.TradeTime,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert live price %s: %w", p.Symbol, err)
	}
	return nil
}
