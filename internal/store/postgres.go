package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// RunTx uses SERIALIZABLE isolation: of two overlapping transactions that
// read-then-write the same rows, PostgreSQL aborts one with a
// serialization failure, which surfaces as ErrConflict.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the trading engine tables.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                     TEXT PRIMARY KEY,
	question               TEXT NOT NULL,
	category               TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	resolution_criteria    TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL,
	yes_price              NUMERIC NOT NULL,
	volume_usdc            NUMERIC NOT NULL DEFAULT 0,
	open_interest          NUMERIC NOT NULL DEFAULT 0,
	resolved_outcome       TEXT,
	resolution_source_url  TEXT NOT NULL DEFAULT '',
	resolution_notes       TEXT NOT NULL DEFAULT '',
	trading_closes_at      TIMESTAMPTZ NOT NULL,
	expected_resolution_at TIMESTAMPTZ NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	market_id       TEXT NOT NULL,
	side            TEXT NOT NULL,
	quantity        NUMERIC NOT NULL,
	avg_entry_price NUMERIC NOT NULL,
	realized_pnl    NUMERIC NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_user_idx ON positions (user_id);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	market_id   TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	quantity    NUMERIC NOT NULL,
	usdc_amount NUMERIC NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_market_idx ON trades (market_id, created_at);
CREATE INDEX IF NOT EXISTS trades_user_idx ON trades (user_id, created_at);

CREATE TABLE IF NOT EXISTS price_ticks (
	id         TEXT PRIMARY KEY,
	market_id  TEXT NOT NULL,
	yes_price  NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS price_ticks_market_idx ON price_ticks (market_id, created_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// scan helpers serve reads inside and outside transactions.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const marketColumns = `id, question, category, description, resolution_criteria, status,
	yes_price::TEXT, volume_usdc::TEXT, open_interest::TEXT,
	resolved_outcome, resolution_source_url, resolution_notes,
	trading_closes_at, expected_resolution_at, created_at, updated_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var yesPrice, volume, openInterest string
	var outcome *string

	err := row.Scan(&m.ID, &m.Question, &m.Category, &m.Description, &m.ResolutionCriteria, &m.Status,
		&yesPrice, &volume, &openInterest,
		&outcome, &m.ResolutionSourceURL, &m.ResolutionNotes,
		&m.TradingClosesAt, &m.ExpectedResolutionAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if m.YesPrice, err = decimal.NewFromString(yesPrice); err != nil {
		return nil, fmt.Errorf("parse yes_price: %w", err)
	}
	if m.VolumeUSDC, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume_usdc: %w", err)
	}
	if m.OpenInterest, err = decimal.NewFromString(openInterest); err != nil {
		return nil, fmt.Errorf("parse open_interest: %w", err)
	}
	if outcome != nil {
		side := model.Side(*outcome)
		m.ResolvedOutcome = &side
	}
	return &m, nil
}

func getMarket(ctx context.Context, q rowQuerier, id string) (*model.Market, error) {
	m, err := scanMarket(q.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

const positionColumns = `id, user_id, market_id, side,
	quantity::TEXT, avg_entry_price::TEXT, realized_pnl::TEXT, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avg, pnl string

	err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &p.Side, &qty, &avg, &pnl, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if p.AvgEntryPrice, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("parse avg_entry_price: %w", err)
	}
	if p.RealizedPnl, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("parse realized_pnl: %w", err)
	}
	return &p, nil
}

func getPosition(ctx context.Context, q rowQuerier, id string) (*model.Position, error) {
	p, err := scanPosition(q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

// --- Transactional path ---

// pgTx adapts a pgx transaction to the Tx interface.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Market(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, t.tx, id)
}

func (t *pgTx) Position(ctx context.Context, id string) (*model.Position, error) {
	return getPosition(ctx, t.tx, id)
}

func (t *pgTx) PutMarket(ctx context.Context, m *model.Market) error {
	var outcome *string
	if m.ResolvedOutcome != nil {
		s := string(*m.ResolvedOutcome)
		outcome = &s
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET status = $2, yes_price = $3::NUMERIC,
		     volume_usdc = $4::NUMERIC, open_interest = $5::NUMERIC,
		     resolved_outcome = $6, resolution_source_url = $7,
		     resolution_notes = $8, updated_at = $9
		 WHERE id = $1`,
		m.ID, m.Status, m.YesPrice.String(),
		m.VolumeUSDC.String(), m.OpenInterest.String(),
		outcome, m.ResolutionSourceURL, m.ResolutionNotes, m.UpdatedAt,
	)
	return err
}

func (t *pgTx) PutPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, side, quantity, avg_entry_price, realized_pnl, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     avg_entry_price = EXCLUDED.avg_entry_price,
		     realized_pnl = EXCLUDED.realized_pnl,
		     updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.MarketID, p.Side,
		p.Quantity.String(), p.AvgEntryPrice.String(), p.RealizedPnl.String(),
		p.UpdatedAt,
	)
	return err
}

func (t *pgTx) AppendTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, market_id, user_id, side, price, quantity, usdc_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		tr.ID, tr.MarketID, tr.UserID, tr.Side,
		tr.Price.String(), tr.Quantity.String(), tr.USDCAmount.String(),
		tr.CreatedAt,
	)
	return err
}

func (t *pgTx) AppendTick(ctx context.Context, tick *model.PriceTick) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO price_ticks (id, market_id, yes_price, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		tick.ID, tick.MarketID, tick.YesPrice.String(), tick.CreatedAt,
	)
	return err
}

// isSerializationFailure reports whether err is PostgreSQL aborting one of
// two conflicting concurrent transactions (serialization failure or
// deadlock detection).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func (s *PostgresStore) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		if isSerializationFailure(err) {
			return ErrConflict
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return ErrConflict
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Query surface ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	var outcome *string
	if m.ResolvedOutcome != nil {
		str := string(*m.ResolvedOutcome)
		outcome = &str
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, category, description, resolution_criteria, status,
		                      yes_price, volume_usdc, open_interest,
		                      resolved_outcome, resolution_source_url, resolution_notes,
		                      trading_closes_at, expected_resolution_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13, $14, $15, $16)`,
		m.ID, m.Question, m.Category, m.Description, m.ResolutionCriteria, m.Status,
		m.YesPrice.String(), m.VolumeUSDC.String(), m.OpenInterest.String(),
		outcome, m.ResolutionSourceURL, m.ResolutionNotes,
		m.TradingClosesAt, m.ExpectedResolutionAt, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, s.pool, id)
}

func (s *PostgresStore) ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error) {
	// Zero filter values match everything.
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+`
		 FROM markets
		 WHERE ($1 = '' OR category = $1)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		string(f.Category), string(f.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return getPosition(ctx, s.pool, id)
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

const tradeColumns = `id, market_id, user_id, side,
	price::TEXT, quantity::TEXT, usdc_amount::TEXT, created_at`

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, qty, usdc string

		if err := rows.Scan(&t.ID, &t.MarketID, &t.UserID, &t.Side,
			&price, &qty, &usdc, &t.CreatedAt); err != nil {
			return nil, err
		}

		var err error
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if t.USDCAmount, err = decimal.NewFromString(usdc); err != nil {
			return nil, fmt.Errorf("parse usdc_amount: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTicksByMarket(ctx context.Context, marketID string) ([]model.PriceTick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, yes_price::TEXT, created_at
		 FROM price_ticks WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []model.PriceTick
	for rows.Next() {
		var tk model.PriceTick
		var price string

		if err := rows.Scan(&tk.ID, &tk.MarketID, &price, &tk.CreatedAt); err != nil {
			return nil, err
		}
		if tk.YesPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse yes_price: %w", err)
		}
		ticks = append(ticks, tk)
	}
	return ticks, rows.Err()
}
