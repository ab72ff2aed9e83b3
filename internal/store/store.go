// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the query surface), and in-memory (for testing).
//
// Trading mutations go through RunTx: one atomic, optimistically
// concurrent unit covering the market, the position, and the appended
// ledger records. The store detects conflicting concurrent writes at
// commit and reports them as ErrConflict; retrying is the caller's
// concern.
package store

import (
	"context"
	"errors"

	"github.com/provenso/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a transaction loses a commit race
	// against a concurrent transaction touching the same entities.
	ErrConflict = errors.New("store: transaction conflict")
)

// Tx is the view of the store inside one atomic transaction attempt.
// Reads observe state as of transaction start; writes become visible
// all together at commit or not at all.
type Tx interface {
	// Market reads a market by id. Returns ErrNotFound if absent.
	Market(ctx context.Context, id string) (*model.Market, error)

	// Position reads a position by its deterministic key.
	// Returns ErrNotFound if absent; absence still participates in
	// conflict detection, so two transactions racing to create the
	// same position cannot both commit.
	Position(ctx context.Context, id string) (*model.Position, error)

	// PutMarket stages the new market state.
	PutMarket(ctx context.Context, m *model.Market) error

	// PutPosition stages a new or updated position.
	PutPosition(ctx context.Context, p *model.Position) error

	// AppendTrade stages an immutable trade ledger entry.
	AppendTrade(ctx context.Context, t *model.Trade) error

	// AppendTick stages a price tick audit record.
	AppendTick(ctx context.Context, tick *model.PriceTick) error
}

// MarketFilter narrows ListMarkets. Zero values match everything.
type MarketFilter struct {
	Category model.Category
	Status   model.Status
}

// Store is the persistence interface. RunTx serves the trading core;
// the remaining methods are the read-mostly query surface for API
// callers and must never be used to feed a trading mutation.
type Store interface {
	// RunTx executes fn as one atomic transaction attempt and commits
	// its staged writes. Returns ErrConflict when a concurrent
	// transaction touching the same entities committed first; any error
	// from fn aborts the transaction with zero side effects.
	RunTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets matching the filter, newest first.
	ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error)

	// --- Positions ---

	// GetPosition retrieves a position by its deterministic key.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// ListPositionsByUser returns all positions held by a user.
	ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error)

	// --- Immutable ledger ---

	// ListTradesByUser returns a user's trades, newest first.
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// ListTradesByMarket returns a market's trades in execution order.
	ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// ListTicksByMarket returns a market's price history in order.
	ListTicksByMarket(ctx context.Context, marketID string) ([]model.PriceTick, error)
}
