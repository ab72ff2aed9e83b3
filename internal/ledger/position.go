// Package ledger implements position accounting: weighted-average-cost
// entries, proportional realization on exits, and redemption of resolved
// contracts.
//
// All functions are pure: they take the current position state, return a
// new state, and leave persistence and concurrency control to the caller.
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned when an increase is requested for a
	// non-positive cash amount.
	ErrInvalidAmount = errors.New("ledger: usdc amount must be positive")

	// ErrInvalidQuantity is returned when a decrease is requested for a
	// non-positive contract quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

	// ErrInsufficientBalance is returned when a decrease asks for more
	// contracts than the position holds. The request is rejected, never
	// clamped.
	ErrInsufficientBalance = errors.New("ledger: insufficient position balance")
)

// PositionKey derives the deterministic position id for a (user, market,
// side) tuple. Deriving the id instead of generating one turns the
// lookup-or-create race into a single addressable record: concurrent
// trades for the same tuple always target the same key, and the store's
// conflict detection serializes them.
func PositionKey(userID, marketID string, side model.Side) string {
	return fmt.Sprintf("%s_%s_%s", userID, marketID, side)
}

// NewPosition returns an empty position for the tuple, ready for a first
// Increase.
func NewPosition(userID, marketID string, side model.Side, now time.Time) *model.Position {
	return &model.Position{
		ID:        PositionKey(userID, marketID, side),
		UserID:    userID,
		MarketID:  marketID,
		Side:      side,
		UpdatedAt: now,
	}
}

// Increase applies a buy of usdcAmount cash at fillPrice to pos and
// returns the new position state. The contract quantity bought is
// usdcAmount / fillPrice; the average entry price becomes the
// cost-weighted mean of all entries (weighted-average-cost accounting,
// not FIFO/LIFO). RealizedPnl is untouched.
func Increase(pos *model.Position, fillPrice, usdcAmount decimal.Decimal, now time.Time) (*model.Position, error) {
	if usdcAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	delta := usdcAmount.Div(fillPrice)

	next := *pos
	next.Quantity = pos.Quantity.Add(delta)
	if pos.Quantity.IsZero() {
		next.AvgEntryPrice = fillPrice
	} else {
		// (q·a + cash) / (q + Δq)
		totalCost := pos.Quantity.Mul(pos.AvgEntryPrice).Add(usdcAmount)
		next.AvgEntryPrice = totalCost.Div(next.Quantity)
	}
	next.UpdatedAt = now

	return &next, nil
}

// Decrease sells quantity contracts at fillPrice and returns the new
// position state plus the cash payout. The sold portion realizes
// payout − (avgEntryPrice · quantity) into RealizedPnl; the remaining
// contracts keep their cost basis, so AvgEntryPrice is unchanged by a
// partial close.
func Decrease(pos *model.Position, fillPrice, quantity decimal.Decimal, now time.Time) (*model.Position, decimal.Decimal, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, decimal.Zero, ErrInvalidQuantity
	}
	if quantity.GreaterThan(pos.Quantity) {
		return nil, decimal.Zero, ErrInsufficientBalance
	}

	payout := quantity.Mul(fillPrice)
	costBasis := pos.AvgEntryPrice.Mul(quantity)

	next := *pos
	next.Quantity = pos.Quantity.Sub(quantity)
	next.RealizedPnl = pos.RealizedPnl.Add(payout.Sub(costBasis))
	next.UpdatedAt = now

	return &next, payout, nil
}

// Redeem settles the full position against a resolved outcome: each
// contract pays 1 USDC if the position's side won and 0 if it lost. The
// quantity is zeroed and the settlement PnL accrues into RealizedPnl.
func Redeem(pos *model.Position, won bool, now time.Time) (*model.Position, decimal.Decimal) {
	payout := decimal.Zero
	if won {
		payout = pos.Quantity
	}
	costBasis := pos.AvgEntryPrice.Mul(pos.Quantity)

	next := *pos
	next.Quantity = decimal.Zero
	next.RealizedPnl = pos.RealizedPnl.Add(payout.Sub(costBasis))
	next.UpdatedAt = now

	return &next, payout
}
