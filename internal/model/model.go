// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is one of the two mutually exclusive contract types per market.
// Their implied probabilities always sum to 1.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Category classifies a market's subject area.
type Category string

const (
	CategoryTech      Category = "TECH"
	CategoryGeo       Category = "GEO"
	CategoryCrossover Category = "CROSSOVER"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryTech || c == CategoryGeo || c == CategoryCrossover
}

// Status is a market's lifecycle state. OPEN markets accept trades,
// LOCKED markets await resolution, RESOLVED is terminal.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusLocked   Status = "LOCKED"
	StatusResolved Status = "RESOLVED"
)

// Market is a binary prediction market continuously repriced by trades.
// YesPrice is kept within [0.01, 0.99] by every trading write; resolution
// pins it to exactly 1 or 0.
type Market struct {
	ID                   string          `json:"id" db:"id"`
	Question             string          `json:"question" db:"question"`
	Category             Category        `json:"category" db:"category"`
	Description          string          `json:"description,omitempty" db:"description"`
	ResolutionCriteria   string          `json:"resolutionCriteria" db:"resolution_criteria"`
	Status               Status          `json:"status" db:"status"`
	YesPrice             decimal.Decimal `json:"yesPrice" db:"yes_price"`
	VolumeUSDC           decimal.Decimal `json:"volumeUSDC" db:"volume_usdc"` // accrues on opens and closes
	OpenInterest         decimal.Decimal `json:"openInterest" db:"open_interest"`
	ResolvedOutcome      *Side           `json:"resolvedOutcome" db:"resolved_outcome"` // non-nil iff RESOLVED
	ResolutionSourceURL  string          `json:"resolutionSourceUrl,omitempty" db:"resolution_source_url"`
	ResolutionNotes      string          `json:"resolutionNotes,omitempty" db:"resolution_notes"`
	TradingClosesAt      time.Time       `json:"tradingClosesAt" db:"trading_closes_at"`
	ExpectedResolutionAt time.Time       `json:"expectedResolutionAt" db:"expected_resolution_at"`
	CreatedAt            time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time       `json:"updatedAt" db:"updated_at"`
}

// Position is a trader's aggregate holding for one (user, market, side)
// tuple. Its ID is derived deterministically from that tuple, so there is
// at most one record per tuple and concurrent trades target the same
// record without a lookup/allocate race.
//
// Quantity never goes negative. AvgEntryPrice is the weighted-average
// cost basis per contract and is only meaningful while Quantity > 0; the
// field is retained for audit once a position is fully closed.
type Position struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"userId" db:"user_id"`
	MarketID      string          `json:"marketId" db:"market_id"`
	Side          Side            `json:"side" db:"side"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice" db:"avg_entry_price"`
	RealizedPnl   decimal.Decimal `json:"realizedPnl" db:"realized_pnl"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// Trade is an immutable ledger record of one fill. Once written it is
// never modified or deleted. Quantity is signed: positive when opening or
// increasing, negative when reducing, closing, or redeeming. USDCAmount
// is positive cash paid in on an open and positive cash received on a
// close, consistent with Quantity's direction.
//
// Price is the fill price, strictly inside (0, 1) for market trades.
// Redemption trades are the one exception: they settle at the terminal
// price of a resolved market, exactly 1 for the winning side and 0 for
// the losing side.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	MarketID   string          `json:"marketId" db:"market_id"`
	UserID     string          `json:"userId" db:"user_id"`
	Side       Side            `json:"side" db:"side"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	USDCAmount decimal.Decimal `json:"usdcAmount" db:"usdc_amount"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

// PriceTick records the post-trade YES price, one per trade. Pure audit
// trail of price evolution; never read back by the trading core.
type PriceTick struct {
	ID        string          `json:"id" db:"id"`
	MarketID  string          `json:"marketId" db:"market_id"`
	YesPrice  decimal.Decimal `json:"yesPrice" db:"yes_price"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
