// Package pricing implements the fixed-step price-impact model for binary
// markets.
//
// Every trade moves the quoted YES probability by a constant step Δ in the
// direction implied by the order flow, regardless of trade size. This is a
// deliberately simple market-maker curve, not a liquidity-weighted bonding
// curve: buying a side (or reducing supply of the other side) nudges that
// side's implied probability up; selling it nudges it down.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/model"
)

var (
	// MinYesPrice is the lowest quotable YES probability. The floor keeps
	// fill prices strictly above zero, so converting a cash amount to a
	// contract quantity (amount / fillPrice) never divides by zero.
	MinYesPrice = decimal.NewFromFloat(0.01)

	// MaxYesPrice is the highest quotable YES probability. The ceiling
	// keeps NO fill prices (1 - yesPrice) strictly above zero.
	MaxYesPrice = decimal.NewFromFloat(0.99)

	// ImpactStep is the constant probability shift Δ applied per trade.
	ImpactStep = decimal.NewFromFloat(0.02)

	one = decimal.NewFromInt(1)
)

// Direction distinguishes trades that build a position from trades that
// unwind one. The same side moves the price opposite ways depending on it.
type Direction string

const (
	// DirectionOpen opens or increases a position.
	DirectionOpen Direction = "OPEN"

	// DirectionClose reduces or closes a position.
	DirectionClose Direction = "CLOSE"
)

// Quote is the result of pricing one trade against the current market.
type Quote struct {
	// FillPrice is the price this trade executes at: the traded side's
	// implied probability at quote time, for opens and closes alike.
	FillPrice decimal.Decimal

	// NextYesPrice is the post-trade quoted YES probability, shifted by
	// ImpactStep and clamped to [MinYesPrice, MaxYesPrice].
	NextYesPrice decimal.Decimal
}

// QuoteTrade prices a trade against the current YES probability.
//
// Fill price: yesPrice for YES, 1 - yesPrice for NO. Closing a side fills
// at that side's current implied price, not the opposite side's.
//
// Price impact: opening YES or closing NO moves the YES probability up by
// ImpactStep; opening NO or closing YES moves it down.
func QuoteTrade(yesPrice decimal.Decimal, side model.Side, dir Direction) Quote {
	fill := yesPrice
	if side == model.SideNo {
		fill = one.Sub(yesPrice)
	}

	next := yesPrice
	if movesUp(side, dir) {
		next = yesPrice.Add(ImpactStep)
	} else {
		next = yesPrice.Sub(ImpactStep)
	}

	return Quote{
		FillPrice:    fill,
		NextYesPrice: Clamp(next),
	}
}

// movesUp reports whether the trade pushes the YES probability toward 1.
func movesUp(side model.Side, dir Direction) bool {
	if dir == DirectionOpen {
		return side == model.SideYes
	}
	return side == model.SideNo
}

// Clamp bounds a YES probability to [MinYesPrice, MaxYesPrice].
func Clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinYesPrice) {
		return MinYesPrice
	}
	if p.GreaterThan(MaxYesPrice) {
		return MaxYesPrice
	}
	return p
}
