// Package engine is the transactional trading core: position opening and
// increase, reduction and close, market resolution, and redemption of
// resolved positions.
//
// Each operation executes as one atomic read-modify-write unit against the
// store: read the market (and position) as of transaction start, compute
// the next state with the pricing and ledger packages, stage every write,
// and commit all-or-nothing. Commit conflicts from concurrent writers are
// retried against fresh state up to a bounded attempt count. Market price
// and position quantity are the contended shared state; the transaction
// boundary is what prevents lost updates between simultaneous traders.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/ledger"
	"github.com/provenso/trading-engine/internal/metrics"
	"github.com/provenso/trading-engine/internal/model"
	"github.com/provenso/trading-engine/internal/pricing"
	"github.com/provenso/trading-engine/internal/store"
)

// DefaultMaxAttempts bounds optimistic retries per operation. Under heavy
// contention on one market an operation may exhaust this and surface
// ErrConflict; callers resubmit.
const DefaultMaxAttempts = 5

// Engine executes trading operations against a transactional store.
type Engine struct {
	store store.Store

	// MaxAttempts is the per-operation transaction attempt budget.
	MaxAttempts int
}

// New creates an engine over the given store.
func New(st store.Store) *Engine {
	return &Engine{
		store:       st,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// OpenResult reports a committed open/increase.
type OpenResult struct {
	TradeID       string          `json:"tradeId"`
	FillPrice     decimal.Decimal `json:"fillPrice"`
	Quantity      decimal.Decimal `json:"quantity"` // contracts bought by this trade
	NewQuantity   decimal.Decimal `json:"newQuantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	NewYesPrice   decimal.Decimal `json:"newYesPrice"`
}

// CloseResult reports a committed reduce/close.
type CloseResult struct {
	TradeID     string          `json:"tradeId"`
	FillPrice   decimal.Decimal `json:"fillPrice"`
	PayoutUSDC  decimal.Decimal `json:"payoutUSDC"`
	NewQuantity decimal.Decimal `json:"newQuantity"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	NewYesPrice decimal.Decimal `json:"newYesPrice"`
}

// ResolveResult reports a committed resolution.
type ResolveResult struct {
	Outcome       model.Side      `json:"outcome"`
	FinalYesPrice decimal.Decimal `json:"finalYesPrice"`
}

// RedeemResult reports a committed redemption of a resolved position.
type RedeemResult struct {
	TradeID     string          `json:"tradeId"`
	PayoutUSDC  decimal.Decimal `json:"payoutUSDC"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
}

// withRetry runs fn as a store transaction, restarting from scratch on
// commit conflicts until the attempt budget runs out.
func (e *Engine) withRetry(ctx context.Context, fn func(tx store.Tx) error) error {
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = e.store.RunTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if i < attempts-1 {
			metrics.TxRetries.Inc()
		}
	}

	metrics.TxConflicts.Inc()
	return ErrConflict
}

// OpenPosition opens or increases the (userID, marketID, side) position by
// spending usdcAmount cash at the side's current implied price. The market
// must be OPEN. The fill quantity is usdcAmount / fillPrice; the quoted
// YES price shifts one impact step toward the bought side.
func (e *Engine) OpenPosition(ctx context.Context, marketID, userID string, side model.Side, usdcAmount decimal.Decimal) (*OpenResult, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if usdcAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ledger.ErrInvalidAmount
	}

	start := time.Now()
	defer func() {
		metrics.TradeLatency.WithLabelValues("open").Observe(time.Since(start).Seconds())
	}()

	var res *OpenResult
	err := e.withRetry(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()

		m, err := tx.Market(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		if m.Status != model.StatusOpen {
			return ErrMarketNotOpen
		}

		quote := pricing.QuoteTrade(m.YesPrice, side, pricing.DirectionOpen)

		key := ledger.PositionKey(userID, marketID, side)
		pos, err := tx.Position(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			pos = ledger.NewPosition(userID, marketID, side, now)
		} else if err != nil {
			return err
		}

		newPos, err := ledger.Increase(pos, quote.FillPrice, usdcAmount, now)
		if err != nil {
			return err
		}
		qtyDelta := newPos.Quantity.Sub(pos.Quantity)

		m.YesPrice = quote.NextYesPrice
		m.VolumeUSDC = m.VolumeUSDC.Add(usdcAmount)
		m.OpenInterest = m.OpenInterest.Add(qtyDelta)
		m.UpdatedAt = now

		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, newPos); err != nil {
			return err
		}

		trade := &model.Trade{
			ID:         uuid.New().String(),
			MarketID:   marketID,
			UserID:     userID,
			Side:       side,
			Price:      quote.FillPrice,
			Quantity:   qtyDelta,
			USDCAmount: usdcAmount,
			CreatedAt:  now,
		}
		if err := tx.AppendTrade(ctx, trade); err != nil {
			return err
		}
		if err := tx.AppendTick(ctx, &model.PriceTick{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			YesPrice:  quote.NextYesPrice,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		res = &OpenResult{
			TradeID:       trade.ID,
			FillPrice:     quote.FillPrice,
			Quantity:      qtyDelta,
			NewQuantity:   newPos.Quantity,
			AvgEntryPrice: newPos.AvgEntryPrice,
			NewYesPrice:   quote.NextYesPrice,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(side), "open").Inc()
	slog.Info("position opened",
		"market", marketID,
		"user", userID,
		"side", side,
		"usdc", usdcAmount.String(),
		"fill_price", res.FillPrice.String(),
		"quantity", res.Quantity.String(),
		"new_yes_price", res.NewYesPrice.String(),
	)
	return res, nil
}

// ClosePosition sells quantity contracts back at the side's current
// implied price. The market must be OPEN and the position must hold at
// least that many contracts; oversized requests are rejected, not
// clamped. The quoted YES price shifts one impact step away from the
// sold side.
func (e *Engine) ClosePosition(ctx context.Context, marketID, userID string, side model.Side, quantity decimal.Decimal) (*CloseResult, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, ledger.ErrInvalidQuantity
	}

	start := time.Now()
	defer func() {
		metrics.TradeLatency.WithLabelValues("close").Observe(time.Since(start).Seconds())
	}()

	var res *CloseResult
	err := e.withRetry(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()

		m, err := tx.Market(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		if m.Status != model.StatusOpen {
			return ErrMarketNotOpen
		}

		pos, err := tx.Position(ctx, ledger.PositionKey(userID, marketID, side))
		if errors.Is(err, store.ErrNotFound) {
			return ErrPositionNotFound
		}
		if err != nil {
			return err
		}

		quote := pricing.QuoteTrade(m.YesPrice, side, pricing.DirectionClose)

		newPos, payout, err := ledger.Decrease(pos, quote.FillPrice, quantity, now)
		if err != nil {
			return err
		}

		m.YesPrice = quote.NextYesPrice
		m.VolumeUSDC = m.VolumeUSDC.Add(payout)
		m.OpenInterest = m.OpenInterest.Sub(quantity)
		if m.OpenInterest.IsNegative() {
			m.OpenInterest = decimal.Zero
		}
		m.UpdatedAt = now

		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, newPos); err != nil {
			return err
		}

		trade := &model.Trade{
			ID:         uuid.New().String(),
			MarketID:   marketID,
			UserID:     userID,
			Side:       side,
			Price:      quote.FillPrice,
			Quantity:   quantity.Neg(),
			USDCAmount: payout,
			CreatedAt:  now,
		}
		if err := tx.AppendTrade(ctx, trade); err != nil {
			return err
		}
		if err := tx.AppendTick(ctx, &model.PriceTick{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			YesPrice:  quote.NextYesPrice,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		res = &CloseResult{
			TradeID:     trade.ID,
			FillPrice:   quote.FillPrice,
			PayoutUSDC:  payout,
			NewQuantity: newPos.Quantity,
			RealizedPnl: newPos.RealizedPnl,
			NewYesPrice: quote.NextYesPrice,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(side), "close").Inc()
	slog.Info("position closed",
		"market", marketID,
		"user", userID,
		"side", side,
		"quantity", quantity.String(),
		"payout", res.PayoutUSDC.String(),
		"new_yes_price", res.NewYesPrice.String(),
	)
	return res, nil
}

// Resolve settles a market to its binary outcome. The YES price is pinned
// to exactly 1 (YES) or 0 (NO), the outcome is recorded once, and the
// market leaves the trading lifecycle for good: no transition leaves
// RESOLVED, and every later trading operation fails.
func (e *Engine) Resolve(ctx context.Context, marketID string, outcome model.Side, sourceURL, notes string) (*ResolveResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidSide
	}

	var res *ResolveResult
	err := e.withRetry(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()

		m, err := tx.Market(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		if m.Status == model.StatusResolved {
			return ErrAlreadyResolved
		}

		final := decimal.Zero
		if outcome == model.SideYes {
			final = decimal.NewFromInt(1)
		}

		o := outcome
		m.Status = model.StatusResolved
		m.ResolvedOutcome = &o
		m.YesPrice = final
		m.ResolutionSourceURL = sourceURL
		m.ResolutionNotes = notes
		m.UpdatedAt = now

		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}

		res = &ResolveResult{Outcome: outcome, FinalYesPrice: final}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ResolutionsTotal.WithLabelValues(string(outcome)).Inc()
	slog.Info("market resolved",
		"market", marketID,
		"outcome", outcome,
		"final_yes_price", res.FinalYesPrice.String(),
	)
	return res, nil
}

// Lock moves an OPEN market to LOCKED, stopping trading ahead of
// resolution. The transition is driven from outside the core (admin
// action or trading-close schedule). Locking an already locked market is
// a no-op; a resolved market cannot be locked.
func (e *Engine) Lock(ctx context.Context, marketID string) error {
	err := e.withRetry(ctx, func(tx store.Tx) error {
		m, err := tx.Market(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		if m.Status == model.StatusResolved {
			return ErrAlreadyResolved
		}
		if m.Status == model.StatusLocked {
			return nil
		}

		m.Status = model.StatusLocked
		m.UpdatedAt = time.Now().UTC()
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return err
	}

	slog.Info("market locked", "market", marketID)
	return nil
}

// Redeem settles the full (userID, marketID, side) position against a
// resolved market: each contract pays 1 USDC if the side matches the
// outcome and 0 otherwise. The position's quantity drops to zero and the
// settlement is recorded as a negative-quantity trade at the terminal
// price.
func (e *Engine) Redeem(ctx context.Context, marketID, userID string, side model.Side) (*RedeemResult, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}

	start := time.Now()
	defer func() {
		metrics.TradeLatency.WithLabelValues("redeem").Observe(time.Since(start).Seconds())
	}()

	var res *RedeemResult
	err := e.withRetry(ctx, func(tx store.Tx) error {
		now := time.Now().UTC()

		m, err := tx.Market(ctx, marketID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrMarketNotFound
		}
		if err != nil {
			return err
		}
		if m.Status != model.StatusResolved || m.ResolvedOutcome == nil {
			return ErrMarketNotResolved
		}

		pos, err := tx.Position(ctx, ledger.PositionKey(userID, marketID, side))
		if errors.Is(err, store.ErrNotFound) {
			return ErrPositionNotFound
		}
		if err != nil {
			return err
		}
		if pos.Quantity.LessThanOrEqual(decimal.Zero) {
			return ledger.ErrInsufficientBalance
		}

		quantity := pos.Quantity
		won := *m.ResolvedOutcome == side
		newPos, payout := ledger.Redeem(pos, won, now)

		m.OpenInterest = m.OpenInterest.Sub(quantity)
		if m.OpenInterest.IsNegative() {
			m.OpenInterest = decimal.Zero
		}
		m.UpdatedAt = now

		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, newPos); err != nil {
			return err
		}

		price := decimal.Zero
		if won {
			price = decimal.NewFromInt(1)
		}
		trade := &model.Trade{
			ID:         uuid.New().String(),
			MarketID:   marketID,
			UserID:     userID,
			Side:       side,
			Price:      price,
			Quantity:   quantity.Neg(),
			USDCAmount: payout,
			CreatedAt:  now,
		}
		if err := tx.AppendTrade(ctx, trade); err != nil {
			return err
		}

		res = &RedeemResult{
			TradeID:     trade.ID,
			PayoutUSDC:  payout,
			RealizedPnl: newPos.RealizedPnl,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(side), "redeem").Inc()
	slog.Info("position redeemed",
		"market", marketID,
		"user", userID,
		"side", side,
		"payout", res.PayoutUSDC.String(),
	)
	return res, nil
}
