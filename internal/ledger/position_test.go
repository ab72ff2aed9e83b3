package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPos(t *testing.T) *model.Position {
	t.Helper()
	return NewPosition("user1", "market1", model.SideYes, now)
}

// --- Key derivation ---

func TestPositionKey_Deterministic(t *testing.T) {
	k1 := PositionKey("user1", "market1", model.SideYes)
	k2 := PositionKey("user1", "market1", model.SideYes)
	if k1 != k2 {
		t.Fatalf("keys differ: %s vs %s", k1, k2)
	}
	if k1 != "user1_market1_YES" {
		t.Errorf("unexpected key: %s", k1)
	}
}

func TestPositionKey_DistinctPerSide(t *testing.T) {
	yes := PositionKey("user1", "market1", model.SideYes)
	no := PositionKey("user1", "market1", model.SideNo)
	if yes == no {
		t.Error("YES and NO must map to distinct position records")
	}
}

// --- Increase ---

func TestIncrease_FirstEntry(t *testing.T) {
	pos, err := Increase(newPos(t), d(0.5), d(100), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.Quantity.Equal(d(200)) {
		t.Errorf("expected quantity 200, got %s", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(d(0.5)) {
		t.Errorf("expected avg entry 0.5, got %s", pos.AvgEntryPrice)
	}
	if !pos.RealizedPnl.IsZero() {
		t.Errorf("realized pnl should be untouched, got %s", pos.RealizedPnl)
	}
}

func TestIncrease_WeightedAverageCost(t *testing.T) {
	pos, err := Increase(newPos(t), d(0.5), d(100), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, err = Increase(pos, d(0.52), d(100), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// avg = (a1 + a2) / (a1/p1 + a2/p2)
	wantQty := d(100).Div(d(0.5)).Add(d(100).Div(d(0.52)))
	wantAvg := d(200).Div(wantQty)

	if pos.Quantity.Sub(wantQty).Abs().GreaterThan(d(0.0000001)) {
		t.Errorf("expected quantity %s, got %s", wantQty, pos.Quantity)
	}
	if pos.AvgEntryPrice.Sub(wantAvg).Abs().GreaterThan(d(0.0000001)) {
		t.Errorf("expected avg entry %s, got %s", wantAvg, pos.AvgEntryPrice)
	}
	// ≈ 0.51 for the 0.50/0.52 pair.
	if pos.AvgEntryPrice.Sub(d(0.5098)).Abs().GreaterThan(d(0.0001)) {
		t.Errorf("expected avg entry ≈ 0.5098, got %s", pos.AvgEntryPrice)
	}
}

func TestIncrease_RejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []decimal.Decimal{decimal.Zero, d(-10)} {
		if _, err := Increase(newPos(t), d(0.5), amount, now); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for %s, got %v", amount, err)
		}
	}
}

func TestIncrease_DoesNotMutateInput(t *testing.T) {
	orig := newPos(t)
	if _, err := Increase(orig, d(0.5), d(100), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !orig.Quantity.IsZero() {
		t.Error("input position was mutated")
	}
}

// --- Decrease ---

func TestDecrease_PartialClose(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.5), d(100), now)

	pos, payout, err := Decrease(pos, d(0.6), d(50), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payout.Equal(d(30)) { // 50 × 0.6
		t.Errorf("expected payout 30, got %s", payout)
	}
	if !pos.Quantity.Equal(d(150)) {
		t.Errorf("expected remaining 150, got %s", pos.Quantity)
	}
	// pnl = 30 − (0.5 × 50) = 5
	if !pos.RealizedPnl.Equal(d(5)) {
		t.Errorf("expected realized pnl 5, got %s", pos.RealizedPnl)
	}
	// Cost basis of remaining contracts is unaffected by a partial close.
	if !pos.AvgEntryPrice.Equal(d(0.5)) {
		t.Errorf("avg entry should be unchanged, got %s", pos.AvgEntryPrice)
	}
}

func TestDecrease_FullCloseAtEntryPriceIsFlat(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.5), d(100), now)

	pos, payout, err := Decrease(pos, d(0.5), pos.Quantity, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payout.Equal(d(100)) {
		t.Errorf("expected payout 100, got %s", payout)
	}
	if !pos.Quantity.IsZero() {
		t.Errorf("expected zero quantity, got %s", pos.Quantity)
	}
	// Entry fill == exit fill → realized pnl exactly zero.
	if !pos.RealizedPnl.IsZero() {
		t.Errorf("expected zero pnl, got %s", pos.RealizedPnl)
	}
}

func TestDecrease_RejectsOversizedClose(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.5), d(100), now)

	_, _, err := Decrease(pos, d(0.5), d(201), now)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// Rejected, not clamped: the position is untouched.
	if !pos.Quantity.Equal(d(200)) {
		t.Errorf("position changed after rejected close: %s", pos.Quantity)
	}
}

func TestDecrease_RejectsNonPositiveQuantity(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.5), d(100), now)

	for _, qty := range []decimal.Decimal{decimal.Zero, d(-5)} {
		if _, _, err := Decrease(pos, d(0.5), qty, now); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("expected ErrInvalidQuantity for %s, got %v", qty, err)
		}
	}
}

func TestDecrease_AccumulatesPnlAcrossPartialCloses(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.4), d(80), now) // 200 contracts at 0.4

	pos, _, err := Decrease(pos, d(0.5), d(100), now) // +10
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _, err = Decrease(pos, d(0.3), d(100), now) // −10
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.RealizedPnl.IsZero() {
		t.Errorf("expected pnl to net to zero, got %s", pos.RealizedPnl)
	}
}

// --- Redeem ---

func TestRedeem_WinningSide(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.5), d(100), now)

	pos, payout := Redeem(pos, true, now)
	if !payout.Equal(d(200)) { // 1 USDC per contract
		t.Errorf("expected payout 200, got %s", payout)
	}
	if !pos.Quantity.IsZero() {
		t.Errorf("expected zero quantity, got %s", pos.Quantity)
	}
	// pnl = 200 − (0.5 × 200) = 100
	if !pos.RealizedPnl.Equal(d(100)) {
		t.Errorf("expected pnl 100, got %s", pos.RealizedPnl)
	}
}

func TestRedeem_LosingSide(t *testing.T) {
	pos, _ := Increase(newPos(t), d(0.5), d(100), now)

	pos, payout := Redeem(pos, false, now)
	if !payout.IsZero() {
		t.Errorf("expected zero payout, got %s", payout)
	}
	if !pos.RealizedPnl.Equal(d(-100)) {
		t.Errorf("expected pnl -100, got %s", pos.RealizedPnl)
	}
}
