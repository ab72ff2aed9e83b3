package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Fill price tests ---

func TestQuoteTrade_YesFillsAtYesPrice(t *testing.T) {
	q := QuoteTrade(d(0.6), model.SideYes, DirectionOpen)
	if !q.FillPrice.Equal(d(0.6)) {
		t.Errorf("expected fill 0.6, got %s", q.FillPrice)
	}
}

func TestQuoteTrade_NoFillsAtComplement(t *testing.T) {
	q := QuoteTrade(d(0.6), model.SideNo, DirectionOpen)
	if !q.FillPrice.Equal(d(0.4)) {
		t.Errorf("expected fill 0.4, got %s", q.FillPrice)
	}
}

func TestQuoteTrade_CloseFillsAtOwnSidePrice(t *testing.T) {
	// Closing fills at the closed side's implied price, not the
	// opposite side's.
	q := QuoteTrade(d(0.6), model.SideYes, DirectionClose)
	if !q.FillPrice.Equal(d(0.6)) {
		t.Errorf("expected YES close fill 0.6, got %s", q.FillPrice)
	}

	q = QuoteTrade(d(0.6), model.SideNo, DirectionClose)
	if !q.FillPrice.Equal(d(0.4)) {
		t.Errorf("expected NO close fill 0.4, got %s", q.FillPrice)
	}
}

// --- Price impact direction tests ---

func TestQuoteTrade_ImpactDirections(t *testing.T) {
	cases := []struct {
		name string
		side model.Side
		dir  Direction
		next decimal.Decimal
	}{
		{"open YES moves up", model.SideYes, DirectionOpen, d(0.52)},
		{"open NO moves down", model.SideNo, DirectionOpen, d(0.48)},
		{"close YES moves down", model.SideYes, DirectionClose, d(0.48)},
		{"close NO moves up", model.SideNo, DirectionClose, d(0.52)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := QuoteTrade(d(0.5), tc.side, tc.dir)
			if !q.NextYesPrice.Equal(tc.next) {
				t.Errorf("expected next price %s, got %s", tc.next, q.NextYesPrice)
			}
		})
	}
}

func TestQuoteTrade_ImpactIsSizeIndependent(t *testing.T) {
	// The step is constant per trade; quote depends only on current
	// price, side, and direction.
	a := QuoteTrade(d(0.5), model.SideYes, DirectionOpen)
	b := QuoteTrade(d(0.5), model.SideYes, DirectionOpen)
	if !a.NextYesPrice.Equal(b.NextYesPrice) {
		t.Errorf("quotes diverged: %s vs %s", a.NextYesPrice, b.NextYesPrice)
	}
}

// --- Clamp tests ---

func TestQuoteTrade_ClampsAtCeiling(t *testing.T) {
	q := QuoteTrade(d(0.98), model.SideYes, DirectionOpen)
	if !q.NextYesPrice.Equal(MaxYesPrice) {
		t.Errorf("expected clamp to %s, got %s", MaxYesPrice, q.NextYesPrice)
	}
}

func TestQuoteTrade_ClampsAtFloor(t *testing.T) {
	q := QuoteTrade(d(0.02), model.SideNo, DirectionOpen)
	if !q.NextYesPrice.Equal(MinYesPrice) {
		t.Errorf("expected clamp to %s, got %s", MinYesPrice, q.NextYesPrice)
	}
}

func TestQuoteTrade_PriceStaysInBoundsOverLongRun(t *testing.T) {
	// Hammer one direction far past the boundary, then reverse.
	p := d(0.5)
	for i := 0; i < 100; i++ {
		q := QuoteTrade(p, model.SideYes, DirectionOpen)
		p = q.NextYesPrice
		if p.LessThan(MinYesPrice) || p.GreaterThan(MaxYesPrice) {
			t.Fatalf("price escaped bounds: %s", p)
		}
	}
	if !p.Equal(MaxYesPrice) {
		t.Errorf("expected price pinned at %s, got %s", MaxYesPrice, p)
	}

	for i := 0; i < 100; i++ {
		q := QuoteTrade(p, model.SideYes, DirectionClose)
		p = q.NextYesPrice
		if p.LessThan(MinYesPrice) || p.GreaterThan(MaxYesPrice) {
			t.Fatalf("price escaped bounds: %s", p)
		}
	}
	if !p.Equal(MinYesPrice) {
		t.Errorf("expected price pinned at %s, got %s", MinYesPrice, p)
	}
}

func TestQuoteTrade_FillNeverZeroOrOne(t *testing.T) {
	// At the clamp boundaries both sides still quote strictly inside
	// (0, 1), so cash-to-quantity conversion never divides by zero.
	for _, p := range []decimal.Decimal{MinYesPrice, MaxYesPrice} {
		for _, side := range []model.Side{model.SideYes, model.SideNo} {
			q := QuoteTrade(p, side, DirectionOpen)
			if q.FillPrice.LessThanOrEqual(decimal.Zero) || q.FillPrice.GreaterThanOrEqual(d(1)) {
				t.Errorf("fill price out of (0,1) at p=%s side=%s: %s", p, side, q.FillPrice)
			}
		}
	}
}

func TestClamp(t *testing.T) {
	if !Clamp(d(0.005)).Equal(MinYesPrice) {
		t.Error("expected floor clamp")
	}
	if !Clamp(d(0.995)).Equal(MaxYesPrice) {
		t.Error("expected ceiling clamp")
	}
	if !Clamp(d(0.37)).Equal(d(0.37)) {
		t.Error("in-range value should pass through")
	}
}
