package store

import (
	"context"
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

func seedMarket(t *testing.T, s *MemoryStore, id string, createdAt time.Time) {
	t.Helper()
	err := s.CreateMarket(context.Background(), &model.Market{
		ID:        id,
		Question:  "q",
		Category:  model.CategoryTech,
		Status:    model.StatusOpen,
		YesPrice:  d(0.5),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}
}

func TestRunTx_CommitsStagedWritesAtomically(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, "m1", time.Now())

	err := s.RunTx(ctx, func(tx Tx) error {
		m, err := tx.Market(ctx, "m1")
		if err != nil {
			return err
		}
		m.YesPrice = d(0.52)
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		return tx.AppendTrade(ctx, &model.Trade{ID: "t1", MarketID: "m1", UserID: "u1"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, _ := s.GetMarket(ctx, "m1")
	if !m.YesPrice.Equal(d(0.52)) {
		t.Errorf("expected committed price 0.52, got %s", m.YesPrice)
	}
	trades, _ := s.ListTradesByMarket(ctx, "m1")
	if len(trades) != 1 {
		t.Errorf("expected 1 trade, got %d", len(trades))
	}
}

func TestRunTx_FnErrorAbortsWithoutSideEffects(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, "m1", time.Now())

	boom := errors.New("boom")
	err := s.RunTx(ctx, func(tx Tx) error {
		m, _ := tx.Market(ctx, "m1")
		m.YesPrice = d(0.99)
		tx.PutMarket(ctx, m)
		tx.AppendTrade(ctx, &model.Trade{ID: "t1", MarketID: "m1"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}

	m, _ := s.GetMarket(ctx, "m1")
	if !m.YesPrice.Equal(d(0.5)) {
		t.Errorf("aborted tx leaked a write: %s", m.YesPrice)
	}
	trades, _ := s.ListTradesByMarket(ctx, "m1")
	if len(trades) != 0 {
		t.Errorf("aborted tx leaked %d trades", len(trades))
	}
}

func TestRunTx_FirstCommitterWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, "m1", time.Now())

	// The outer transaction reads the market, then an inner transaction
	// commits against it before the outer one reaches commit.
	err := s.RunTx(ctx, func(tx Tx) error {
		m, err := tx.Market(ctx, "m1")
		if err != nil {
			return err
		}

		inner := s.RunTx(ctx, func(tx2 Tx) error {
			m2, err := tx2.Market(ctx, "m1")
			if err != nil {
				return err
			}
			m2.YesPrice = d(0.52)
			return tx2.PutMarket(ctx, m2)
		})
		if inner != nil {
			t.Fatalf("inner tx failed: %v", inner)
		}

		m.YesPrice = d(0.48)
		return tx.PutMarket(ctx, m)
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for the late committer, got %v", err)
	}

	// The inner (first) commit stands.
	m, _ := s.GetMarket(ctx, "m1")
	if !m.YesPrice.Equal(d(0.52)) {
		t.Errorf("expected first committer's price 0.52, got %s", m.YesPrice)
	}
}

func TestRunTx_AbsentReadConflictsWithConcurrentCreate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Two transactions race to create the same position. The outer one
	// observes absence; the inner one creates the record first. The outer
	// commit must fail rather than silently overwrite.
	err := s.RunTx(ctx, func(tx Tx) error {
		if _, err := tx.Position(ctx, "u1_m1_YES"); !errors.Is(err, ErrNotFound) {
			return err
		}

		inner := s.RunTx(ctx, func(tx2 Tx) error {
			return tx2.PutPosition(ctx, &model.Position{
				ID: "u1_m1_YES", UserID: "u1", MarketID: "m1",
				Side: model.SideYes, Quantity: d(100),
			})
		})
		if inner != nil {
			t.Fatalf("inner tx failed: %v", inner)
		}

		return tx.PutPosition(ctx, &model.Position{
			ID: "u1_m1_YES", UserID: "u1", MarketID: "m1",
			Side: model.SideYes, Quantity: d(999),
		})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	p, _ := s.GetPosition(ctx, "u1_m1_YES")
	if !p.Quantity.Equal(d(100)) {
		t.Errorf("expected first creator's quantity 100, got %s", p.Quantity)
	}
}

func TestRunTx_StagedWriteShadowsRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, s, "m1", time.Now())

	err := s.RunTx(ctx, func(tx Tx) error {
		m, err := tx.Market(ctx, "m1")
		if err != nil {
			return err
		}
		m.YesPrice = d(0.52)
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}

		// A re-read inside the same transaction sees the staged state.
		again, err := tx.Market(ctx, "m1")
		if err != nil {
			return err
		}
		if !again.YesPrice.Equal(d(0.52)) {
			t.Errorf("expected staged price 0.52, got %s", again.YesPrice)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateMarket_RejectsDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	seedMarket(t, s, "m1", time.Now())

	err := s.CreateMarket(context.Background(), &model.Market{ID: "m1"})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestListMarkets_FiltersAndOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	seedMarket(t, s, "old", base.Add(-2*time.Hour))
	seedMarket(t, s, "mid", base.Add(-1*time.Hour))
	seedMarket(t, s, "new", base)

	s.RunTx(ctx, func(tx Tx) error {
		m, _ := tx.Market(ctx, "mid")
		m.Status = model.StatusResolved
		return tx.PutMarket(ctx, m)
	})

	all, err := s.ListMarkets(ctx, MarketFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(all))
	}
	if all[0].ID != "new" || all[2].ID != "old" {
		t.Errorf("expected newest-first order, got %s..%s", all[0].ID, all[2].ID)
	}

	open, _ := s.ListMarkets(ctx, MarketFilter{Status: model.StatusOpen})
	if len(open) != 2 {
		t.Errorf("expected 2 open markets, got %d", len(open))
	}

	none, _ := s.ListMarkets(ctx, MarketFilter{Category: model.CategoryGeo})
	if len(none) != 0 {
		t.Errorf("expected no GEO markets, got %d", len(none))
	}
}

func TestListTradesByUser_NewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		err := s.RunTx(ctx, func(tx Tx) error {
			return tx.AppendTrade(ctx, &model.Trade{ID: id, UserID: "u1", MarketID: "m1"})
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	trades, err := s.ListTradesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	if trades[0].ID != "t3" || trades[2].ID != "t1" {
		t.Errorf("expected newest-first order, got %s..%s", trades[0].ID, trades[2].ID)
	}

	// Market-scoped listing keeps execution order.
	byMarket, _ := s.ListTradesByMarket(ctx, "m1")
	if byMarket[0].ID != "t1" {
		t.Errorf("expected execution order, got %s first", byMarket[0].ID)
	}
}
