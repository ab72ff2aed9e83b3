package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/provenso/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps and per-entity version
// counters. Used for testing and development. Not suitable for production
// (no persistence).
//
// Concurrency control is genuinely optimistic: RunTx records the version
// of every market and position it reads (absent entities read as version
// zero), stages writes, and validates the recorded versions under the
// store lock at commit. Of two overlapping transactions touching the same
// entity, the first committer wins and the loser gets ErrConflict.
type MemoryStore struct {
	mu          sync.RWMutex
	markets     map[string]*model.Market
	marketVer   map[string]uint64
	positions   map[string]*model.Position
	positionVer map[string]uint64
	trades      []model.Trade
	ticks       []model.PriceTick
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*model.Market),
		marketVer:   make(map[string]uint64),
		positions:   make(map[string]*model.Position),
		positionVer: make(map[string]uint64),
	}
}

// memTx records reads and stages writes for one transaction attempt.
type memTx struct {
	s *MemoryStore

	readMarkets   map[string]uint64
	readPositions map[string]uint64

	putMarkets   map[string]*model.Market
	putPositions map[string]*model.Position
	trades       []model.Trade
	ticks        []model.PriceTick
}

func (tx *memTx) Market(_ context.Context, id string) (*model.Market, error) {
	// Own staged write shadows the committed state.
	if m, ok := tx.putMarkets[id]; ok {
		cp := *m
		return &cp, nil
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	tx.readMarkets[id] = tx.s.marketVer[id]
	m, ok := tx.s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (tx *memTx) Position(_ context.Context, id string) (*model.Position, error) {
	if p, ok := tx.putPositions[id]; ok {
		cp := *p
		return &cp, nil
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	tx.readPositions[id] = tx.s.positionVer[id]
	p, ok := tx.s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (tx *memTx) PutMarket(_ context.Context, m *model.Market) error {
	cp := *m
	tx.putMarkets[m.ID] = &cp
	return nil
}

func (tx *memTx) PutPosition(_ context.Context, p *model.Position) error {
	cp := *p
	tx.putPositions[p.ID] = &cp
	return nil
}

func (tx *memTx) AppendTrade(_ context.Context, t *model.Trade) error {
	tx.trades = append(tx.trades, *t)
	return nil
}

func (tx *memTx) AppendTick(_ context.Context, tick *model.PriceTick) error {
	tx.ticks = append(tx.ticks, *tick)
	return nil
}

// RunTx runs fn against a transaction view and commits its staged writes
// if no entity read by fn changed in the meantime.
func (s *MemoryStore) RunTx(_ context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		s:             s,
		readMarkets:   make(map[string]uint64),
		readPositions: make(map[string]uint64),
		putMarkets:    make(map[string]*model.Market),
		putPositions:  make(map[string]*model.Position),
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First committer wins: any read entity whose version moved since the
	// read means a concurrent transaction committed against it.
	for id, ver := range tx.readMarkets {
		if s.marketVer[id] != ver {
			return ErrConflict
		}
	}
	for id, ver := range tx.readPositions {
		if s.positionVer[id] != ver {
			return ErrConflict
		}
	}

	for id, m := range tx.putMarkets {
		cp := *m
		s.markets[id] = &cp
		s.marketVer[id]++
	}
	for id, p := range tx.putPositions {
		cp := *p
		s.positions[id] = &cp
		s.positionVer[id]++
	}
	s.trades = append(s.trades, tx.trades...)
	s.ticks = append(s.ticks, tx.ticks...)

	return nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}
	cp := *m
	s.markets[m.ID] = &cp
	s.marketVer[m.ID] = 1
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, f MarketFilter) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.Category != "" && m.Category != f.Category {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	// Newest first: the ledger is append-only, so walk it backwards.
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].UserID == userID {
			result = append(result, s.trades[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTicksByMarket(_ context.Context, marketID string) ([]model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceTick
	for _, tk := range s.ticks {
		if tk.MarketID == marketID {
			result = append(result, tk)
		}
	}
	return result, nil
}
