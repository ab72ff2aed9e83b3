package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/provenso/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the query surface. Transactions always pass straight through
// to the primary: the trading core must read fresh state at transaction
// start, so nothing inside RunTx is ever served from cache. Committed
// transactions invalidate the entries they touched.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// recordingTx passes every call to the primary transaction while noting
// which cache entries the writes make stale.
type recordingTx struct {
	Tx
	marketIDs   []string
	positionIDs []string
	userIDs     []string
}

func (t *recordingTx) PutMarket(ctx context.Context, m *model.Market) error {
	t.marketIDs = append(t.marketIDs, m.ID)
	return t.Tx.PutMarket(ctx, m)
}

func (t *recordingTx) PutPosition(ctx context.Context, p *model.Position) error {
	t.positionIDs = append(t.positionIDs, p.ID)
	t.userIDs = append(t.userIDs, p.UserID)
	return t.Tx.PutPosition(ctx, p)
}

func (s *CachedStore) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	var rec *recordingTx
	err := s.primary.RunTx(ctx, func(tx Tx) error {
		rec = &recordingTx{Tx: tx}
		return fn(rec)
	})
	if err != nil {
		return err
	}

	// Invalidate after commit; next read re-populates from the primary.
	var keys []string
	for _, id := range rec.marketIDs {
		keys = append(keys, marketKey(id))
	}
	for _, id := range rec.positionIDs {
		keys = append(keys, positionKey(id))
	}
	for _, id := range rec.userIDs {
		keys = append(keys, userPositionsKey(id))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionKey(id), p)
	return p, nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, userPositionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, userPositionsKey(userID), positions)
	return positions, nil
}

// --- Write-through / passthrough ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) ListMarkets(ctx context.Context, f MarketFilter) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, f)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, userID)
}

func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.ListTradesByMarket(ctx, marketID)
}

func (s *CachedStore) ListTicksByMarket(ctx context.Context, marketID string) ([]model.PriceTick, error) {
	return s.primary.ListTicksByMarket(ctx, marketID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string         { return fmt.Sprintf("market:%s", id) }
func positionKey(id string) string       { return fmt.Sprintf("position:%s", id) }
func userPositionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
