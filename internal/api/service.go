// Package api provides the HTTP surface of the trading engine: taking,
// closing, and redeeming positions, resolving markets, and the read-only
// market/portfolio queries.
//
// Handlers validate input shape, delegate to the engine or the store's
// query surface, and translate the typed engine errors to HTTP statuses.
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/provenso/trading-engine/internal/engine"
	"github.com/provenso/trading-engine/internal/ledger"
	"github.com/provenso/trading-engine/internal/model"
	"github.com/provenso/trading-engine/internal/pricing"
	"github.com/provenso/trading-engine/internal/store"
)

// Service wires the HTTP handlers to the engine and the store.
type Service struct {
	store  store.Store
	engine *engine.Engine
	hub    *Hub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *engine.Engine, hub *Hub) *Service {
	return &Service{
		store:  st,
		engine: eng,
		hub:    hub,
	}
}

// Register mounts all routes on the router.
func (s *Service) Register(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/ticks", s.GetMarketTicks)
	r.Get("/markets/{marketID}/trades", s.GetMarketTrades)
	r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
	r.Post("/markets/{marketID}/lock", s.LockMarket)

	r.Post("/positions/take", s.TakePosition)
	r.Post("/positions/close", s.ClosePosition)
	r.Post("/positions/redeem", s.RedeemPosition)
	r.Get("/positions", s.ListPositions)

	r.Get("/trades", s.ListTrades)
}

// --- Request types ---

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Question             string          `json:"question"`
	Category             model.Category  `json:"category"`
	Description          string          `json:"description"`
	ResolutionCriteria   string          `json:"resolution_criteria"`
	TradingClosesAt      time.Time       `json:"trading_closes_at"`
	ExpectedResolutionAt time.Time       `json:"expected_resolution_at"`
	InitialProbability   decimal.Decimal `json:"initial_probability"` // 0 → default 0.5
}

// TakePositionRequest is the JSON body for POST /positions/take.
type TakePositionRequest struct {
	MarketID   string          `json:"market_id"`
	UserID     string          `json:"user_id"`
	Side       model.Side      `json:"side"`
	USDCAmount decimal.Decimal `json:"usdc_amount"`
}

// ClosePositionRequest is the JSON body for POST /positions/close.
type ClosePositionRequest struct {
	MarketID string          `json:"market_id"`
	UserID   string          `json:"user_id"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

// RedeemPositionRequest is the JSON body for POST /positions/redeem.
type RedeemPositionRequest struct {
	MarketID string     `json:"market_id"`
	UserID   string     `json:"user_id"`
	Side     model.Side `json:"side"`
}

// ResolveMarketRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveMarketRequest struct {
	Outcome             model.Side `json:"outcome"`
	ResolutionSourceURL string     `json:"resolution_source_url"`
	Notes               string     `json:"notes"`
}

// --- Trading handlers ---

// TakePosition handles POST /api/v1/positions/take.
func (s *Service) TakePosition(w http.ResponseWriter, r *http.Request) {
	var req TakePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" || req.UserID == "" {
		writeError(w, "market_id and user_id are required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
		return
	}

	res, err := s.engine.OpenPosition(r.Context(), req.MarketID, req.UserID, req.Side, req.USDCAmount)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(Message{
			Type:     "trade_executed",
			MarketID: req.MarketID,
			YesPrice: res.NewYesPrice.String(),
			Side:     string(req.Side),
			Action:   "open",
			Quantity: res.Quantity.String(),
		})
	}

	writeJSON(w, http.StatusOK, res)
}

// ClosePosition handles POST /api/v1/positions/close.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" || req.UserID == "" {
		writeError(w, "market_id and user_id are required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
		return
	}

	res, err := s.engine.ClosePosition(r.Context(), req.MarketID, req.UserID, req.Side, req.Quantity)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(Message{
			Type:     "trade_executed",
			MarketID: req.MarketID,
			YesPrice: res.NewYesPrice.String(),
			Side:     string(req.Side),
			Action:   "close",
			Quantity: req.Quantity.String(),
		})
	}

	writeJSON(w, http.StatusOK, res)
}

// RedeemPosition handles POST /api/v1/positions/redeem.
func (s *Service) RedeemPosition(w http.ResponseWriter, r *http.Request) {
	var req RedeemPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" || req.UserID == "" {
		writeError(w, "market_id and user_id are required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Redeem(r.Context(), req.MarketID, req.UserID, req.Side)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// --- Market handlers ---

// CreateMarket handles POST /api/v1/markets (admin).
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}
	if !req.Category.Valid() {
		writeError(w, "category must be TECH, GEO, or CROSSOVER", http.StatusBadRequest)
		return
	}

	prob := req.InitialProbability
	if prob.IsZero() {
		prob = decimal.NewFromFloat(0.5) // default initial probability
	}
	if prob.LessThan(pricing.MinYesPrice) || prob.GreaterThan(pricing.MaxYesPrice) {
		writeError(w, "initial_probability must be within [0.01, 0.99]", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	market := &model.Market{
		ID:                   uuid.New().String(),
		Question:             req.Question,
		Category:             req.Category,
		Description:          req.Description,
		ResolutionCriteria:   req.ResolutionCriteria,
		Status:               model.StatusOpen,
		YesPrice:             prob,
		VolumeUSDC:           decimal.Zero,
		OpenInterest:         decimal.Zero,
		TradingClosesAt:      req.TradingClosesAt,
		ExpectedResolutionAt: req.ExpectedResolutionAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets.
// Optional filters: ?category=TECH|GEO|CROSSOVER and ?status=OPEN|LOCKED|RESOLVED.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	f := store.MarketFilter{
		Category: model.Category(r.URL.Query().Get("category")),
		Status:   model.Status(r.URL.Query().Get("status")),
	}

	markets, err := s.store.ListMarkets(r.Context(), f)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	writeJSON(w, http.StatusOK, markets)
}

// GetMarketTicks handles GET /api/v1/markets/{marketID}/ticks.
// Returns the market's price history in order.
func (s *Service) GetMarketTicks(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	ticks, err := s.store.ListTicksByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get price history", http.StatusInternalServerError)
		return
	}
	if ticks == nil {
		ticks = []model.PriceTick{}
	}

	writeJSON(w, http.StatusOK, ticks)
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades.
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	trades, err := s.store.ListTradesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	writeJSON(w, http.StatusOK, trades)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve (admin).
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Resolve(r.Context(), marketID, req.Outcome, req.ResolutionSourceURL, req.Notes)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(Message{
			Type:     "market_resolved",
			MarketID: marketID,
			YesPrice: res.FinalYesPrice.String(),
			Outcome:  string(res.Outcome),
		})
	}

	writeJSON(w, http.StatusOK, res)
}

// LockMarket handles POST /api/v1/markets/{marketID}/lock (admin).
func (s *Service) LockMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	if err := s.engine.Lock(r.Context(), marketID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.StatusLocked)})
}

// --- Portfolio handlers ---

// ListPositions handles GET /api/v1/positions?userId=...
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, "userId is required", http.StatusBadRequest)
		return
	}

	positions, err := s.store.ListPositionsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, positions)
}

// ListTrades handles GET /api/v1/trades?userId=...
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, "userId is required", http.StatusBadRequest)
		return
	}

	trades, err := s.store.ListTradesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	writeJSON(w, http.StatusOK, trades)
}

// --- Helpers ---

// errStatus maps engine and ledger errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound),
		errors.Is(err, engine.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrMarketNotResolved),
		errors.Is(err, engine.ErrAlreadyResolved),
		errors.Is(err, engine.ErrConflict),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
