// Package api exposes the exchange over REST and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core/book"
	"github.com/openspot/openspot/pkg/core/engine"
	"github.com/openspot/openspot/pkg/core/ledger"
	"github.com/openspot/openspot/pkg/core/market"
	"github.com/openspot/openspot/pkg/core/order"
	"github.com/openspot/openspot/pkg/metrics"
	"github.com/openspot/openspot/pkg/util"
)

// ServerConfig wires the API server's collaborators.
type ServerConfig struct {
	Logger  *zap.SugaredLogger
	Clock   util.Clock
	Ledger  *ledger.Ledger
	Markets *market.Registry
	Engine  *engine.Engine
	Metrics *metrics.Metrics

	// StartingBalances is credited to each account created via the API.
	StartingBalances map[string]decimal.Decimal
	AllowedOrigins   []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	log     *zap.SugaredLogger
	clock   util.Clock
	ledger  *ledger.Ledger
	markets *market.Registry
	engine  *engine.Engine
	metrics *metrics.Metrics

	starting map[string]decimal.Decimal
	origins  []string

	router *mux.Router
	hub    *Hub
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}

	s := &Server{
		log:      logger,
		clock:    clock,
		ledger:   cfg.Ledger,
		markets:  cfg.Markets,
		engine:   cfg.Engine,
		metrics:  cfg.Metrics,
		starting: cfg.StartingBalances,
		origins:  cfg.AllowedOrigins,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders", s.handleGetMarketOrders).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods("POST")
	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts/{owner}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{owner}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{owner}/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/accounts/{owner}/orders", s.handleGetAccountOrders).Methods("GET")

	// Order submission
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the fully assembled HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// RunHub runs the WebSocket hub loop. Call in a goroutine before serving.
func (s *Server) RunHub() {
	s.hub.Run()
}

// Start starts the WebSocket hub and serves HTTP on addr, blocking.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.markets.List()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}

	s.respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	m, err := s.markets.Get(symbol)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	depth := queryInt(r, "depth", 0)

	bids, asks, err := s.engine.Depth(symbol, depth)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	response := OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      priceLevels(bids),
		Asks:      priceLevels(asks),
		Timestamp: s.clock.Now().UnixMilli(),
	}

	s.respondJSON(w, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := queryInt(r, "limit", 0)

	if _, err := s.markets.Get(symbol); err != nil {
		s.respondErr(w, err)
		return
	}

	trades := s.engine.RecentTrades(symbol, limit)
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t)
	}

	s.respondJSON(w, response)
}

func (s *Server) handleGetMarketOrders(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if _, err := s.markets.Get(symbol); err != nil {
		s.respondErr(w, err)
		return
	}

	status, err := order.ParseStatus(queryDefault(r, "status", "open"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid status", err.Error())
		return
	}

	orders := s.engine.OrdersByMarket(symbol, status)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}

	s.respondJSON(w, response)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Owner == "" {
		s.respondError(w, http.StatusBadRequest, "missing owner", "")
		return
	}

	if _, err := s.ledger.CreateAccount(req.Owner, s.starting); err != nil {
		s.respondErr(w, err)
		return
	}

	info, err := s.accountInfo(req.Owner)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.ledger.Owners())
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	info, err := s.accountInfo(owner)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, info)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := s.ledger.Deposit(owner, req.Asset, req.Amount); err != nil {
		s.respondErr(w, err)
		return
	}

	info, err := s.accountInfo(owner)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, info)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := s.ledger.Withdraw(owner, req.Asset, req.Amount); err != nil {
		s.respondErr(w, err)
		return
	}

	info, err := s.accountInfo(owner)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, info)
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	if !s.ledger.Exists(owner) {
		s.respondError(w, http.StatusNotFound, "unknown account", owner)
		return
	}

	orders := s.engine.OrdersByOwner(owner)

	// Optional status filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid status", err.Error())
			return
		}
		filtered := orders[:0]
		for _, o := range orders {
			if o.Status == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}

	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}

	s.respondJSON(w, response)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	side, err := order.ParseSide(req.Side)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	result, err := s.engine.PlaceOrder(req.Owner, req.Symbol, side, req.Price, req.Qty)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	// Push executed trades to subscribers before responding.
	for _, t := range result.Trades {
		s.hub.BroadcastToChannel("trades:"+t.Symbol, TradeUpdate{
			Type:      "trade",
			Symbol:    t.Symbol,
			Price:     t.Price,
			Qty:       t.Qty,
			TakerSide: t.TakerSide.String(),
			Timestamp: t.Timestamp,
		})
	}

	response := SubmitOrderResponse{
		Order:  orderInfo(result.Order),
		Trades: make([]TradeInfo, len(result.Trades)),
	}
	for i, t := range result.Trades {
		response.Trades[i] = tradeInfo(t)
	}

	s.respondJSON(w, response)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" {
		s.respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}

	cancelled, err := s.engine.CancelOrder(req.OrderID, req.Owner)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, orderInfo(cancelled))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	o, err := s.engine.GetOrder(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, orderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) accountInfo(owner string) (AccountInfo, error) {
	balances, err := s.ledger.Balances(owner)
	if err != nil {
		return AccountInfo{}, err
	}

	info := AccountInfo{
		Owner:    owner,
		Active:   s.ledger.IsActive(owner),
		Balances: make([]BalanceInfo, 0, len(balances)),
	}
	for asset, b := range balances {
		info.Balances = append(info.Balances, BalanceInfo{
			Asset:    asset,
			Free:     b.Free,
			Reserved: b.Reserved,
			Total:    b.Total(),
		})
	}
	sortBalances(info.Balances)
	return info, nil
}

func sortBalances(balances []BalanceInfo) {
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })
}

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Symbol:      m.Symbol,
		BaseAsset:   m.BaseAsset,
		QuoteAsset:  m.QuoteAsset,
		Status:      m.Status.String(),
		TickSize:    m.TickSize,
		LotSize:     m.LotSize,
		MinNotional: m.MinNotional,
	}
}

func orderInfo(o order.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     o.Owner,
		Symbol:    o.Symbol,
		Side:      o.Side.String(),
		Price:     o.Price,
		Qty:       o.Qty,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func tradeInfo(t order.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID,
		Symbol:    t.Symbol,
		Price:     t.Price,
		Qty:       t.Qty,
		TakerSide: t.TakerSide.String(),
		Buyer:     t.Buyer,
		Seller:    t.Seller,
		Timestamp: t.Timestamp,
	}
}

func priceLevels(levels []book.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Qty: l.Qty, Orders: l.Orders}
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func queryDefault(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondErr maps core error classes onto HTTP status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrAccountInactive),
		errors.Is(err, ledger.ErrInsufficientBalance):
		s.respondError(w, http.StatusBadRequest, "bad request", err.Error())
	case errors.Is(err, engine.ErrForbidden):
		s.respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, market.ErrNotFound),
		errors.Is(err, ledger.ErrUnknownAccount):
		s.respondError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, engine.ErrAlreadyTerminal),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, market.ErrExists):
		s.respondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.log.Errorw("internal_error", "err", err)
		s.respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
