package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/book"
	"github.com/blockedge/carbonx/pkg/cfe"
	"github.com/blockedge/carbonx/pkg/exchange"
	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/metrics"
	"github.com/blockedge/carbonx/pkg/sim"
	"github.com/blockedge/carbonx/pkg/storage"
	"github.com/blockedge/carbonx/pkg/ticker"
)

const (
	defaultTimeframe  = "1D"
	defaultTradeLimit = 50
	shutdownTimeout   = 5 * time.Second
)

// Config tunes the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Deps bundles everything the server serves.
type Deps struct {
	Registry *market.Registry
	Engine   *exchange.Engine
	Feed     *ticker.Feed
	Books    *book.Ticker
	Tape     *sim.Tape
	Tracker  *cfe.Tracker
	Matching *cfe.Matching
	Store    storage.Store
	Metrics  *metrics.Metrics
}

// Server handles the REST API and WebSocket connections.
type Server struct {
	deps   Deps
	cfg    Config
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

// NewServer creates the API server and registers its routes.
func NewServer(deps Deps, cfg Config, logger *zap.SugaredLogger) *Server {
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    NewHub(deps.Metrics, logger),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/history", s.handleOrderHistory).Methods("GET")
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")

	// Compliance endpoints
	api.HandleFunc("/compliance", s.handleGetCompliance).Methods("GET")
	api.HandleFunc("/compliance/hourly", s.handleGetHourlyMatching).Methods("GET")
	api.HandleFunc("/compliance/certificate", s.handleIssueCertificate).Methods("POST")

	// Preferences and demo lifecycle
	api.HandleFunc("/preferences", s.handleGetPreferences).Methods("GET")
	api.HandleFunc("/preferences", s.handleUpdatePreferences).Methods("PUT")
	api.HandleFunc("/reset", s.handleReset).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Operational endpoints
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Run serves HTTP until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: c.Handler(s.withRecovery(s.router)),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_server_started", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("api_server_shutdown_error", "err", err)
		}
		s.logger.Infow("api_server_stopped")
		return ctx.Err()
	}
}

// withRecovery turns a handler panic into a logged 500 instead of a
// dropped connection.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorw("handler_panic",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				respondError(w, http.StatusInternalServerError, "internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// resolveSymbol maps a path segment to a listed symbol. Symbols carry
// a slash ("REC/USDT"), which cannot appear raw in a path, so URLs use
// the dash form; the last dash separates base from quote, keeping
// "I-REC-USDT" unambiguous.
func (s *Server) resolveSymbol(raw string) (string, bool) {
	if s.deps.Registry.Exists(raw) {
		return raw, true
	}
	if i := strings.LastIndex(raw, "-"); i > 0 {
		converted := raw[:i] + "/" + raw[i+1:]
		if s.deps.Registry.Exists(converted) {
			return converted, true
		}
	}
	return "", false
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	pairs := s.deps.Registry.List()
	response := make([]MarketInfo, len(pairs))
	for i, p := range pairs {
		response[i] = s.marketInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.resolveSymbol(mux.Vars(r)["symbol"])
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	pair, err := s.deps.Registry.Get(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	respondJSON(w, s.marketInfo(pair))
}

func (s *Server) marketInfo(p market.Pair) MarketInfo {
	info := MarketInfo{
		Symbol: p.Symbol,
		Name:   p.Name,
		Base:   p.Base,
		Quote:  p.Quote,
		Status: string(p.Status),
	}
	if mp, ok := s.deps.Feed.Get(p.Symbol); ok {
		info.Price = mp.Price
		info.PreviousPrice = mp.PreviousPrice
		info.Change24h = mp.Change24h
		info.Volume24h = mp.Volume24h
		info.High24h = mp.High24h
		info.Low24h = mp.Low24h
		info.UpdatedAt = mp.UpdatedAt
	} else {
		// listed after the feed started, quote from the listing price
		info.Price = p.BasePrice
		info.PreviousPrice = p.BasePrice
		info.High24h = p.BasePrice
		info.Low24h = p.BasePrice
	}
	return info
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.resolveSymbol(mux.Vars(r)["symbol"])
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	b, ok := s.deps.Books.Get(symbol)
	if !ok {
		// listed but not yet generated
		b = book.Book{Symbol: symbol}
	}
	respondJSON(w, b)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.resolveSymbol(mux.Vars(r)["symbol"])
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	respondJSON(w, s.deps.Tape.Recent(symbol, limit))
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Engine.Portfolio()
	respondJSON(w, PortfolioInfo{
		Balance:  p.Balance,
		Holdings: p.Holdings,
		Equity:   s.deps.Engine.Equity(),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.deps.Engine.Orders())
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.deps.Engine.History())
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, err := s.deps.Engine.PlaceOrder(exchange.PlaceRequest{
		Pair:   req.Pair,
		Type:   exchange.OrderType(req.Type),
		Side:   exchange.Side(req.Side),
		Price:  req.Price,
		Amount: req.Amount,
	})
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRejection(err.Error())
		}
		respondStatusJSON(w, http.StatusBadRequest, OrderResult{Success: false, Error: err.Error()})
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOrderPlaced(string(order.Type), string(order.Side))
	}
	respondStatusJSON(w, http.StatusCreated, OrderResult{Success: true, OrderID: order.ID})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cancelled := s.deps.Engine.CancelOrder(id)
	if cancelled && s.deps.Metrics != nil {
		s.deps.Metrics.OrdersCancelled.Inc()
	}
	respondJSON(w, CancelResult{Success: true, Cancelled: cancelled})
}

func (s *Server) handleGetCompliance(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ComplianceInfo{
		Score:  s.deps.Tracker.Score(),
		Window: s.deps.Tracker.Window(),
	})
}

func (s *Server) handleGetHourlyMatching(w http.ResponseWriter, r *http.Request) {
	profile := s.deps.Matching.Profile()
	respondJSON(w, HourlyMatchingInfo{
		Day:     profile.Day,
		Hours:   profile.Hours,
		Summary: s.deps.Matching.Summary(),
	})
}

func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	cert := s.deps.Matching.GenerateCertificate()
	respondStatusJSON(w, http.StatusCreated, cert)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.loadPreferences())
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.ChartTimeframe != nil {
		tf := strings.TrimSpace(*req.ChartTimeframe)
		if tf == "" || len(tf) > 16 {
			respondError(w, http.StatusBadRequest, "invalid timeframe", "")
			return
		}
		data, _ := json.Marshal(tf)
		if err := s.deps.Store.Put(storage.KeyChartTimeframe, data); err != nil {
			s.logger.Warnw("preference_persist_failed", "key", storage.KeyChartTimeframe, "err", err)
		}
	}
	if req.TourCompleted != nil {
		if err := s.deps.Store.Put(storage.KeyTourCompleted, []byte(strconv.FormatBool(*req.TourCompleted))); err != nil {
			s.logger.Warnw("preference_persist_failed", "key", storage.KeyTourCompleted, "err", err)
		}
	}

	respondJSON(w, s.loadPreferences())
}

// loadPreferences reads the persisted UI settings, tolerating both
// JSON-quoted and raw string timeframe values.
func (s *Server) loadPreferences() Preferences {
	p := Preferences{ChartTimeframe: defaultTimeframe}
	if data, err := s.deps.Store.Get(storage.KeyChartTimeframe); err == nil {
		var tf string
		if json.Unmarshal(data, &tf) == nil && tf != "" {
			p.ChartTimeframe = tf
		} else if raw := strings.TrimSpace(string(data)); raw != "" {
			p.ChartTimeframe = raw
		}
	}
	if data, err := s.deps.Store.Get(storage.KeyTourCompleted); err == nil {
		p.TourCompleted = string(data) == "true"
	}
	return p
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.Reset()
	s.hub.BroadcastAll(ResetNotice{Type: "reset"})
	respondJSON(w, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the daemon's hooks)
// ==============================

// BroadcastPrices pushes a full price snapshot to "prices" subscribers.
func (s *Server) BroadcastPrices(prices []ticker.MarketPrice) {
	s.hub.BroadcastToChannel("prices", PriceUpdate{Type: "prices", Prices: prices})
}

// BroadcastBook pushes a regenerated ladder to its symbol channel.
func (s *Server) BroadcastBook(b book.Book) {
	s.hub.BroadcastToChannel("orderbook:"+b.Symbol, BookUpdate{Type: "orderbook", Book: b})
}

// BroadcastTrade pushes a tape print to its symbol channel.
func (s *Server) BroadcastTrade(tr exchange.Trade) {
	s.hub.BroadcastToChannel("trades:"+tr.Symbol, TradeUpdate{Type: "trade", Trade: tr})
}

// BroadcastOrder pushes an order status change to "orders" subscribers.
func (s *Server) BroadcastOrder(o exchange.Order) {
	s.hub.BroadcastToChannel("orders", OrderUpdate{Type: "order", Order: o})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatusJSON(w, status, ErrorResponse{Error: error, Message: message})
}
