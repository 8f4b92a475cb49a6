package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blockedge/carbonx/pkg/book"
	"github.com/blockedge/carbonx/pkg/cfe"
	"github.com/blockedge/carbonx/pkg/exchange"
	"github.com/blockedge/carbonx/pkg/market"
	"github.com/blockedge/carbonx/pkg/sim"
	"github.com/blockedge/carbonx/pkg/storage"
	"github.com/blockedge/carbonx/pkg/ticker"
	"github.com/blockedge/carbonx/pkg/util"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := storage.NewMemStore()
	registry := market.NewDefaultRegistry()
	clock := util.RealClock{}

	feed := ticker.New(registry.List(), ticker.Config{TickMin: time.Second, TickMax: 2 * time.Second}, clock, logger)
	books := book.NewTicker(book.NewGenerator(10), feed, registry, time.Second, clock, logger)
	books.Refresh()
	tape := sim.New(registry, feed, sim.Config{Interval: time.Second, Depth: 10}, clock, logger)
	engine := exchange.New(registry, feed, store, storage.NewNopJournal(), clock,
		exchange.Config{StartingBalance: 10000, FillDelay: time.Second}, logger)
	tracker := cfe.NewTracker(store, clock, logger)
	matching := cfe.NewMatching(store, clock, logger)

	return NewServer(Deps{
		Registry: registry,
		Engine:   engine,
		Feed:     feed,
		Books:    books,
		Tape:     tape,
		Tracker:  tracker,
		Matching: matching,
		Store:    store,
	}, Config{Addr: ":0", AllowedOrigins: []string{"*"}}, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body=%q)", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestListMarkets(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/markets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var markets []MarketInfo
	decodeJSON(t, rec, &markets)
	if len(markets) != 5 {
		t.Fatalf("got %d markets", len(markets))
	}
	bySymbol := map[string]MarketInfo{}
	for _, m := range markets {
		bySymbol[m.Symbol] = m
	}
	rec1 := bySymbol["REC/USDT"]
	if rec1.Name != "Renewable Energy Certificate" || rec1.Price != 45.20 || rec1.Status != "active" {
		t.Fatalf("REC/USDT = %+v", rec1)
	}
}

func TestGetMarketPathForms(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		path string
		want string
		code int
	}{
		{"/api/v1/markets/REC-USDT", "REC/USDT", http.StatusOK},
		{"/api/v1/markets/I-REC-USDT", "I-REC/USDT", http.StatusOK},
		{"/api/v1/markets/XYZ-USDT", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := doJSON(t, s, http.MethodGet, tc.path, nil)
		if rec.Code != tc.code {
			t.Fatalf("%s: status = %d, want %d", tc.path, rec.Code, tc.code)
		}
		if tc.code != http.StatusOK {
			continue
		}
		var m MarketInfo
		decodeJSON(t, rec, &m)
		if m.Symbol != tc.want {
			t.Fatalf("%s: symbol = %q, want %q", tc.path, m.Symbol, tc.want)
		}
	}
}

func TestGetOrderbook(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/markets/REC-USDT/orderbook", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var b book.Book
	decodeJSON(t, rec, &b)
	if b.Symbol != "REC/USDT" || len(b.Bids) != 10 || len(b.Asks) != 10 {
		t.Fatalf("book = %s bids=%d asks=%d", b.Symbol, len(b.Bids), len(b.Asks))
	}
	if b.Spread <= 0 {
		t.Fatalf("spread = %f", b.Spread)
	}
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Pair: "REC/USDT", Type: "limit", Side: "buy", Price: 44, Amount: 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place status = %d body=%s", rec.Code, rec.Body.String())
	}
	var placed OrderResult
	decodeJSON(t, rec, &placed)
	if !placed.Success || placed.OrderID == "" {
		t.Fatalf("place result = %+v", placed)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders", nil)
	var open []exchange.Order
	decodeJSON(t, rec, &open)
	if len(open) != 1 || open[0].ID != placed.OrderID {
		t.Fatalf("open orders = %+v", open)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/orders/"+placed.OrderID, nil)
	var cancel CancelResult
	decodeJSON(t, rec, &cancel)
	if !cancel.Success || !cancel.Cancelled {
		t.Fatalf("cancel result = %+v", cancel)
	}

	// cancelling again is a no-op, not an error
	rec = doJSON(t, s, http.MethodDelete, "/api/v1/orders/"+placed.OrderID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second cancel status = %d", rec.Code)
	}
	decodeJSON(t, rec, &cancel)
	if !cancel.Success || cancel.Cancelled {
		t.Fatalf("second cancel result = %+v", cancel)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders/history", nil)
	var hist []exchange.Order
	decodeJSON(t, rec, &hist)
	if len(hist) != 1 || hist[0].Status != exchange.Cancelled {
		t.Fatalf("history = %+v", hist)
	}
}

func TestPlaceOrderValidationShape(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Pair: "REC/USDT", Type: "limit", Side: "buy", Price: 44, Amount: 0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var result OrderResult
	decodeJSON(t, rec, &result)
	if result.Success || result.Error != "Amount must be greater than 0" {
		t.Fatalf("result = %+v", result)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Pair: "REC/USDT", Type: "limit", Side: "buy", Price: 45, Amount: 100000,
	})
	decodeJSON(t, rec, &result)
	if result.Success || result.Error != "Insufficient balance" {
		t.Fatalf("result = %+v", result)
	}
}

func TestPlaceOrderMalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var errResp ErrorResponse
	decodeJSON(t, rec, &errResp)
	if errResp.Error != "invalid request body" {
		t.Fatalf("error = %q", errResp.Error)
	}
}

func TestPortfolioEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/portfolio", nil)
	var p PortfolioInfo
	decodeJSON(t, rec, &p)
	if p.Balance != 10000 || p.Equity != 10000 || len(p.Holdings) != 0 {
		t.Fatalf("portfolio = %+v", p)
	}
}

func TestTradesEndpoint(t *testing.T) {
	s := newTestServer(t)

	s.deps.Tape.Record(exchange.Trade{
		ID: "t1", Symbol: "REC/USDT", Price: 45.3, Size: 2, Side: exchange.Buy, Timestamp: time.Now(),
	})

	rec := doJSON(t, s, http.MethodGet, "/api/v1/markets/REC-USDT/trades?limit=5", nil)
	var trades []exchange.Trade
	decodeJSON(t, rec, &trades)
	if len(trades) != 1 || trades[0].ID != "t1" {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestComplianceEndpoints(t *testing.T) {
	s := newTestServer(t)

	s.deps.Tracker.RecordHourlyTrade(100, 80)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/compliance", nil)
	var comp ComplianceInfo
	decodeJSON(t, rec, &comp)
	if comp.Score != 80 || len(comp.Window) != 1 {
		t.Fatalf("compliance = %+v", comp)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/compliance/hourly", nil)
	var hourly HourlyMatchingInfo
	decodeJSON(t, rec, &hourly)
	if hourly.Day == "" || len(hourly.Hours) != 24 {
		t.Fatalf("hourly = day %q, %d hours", hourly.Day, len(hourly.Hours))
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/compliance/certificate", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("certificate status = %d", rec.Code)
	}
	var cert cfe.Certificate
	decodeJSON(t, rec, &cert)
	if !strings.HasPrefix(cert.ID, "CFE-") {
		t.Fatalf("certificate id = %q", cert.ID)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/preferences", nil)
	var prefs Preferences
	decodeJSON(t, rec, &prefs)
	if prefs.ChartTimeframe != "1D" || prefs.TourCompleted {
		t.Fatalf("defaults = %+v", prefs)
	}

	tf := "4H"
	done := true
	rec = doJSON(t, s, http.MethodPut, "/api/v1/preferences", UpdatePreferencesRequest{
		ChartTimeframe: &tf, TourCompleted: &done,
	})
	decodeJSON(t, rec, &prefs)
	if prefs.ChartTimeframe != "4H" || !prefs.TourCompleted {
		t.Fatalf("after update = %+v", prefs)
	}

	// persisted under the demo's own keys
	if data, err := s.deps.Store.Get(storage.KeyTourCompleted); err != nil || string(data) != "true" {
		t.Fatalf("tour key = %q err=%v", data, err)
	}

	empty := "   "
	rec = doJSON(t, s, http.MethodPut, "/api/v1/preferences", UpdatePreferencesRequest{ChartTimeframe: &empty})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank timeframe status = %d", rec.Code)
	}

	// partial update leaves the other field alone
	rec = doJSON(t, s, http.MethodPut, "/api/v1/preferences", UpdatePreferencesRequest{})
	decodeJSON(t, rec, &prefs)
	if prefs.ChartTimeframe != "4H" || !prefs.TourCompleted {
		t.Fatalf("after empty update = %+v", prefs)
	}
}

func TestResetEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Pair: "REC/USDT", Type: "limit", Side: "buy", Price: 44, Amount: 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders", nil)
	var open []exchange.Order
	decodeJSON(t, rec, &open)
	if len(open) != 0 {
		t.Fatalf("orders after reset = %+v", open)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/portfolio", nil)
	var p PortfolioInfo
	decodeJSON(t, rec, &p)
	if p.Balance != 10000 {
		t.Fatalf("balance after reset = %f", p.Balance)
	}
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"prices"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// wait for the subscription to land in the hub
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.hub.mu.RLock()
		subscribed := false
		for c := range s.hub.clients {
			if c.IsSubscribed("prices") {
				subscribed = true
			}
		}
		s.hub.mu.RUnlock()
		if subscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.BroadcastPrices(s.deps.Feed.Snapshot())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update PriceUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read: %v", err)
	}
	if update.Type != "prices" || len(update.Prices) != 5 {
		t.Fatalf("update = type %q, %d prices", update.Type, len(update.Prices))
	}
}

func TestHubShutdownUnblocksClientTeardown(t *testing.T) {
	hub := NewHub(nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := &Client{
		hub:           hub,
		send:          make(chan []byte, 1),
		id:            "conn-1",
		subscriptions: make(map[string]bool),
	}
	if !hub.add(client) {
		t.Fatal("add before shutdown failed")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}

	// Shutdown already closed the client's send channel.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("send channel delivered instead of closing")
		}
	default:
		t.Fatal("send channel still open after shutdown")
	}

	// The read pump's teardown path must return promptly even though
	// nothing receives on the hub channels anymore.
	removed := make(chan struct{})
	go func() {
		hub.remove(client)
		close(removed)
	}()
	select {
	case <-removed:
	case <-time.After(2 * time.Second):
		t.Fatal("remove blocked after hub shutdown")
	}

	// A connection arriving after shutdown is refused, not parked.
	late := &Client{
		hub:           hub,
		send:          make(chan []byte, 1),
		id:            "conn-2",
		subscriptions: make(map[string]bool),
	}
	if hub.add(late) {
		t.Fatal("add accepted a client after shutdown")
	}
}
