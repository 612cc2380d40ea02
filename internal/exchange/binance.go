package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"newstrade/internal/events"
)

// BinanceConfig carries the credentials and environment selection for
// the live adapter.
type BinanceConfig struct {
	APIKey       string
	APISecret    string
	UseTestnet   bool
	RecvWindowMs int
	Timeout      time.Duration
}

// BinanceAdapter talks to Binance spot and USD-M futures. Orders are
// market orders; order ids are "market:symbol:exchange_order_id".
type BinanceAdapter struct {
	cfg     BinanceConfig
	client  *http.Client
	limiter *rate.Limiter

	spotBaseURL string
	perpBaseURL string
	spotWSBase  string
	perpWSBase  string
}

func NewBinanceAdapter(cfg BinanceConfig) (*BinanceAdapter, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("binance: API credentials are required for live execution mode")
	}
	if cfg.RecvWindowMs <= 0 {
		cfg.RecvWindowMs = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	a := &BinanceAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	if cfg.UseTestnet {
		a.spotBaseURL = "https://testnet.binance.vision"
		a.perpBaseURL = "https://testnet.binancefuture.com"
		a.spotWSBase = "wss://testnet.binance.vision/ws"
		a.perpWSBase = "wss://stream.binancefuture.com/ws"
	} else {
		a.spotBaseURL = "https://api.binance.com"
		a.perpBaseURL = "https://fapi.binance.com"
		a.spotWSBase = "wss://stream.binance.com:9443/ws"
		a.perpWSBase = "wss://fstream.binance.com/ws"
	}
	return a, nil
}

func parseStatus(status string) string {
	switch strings.ToLower(status) {
	case "new":
		return events.StatusNew
	case "partially_filled":
		return events.StatusPartiallyFilled
	case "filled":
		return events.StatusFilled
	case "rejected":
		return events.StatusRejected
	case "canceled", "cancelled", "expired":
		return events.StatusCanceled
	default:
		return events.StatusNew
	}
}

func (a *BinanceAdapter) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *BinanceAdapter) baseURL(market string) string {
	if market == events.MarketSpot {
		return a.spotBaseURL
	}
	return a.perpBaseURL
}

// request performs one REST call. Signed requests get timestamp,
// recvWindow and an HMAC signature appended to the query.
func (a *BinanceAdapter) request(ctx context.Context, method, market, path string, params url.Values, signed bool) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(a.cfg.RecvWindowMs))
		params.Set("signature", a.sign(params.Encode()))
	}

	reqURL := a.baseURL(market) + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("binance %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}

	// Error payloads carry a negative "code" even on HTTP 200.
	var probe struct {
		Code *int   `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Code != nil && *probe.Code < 0 {
		return nil, fmt.Errorf("binance API error code=%d msg=%q", *probe.Code, probe.Msg)
	}
	return body, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (a *BinanceAdapter) fetchMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := a.request(ctx, http.MethodGet, events.MarketPerp, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, err
	}
	var data struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("binance: parse mark price: %w", err)
	}
	return parseFloat(data.Price), nil
}

func (a *BinanceAdapter) fetchSpotPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := a.request(ctx, http.MethodGet, events.MarketSpot, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}
	var data struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, fmt.Errorf("binance: parse spot price: %w", err)
	}
	return parseFloat(data.Price), nil
}

func (a *BinanceAdapter) PlaceOrder(ctx context.Context, intent *events.OrderIntent) (*events.ExecutionReport, error) {
	side := "SELL"
	if intent.Side > 0 {
		side = "BUY"
	}
	clientOrderID := intent.IntentID
	if len(clientOrderID) > 32 {
		clientOrderID = clientOrderID[:32]
	}

	if intent.Market == events.MarketSpot {
		params := url.Values{
			"symbol":           {intent.Symbol},
			"side":             {side},
			"type":             {"MARKET"},
			"quoteOrderQty":    {fmt.Sprintf("%.2f", intent.QtyUSD)},
			"newClientOrderId": {clientOrderID},
		}
		body, err := a.request(ctx, http.MethodPost, events.MarketSpot, "/api/v3/order", params, true)
		if err != nil {
			return nil, err
		}

		var data struct {
			OrderID             int64  `json:"orderId"`
			Status              string `json:"status"`
			ExecutedQty         string `json:"executedQty"`
			CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
			Fills               []struct {
				Price      string `json:"price"`
				Qty        string `json:"qty"`
				Commission string `json:"commission"`
			} `json:"fills"`
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("binance: parse spot order response: %w", err)
		}

		filledQty := parseFloat(data.ExecutedQty)
		var avgPrice, fee float64
		if len(data.Fills) > 0 {
			var totalQuote, totalQty float64
			for _, fill := range data.Fills {
				qty := parseFloat(fill.Qty)
				totalQuote += parseFloat(fill.Price) * qty
				totalQty += qty
				fee += parseFloat(fill.Commission)
			}
			if totalQty > 0 {
				avgPrice = totalQuote / totalQty
			}
		} else if filledQty > 0 {
			avgPrice = parseFloat(data.CummulativeQuoteQty) / filledQty
		}

		return &events.ExecutionReport{
			SchemaVersion: events.SchemaVersion,
			OrderID:       fmt.Sprintf("spot:%s:%d", intent.Symbol, data.OrderID),
			IntentID:      intent.IntentID,
			Symbol:        intent.Symbol,
			Market:        intent.Market,
			Side:          intent.Side,
			Status:        parseStatus(data.Status),
			FilledQty:     filledQty,
			AvgPrice:      avgPrice,
			Fee:           fee,
			TS:            time.Now().UTC(),
		}, nil
	}

	markPrice, err := a.fetchMarkPrice(ctx, intent.Symbol)
	if err != nil {
		return nil, err
	}
	if markPrice <= 0 {
		return nil, fmt.Errorf("binance: no mark price for %s", intent.Symbol)
	}
	quantity := intent.QtyUSD / markPrice
	if quantity < 0.001 {
		quantity = 0.001
	}

	params := url.Values{
		"symbol":           {intent.Symbol},
		"side":             {side},
		"type":             {"MARKET"},
		"quantity":         {fmt.Sprintf("%.3f", quantity)},
		"newClientOrderId": {clientOrderID},
	}
	body, err := a.request(ctx, http.MethodPost, events.MarketPerp, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}

	var data struct {
		OrderID     int64  `json:"orderId"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("binance: parse perp order response: %w", err)
	}

	filledQty := parseFloat(data.ExecutedQty)
	if data.ExecutedQty == "" {
		filledQty = quantity
	}
	avgPrice := parseFloat(data.AvgPrice)
	if avgPrice == 0 {
		avgPrice = markPrice
	}

	return &events.ExecutionReport{
		SchemaVersion: events.SchemaVersion,
		OrderID:       fmt.Sprintf("perp:%s:%d", intent.Symbol, data.OrderID),
		IntentID:      intent.IntentID,
		Symbol:        intent.Symbol,
		Market:        intent.Market,
		Side:          intent.Side,
		Status:        parseStatus(data.Status),
		FilledQty:     filledQty,
		AvgPrice:      avgPrice,
		Fee:           0,
		TS:            time.Now().UTC(),
	}, nil
}

// SplitOrderID parses "market:symbol:exchange_order_id".
func SplitOrderID(orderID string) (market, symbol, exchangeOrderID string, err error) {
	parts := strings.Split(orderID, ":")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("order_id must be in format 'market:symbol:exchange_order_id', got %q", orderID)
	}
	return parts[0], parts[1], parts[2], nil
}

func (a *BinanceAdapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	market, symbol, exchangeOrderID, err := SplitOrderID(orderID)
	if err != nil {
		return false, err
	}

	params := url.Values{"symbol": {symbol}, "orderId": {exchangeOrderID}}
	path := "/fapi/v1/order"
	if market == events.MarketSpot {
		path = "/api/v3/order"
	}
	if _, err := a.request(ctx, http.MethodDelete, market, path, params, true); err != nil {
		return false, err
	}
	return true, nil
}

func (a *BinanceAdapter) FetchPositions(ctx context.Context) ([]Position, error) {
	var positions []Position

	body, err := a.request(ctx, http.MethodGet, events.MarketSpot, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}
	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("binance: parse spot account: %w", err)
	}

	priceCache := make(map[string]float64)
	for _, bal := range account.Balances {
		total := parseFloat(bal.Free) + parseFloat(bal.Locked)
		if total <= 0 {
			continue
		}
		asset := strings.ToUpper(bal.Asset)
		if asset == "USDT" || asset == "BUSD" || asset == "USDC" {
			continue
		}
		symbol := asset + "USDT"
		px, ok := priceCache[symbol]
		if !ok {
			px, err = a.fetchSpotPrice(ctx, symbol)
			if err != nil {
				px = 0
			}
			priceCache[symbol] = px
		}
		notional := total * px
		positions = append(positions, Position{
			Market:      events.MarketSpot,
			Symbol:      symbol,
			Qty:         total,
			NotionalUSD: &notional,
		})
	}

	body, err = a.request(ctx, http.MethodGet, events.MarketPerp, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return nil, err
	}
	var perpPositions []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		Notional    string `json:"notional"`
	}
	if err := json.Unmarshal(body, &perpPositions); err != nil {
		return nil, fmt.Errorf("binance: parse position risk: %w", err)
	}
	for _, pos := range perpPositions {
		qty := parseFloat(pos.PositionAmt)
		if qty == 0 {
			continue
		}
		notional := parseFloat(pos.Notional)
		if notional < 0 {
			notional = -notional
		}
		positions = append(positions, Position{
			Market:      events.MarketPerp,
			Symbol:      pos.Symbol,
			Qty:         qty,
			NotionalUSD: &notional,
		})
	}

	return positions, nil
}

func (a *BinanceAdapter) createListenKey(ctx context.Context, market string) (string, error) {
	path := "/fapi/v1/listenKey"
	if market == events.MarketSpot {
		path = "/api/v3/userDataStream"
	}
	body, err := a.request(ctx, http.MethodPost, market, path, nil, false)
	if err != nil {
		return "", err
	}
	var data struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &data); err != nil || data.ListenKey == "" {
		return "", fmt.Errorf("binance: failed to create %s listen key: %s", market, string(body))
	}
	return data.ListenKey, nil
}

// keepaliveListenKey refreshes the listen key every 30 minutes until
// the context is cancelled.
func (a *BinanceAdapter) keepaliveListenKey(ctx context.Context, market, listenKey string) error {
	path := "/fapi/v1/listenKey"
	if market == events.MarketSpot {
		path = "/api/v3/userDataStream"
	}
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			params := url.Values{"listenKey": {listenKey}}
			if _, err := a.request(ctx, http.MethodPut, market, path, params, false); err != nil {
				return err
			}
		}
	}
}

// spotUserEvent and perpUserEvent mirror the user-data payload shapes.
type spotUserEvent struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	ClientID    string `json:"c"`
	Side        string `json:"S"`
	Status      string `json:"X"`
	CumQty      string `json:"z"`
	CumQuote    string `json:"Z"`
	OrderID     int64  `json:"i"`
}

type perpUserEvent struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Order       struct {
		Symbol   string `json:"s"`
		ClientID string `json:"c"`
		Side     string `json:"S"`
		Status   string `json:"X"`
		CumQty   string `json:"z"`
		AvgPrice string `json:"ap"`
		OrderID  int64  `json:"i"`
	} `json:"o"`
}

// parseUserDataEvent normalizes one user-data message into an
// ExecutionReport, or nil when the message is not an order update.
func (a *BinanceAdapter) parseUserDataEvent(market string, raw []byte) *events.ExecutionReport {
	if market == events.MarketSpot {
		var ev spotUserEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.EventType != "executionReport" {
			return nil
		}
		filledQty := parseFloat(ev.CumQty)
		var avgPrice float64
		if filledQty > 0 {
			avgPrice = parseFloat(ev.CumQuote) / filledQty
		}
		side := -1
		if ev.Side == "BUY" {
			side = 1
		}
		return &events.ExecutionReport{
			SchemaVersion: events.SchemaVersion,
			OrderID:       fmt.Sprintf("spot:%s:%d", ev.Symbol, ev.OrderID),
			IntentID:      ev.ClientID,
			Symbol:        ev.Symbol,
			Market:        events.MarketSpot,
			Side:          side,
			Status:        parseStatus(ev.Status),
			FilledQty:     filledQty,
			AvgPrice:      avgPrice,
			Fee:           0,
			TS:            time.UnixMilli(ev.EventTimeMs).UTC(),
		}
	}

	var ev perpUserEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.EventType != "ORDER_TRADE_UPDATE" {
		return nil
	}
	side := -1
	if ev.Order.Side == "BUY" {
		side = 1
	}
	return &events.ExecutionReport{
		SchemaVersion: events.SchemaVersion,
		OrderID:       fmt.Sprintf("perp:%s:%d", ev.Order.Symbol, ev.Order.OrderID),
		IntentID:      ev.Order.ClientID,
		Symbol:        ev.Order.Symbol,
		Market:        events.MarketPerp,
		Side:          side,
		Status:        parseStatus(ev.Order.Status),
		FilledQty:     parseFloat(ev.Order.CumQty),
		AvgPrice:      parseFloat(ev.Order.AvgPrice),
		Fee:           0,
		TS:            time.UnixMilli(ev.EventTimeMs).UTC(),
	}
}

func alertEvent(market, severity, message string) StreamEvent {
	return StreamEvent{
		Type: StreamEventAlert,
		Alert: &Alert{
			Market:   market,
			Severity: severity,
			Message:  message,
			TS:       time.Now().UTC(),
		},
	}
}

// consumeUserStream runs one market's user-data websocket, reconnecting
// with a 2s backoff on any failure.
func (a *BinanceAdapter) consumeUserStream(ctx context.Context, market string, out chan<- StreamEvent) {
	wsBase := a.perpWSBase
	if market == events.MarketSpot {
		wsBase = a.spotWSBase
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.runUserStreamOnce(ctx, market, wsBase, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("binance %s user stream loop error: %v", market, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *BinanceAdapter) runUserStreamOnce(ctx context.Context, market, wsBase string, out chan<- StreamEvent) error {
	listenKey, err := a.createListenKey(ctx, market)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keepaliveErr := make(chan error, 1)
	go func() {
		keepaliveErr <- a.keepaliveListenKey(streamCtx, market, listenKey)
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(streamCtx, wsBase+"/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("dial %s user stream: %w", market, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the context dies.
	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()

	for {
		select {
		case err := <-keepaliveErr:
			if streamCtx.Err() != nil {
				return streamCtx.Err()
			}
			msg := fmt.Sprintf("Binance %s listenKey keepalive failed; reconnecting stream. error=%v", market, err)
			sendStreamEvent(streamCtx, out, alertEvent(market, "error", msg))
			return fmt.Errorf("%s", msg)
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Minute))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if streamCtx.Err() != nil {
				return streamCtx.Err()
			}
			return fmt.Errorf("read %s user stream: %w", market, err)
		}

		var probe struct {
			EventType string `json:"e"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.EventType == "listenKeyExpired" {
			msg := fmt.Sprintf("Binance %s listenKey expired; reconnecting stream.", market)
			sendStreamEvent(streamCtx, out, alertEvent(market, "warning", msg))
			return fmt.Errorf("%s", msg)
		}

		if report := a.parseUserDataEvent(market, raw); report != nil {
			sendStreamEvent(streamCtx, out, StreamEvent{Type: StreamEventExecution, Report: report})
		}
	}
}

func sendStreamEvent(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func (a *BinanceAdapter) StreamExecutionEvents(ctx context.Context) (<-chan StreamEvent, error) {
	out := make(chan StreamEvent, 64)
	streamCtx, cancel := context.WithCancel(ctx)

	done := make(chan struct{}, 2)
	run := func(market string) {
		a.consumeUserStream(streamCtx, market, out)
		done <- struct{}{}
	}
	go run(events.MarketSpot)
	go run(events.MarketPerp)

	go func() {
		<-done
		<-done
		cancel()
		close(out)
	}()
	return out, nil
}
