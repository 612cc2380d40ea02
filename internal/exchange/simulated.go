package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"newstrade/internal/events"
)

// SimulatedAdapter fills every order instantly at a jittered reference
// price. Used in paper mode.
type SimulatedAdapter struct {
	mu         sync.Mutex
	basePrices map[string]float64
	positions  map[positionKey]float64
}

type positionKey struct {
	market string
	symbol string
}

func NewSimulatedAdapter() *SimulatedAdapter {
	return &SimulatedAdapter{
		basePrices: map[string]float64{
			"BTCUSDT":  65000.0,
			"ETHUSDT":  3200.0,
			"BNBUSDT":  580.0,
			"SOLUSDT":  140.0,
			"XRPUSDT":  0.62,
			"ADAUSDT":  0.47,
			"DOGEUSDT": 0.12,
			"LINKUSDT": 19.0,
			"AVAXUSDT": 34.0,
			"TONUSDT":  6.8,
		},
		positions: make(map[positionKey]float64),
	}
}

func (a *SimulatedAdapter) price(symbol string) float64 {
	base, ok := a.basePrices[symbol]
	if !ok {
		base = 10.0
	}
	jitter := 1 + (rand.Float64()*2-1)*0.0015
	px := base * jitter
	if px < 0.0001 {
		px = 0.0001
	}
	return px
}

func (a *SimulatedAdapter) PlaceOrder(ctx context.Context, intent *events.OrderIntent) (*events.ExecutionReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	px := a.price(intent.Symbol)
	qty := intent.QtyUSD / px
	fee := intent.QtyUSD * 0.0004

	key := positionKey{market: intent.Market, symbol: intent.Symbol}
	signedQty := qty
	if intent.Side < 0 {
		signedQty = -qty
	}
	a.positions[key] += signedQty

	return &events.ExecutionReport{
		SchemaVersion: events.SchemaVersion,
		OrderID:       fmt.Sprintf("paper-%s", uuid.NewString()[:16]),
		IntentID:      intent.IntentID,
		Symbol:        intent.Symbol,
		Market:        intent.Market,
		Side:          intent.Side,
		Status:        events.StatusFilled,
		FilledQty:     qty,
		AvgPrice:      px,
		Fee:           fee,
		TS:            time.Now().UTC(),
	}, nil
}

func (a *SimulatedAdapter) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return true, nil
}

func (a *SimulatedAdapter) FetchPositions(ctx context.Context) ([]Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Position, 0, len(a.positions))
	for key, qty := range a.positions {
		base, ok := a.basePrices[key.symbol]
		if !ok {
			base = 10.0
		}
		notional := qty * base
		if notional < 0 {
			notional = -notional
		}
		out = append(out, Position{
			Market:      key.market,
			Symbol:      key.symbol,
			Qty:         qty,
			NotionalUSD: &notional,
		})
	}
	return out, nil
}

// StreamExecutionEvents yields nothing: simulated fills are returned
// synchronously from PlaceOrder.
func (a *SimulatedAdapter) StreamExecutionEvents(ctx context.Context) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
