// Package exchange defines the adapter contract between the execution
// stage and a venue, plus the simulated and Binance implementations.
package exchange

import (
	"context"
	"math"
	"time"

	"newstrade/internal/events"
)

// Position is one open position as reported by the venue.
type Position struct {
	Market      string   `json:"market"`
	Symbol      string   `json:"symbol"`
	Qty         float64  `json:"qty"`
	NotionalUSD *float64 `json:"notional_usd"`
}

// Notional returns the position's USD notional, falling back to |qty|
// when the venue did not report one.
func (p Position) Notional() float64 {
	if p.NotionalUSD == nil {
		return math.Abs(p.Qty)
	}
	return math.Abs(*p.NotionalUSD)
}

// Stream event types emitted by StreamExecutionEvents.
const (
	StreamEventExecution = "execution"
	StreamEventAlert     = "alert"
)

// StreamEvent is one item from the venue's live event stream: either a
// normalized execution report or an operational alert.
type StreamEvent struct {
	Type   string
	Report *events.ExecutionReport
	Alert  *Alert
}

// Alert is an operational warning from the adapter itself.
type Alert struct {
	Market   string    `json:"market"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	TS       time.Time `json:"ts"`
}

// Adapter is the venue capability set. order_id is always
// "market:symbol:exchange_order_id".
type Adapter interface {
	PlaceOrder(ctx context.Context, intent *events.OrderIntent) (*events.ExecutionReport, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	FetchPositions(ctx context.Context) ([]Position, error)
	// StreamExecutionEvents starts the venue's live stream. The channel
	// closes when the context is cancelled.
	StreamExecutionEvents(ctx context.Context) (<-chan StreamEvent, error)
}
