package events

import (
	"fmt"
	"time"
)

// SchemaVersion is stamped on every event.
const SchemaVersion = "1.0"

// Order statuses as they appear on execution reports.
const (
	StatusNew             = "new"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusRejected        = "rejected"
	StatusCanceled        = "canceled"
)

// Markets an intent can target.
const (
	MarketSpot = "spot"
	MarketPerp = "perp"
)

// NewsEvent is a raw news item produced by ingest. Immutable once published.
type NewsEvent struct {
	SchemaVersion string    `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Source        string    `json:"source"`
	PublishedAt   time.Time `json:"published_at"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Lang          string    `json:"lang"`
	URL           string    `json:"url"`
	DedupHash     string    `json:"dedup_hash"`
}

func (e *NewsEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("news event: empty event_id")
	}
	if e.PublishedAt.IsZero() {
		return fmt.Errorf("news event %s: missing published_at", e.EventID)
	}
	return nil
}

// EntityEvent carries the symbols and tags extracted from a news item.
// Symbols is always non-empty, sorted and de-duplicated.
type EntityEvent struct {
	SchemaVersion  string   `json:"schema_version"`
	EventID        string   `json:"event_id"`
	Symbols        []string `json:"symbols"`
	Tags           []string `json:"tags"`
	Regions        []string `json:"regions"`
	RelevanceScore float64  `json:"relevance_score"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
}

func (e *EntityEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("entity event: empty event_id")
	}
	if len(e.Symbols) == 0 {
		return fmt.Errorf("entity event %s: empty symbols", e.EventID)
	}
	if e.RelevanceScore < 0 || e.RelevanceScore > 1 {
		return fmt.Errorf("entity event %s: relevance_score %.3f out of range", e.EventID, e.RelevanceScore)
	}
	return nil
}

// SignalEvent is a per-symbol directional view derived from an entity event.
type SignalEvent struct {
	SchemaVersion string    `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Symbol        string    `json:"symbol"`
	Side          int       `json:"side"`
	Strength      float64   `json:"strength"`
	Confidence    float64   `json:"confidence"`
	HorizonMin    int       `json:"horizon_min"`
	TTLSec        int       `json:"ttl_sec"`
	Rationale     string    `json:"rationale"`
	GeneratedAt   time.Time `json:"generated_at"`
}

func (e *SignalEvent) Validate() error {
	if e.EventID == "" || e.Symbol == "" {
		return fmt.Errorf("signal event: empty event_id or symbol")
	}
	if e.Side < -1 || e.Side > 1 {
		return fmt.Errorf("signal %s/%s: side %d", e.EventID, e.Symbol, e.Side)
	}
	if e.Strength < 0 || e.Strength > 1 {
		return fmt.Errorf("signal %s/%s: strength %.3f out of range", e.EventID, e.Symbol, e.Strength)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("signal %s/%s: confidence %.3f out of range", e.EventID, e.Symbol, e.Confidence)
	}
	if e.HorizonMin < 1 {
		return fmt.Errorf("signal %s/%s: horizon_min %d", e.EventID, e.Symbol, e.HorizonMin)
	}
	if e.TTLSec < 1 {
		return fmt.Errorf("signal %s/%s: ttl_sec %d", e.EventID, e.Symbol, e.TTLSec)
	}
	return nil
}

// Stale reports whether the signal has outlived its TTL at the given time.
func (e *SignalEvent) Stale(now time.Time) bool {
	return now.Sub(e.GeneratedAt) > time.Duration(e.TTLSec)*time.Second
}

// OrderIntent is a sized trade request produced by the portfolio stage.
type OrderIntent struct {
	SchemaVersion  string  `json:"schema_version"`
	IntentID       string  `json:"intent_id"`
	EventID        string  `json:"event_id"`
	Symbol         string  `json:"symbol"`
	Market         string  `json:"market"`
	Side           int     `json:"side"`
	QtyUSD         float64 `json:"qty_usd"`
	MaxSlippageBps int     `json:"max_slippage_bps"`
	Reason         string  `json:"reason"`
}

func (e *OrderIntent) Validate() error {
	if e.IntentID == "" {
		return fmt.Errorf("order intent: empty intent_id")
	}
	if e.Market != MarketSpot && e.Market != MarketPerp {
		return fmt.Errorf("intent %s: market %q", e.IntentID, e.Market)
	}
	if e.Side != -1 && e.Side != 1 {
		return fmt.Errorf("intent %s: side %d", e.IntentID, e.Side)
	}
	if e.QtyUSD <= 0 {
		return fmt.Errorf("intent %s: qty_usd %.2f", e.IntentID, e.QtyUSD)
	}
	if e.MaxSlippageBps < 1 || e.MaxSlippageBps > 200 {
		return fmt.Errorf("intent %s: max_slippage_bps %d out of range", e.IntentID, e.MaxSlippageBps)
	}
	return nil
}

// RiskDecision records the outcome of gating an order intent.
type RiskDecision struct {
	SchemaVersion string  `json:"schema_version"`
	IntentID      string  `json:"intent_id"`
	Allow         bool    `json:"allow"`
	ReasonCode    string  `json:"reason_code"`
	CappedQtyUSD  float64 `json:"capped_qty_usd"`
}

func (e *RiskDecision) Validate() error {
	if e.IntentID == "" {
		return fmt.Errorf("risk decision: empty intent_id")
	}
	if e.CappedQtyUSD < 0 {
		return fmt.Errorf("risk decision %s: capped_qty_usd %.2f", e.IntentID, e.CappedQtyUSD)
	}
	return nil
}

// ExecutionReport describes an order's observed state at the venue.
type ExecutionReport struct {
	SchemaVersion string    `json:"schema_version"`
	OrderID       string    `json:"order_id"`
	IntentID      string    `json:"intent_id"`
	Symbol        string    `json:"symbol"`
	Market        string    `json:"market"`
	Side          int       `json:"side"`
	Status        string    `json:"status"`
	FilledQty     float64   `json:"filled_qty"`
	AvgPrice      float64   `json:"avg_price"`
	Fee           float64   `json:"fee"`
	TS            time.Time `json:"ts"`
}

var validStatuses = map[string]bool{
	StatusNew:             true,
	StatusPartiallyFilled: true,
	StatusFilled:          true,
	StatusRejected:        true,
	StatusCanceled:        true,
}

func (e *ExecutionReport) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("execution report: empty order_id")
	}
	if e.Market != MarketSpot && e.Market != MarketPerp {
		return fmt.Errorf("report %s: market %q", e.OrderID, e.Market)
	}
	if e.Side != -1 && e.Side != 1 {
		return fmt.Errorf("report %s: side %d", e.OrderID, e.Side)
	}
	if !validStatuses[e.Status] {
		return fmt.Errorf("report %s: status %q", e.OrderID, e.Status)
	}
	if e.FilledQty < 0 || e.AvgPrice < 0 || e.Fee < 0 {
		return fmt.Errorf("report %s: negative qty/price/fee", e.OrderID)
	}
	return nil
}

// PnLSnapshot is an account-level PnL and exposure summary.
type PnLSnapshot struct {
	SchemaVersion string    `json:"schema_version"`
	TS            time.Time `json:"ts"`
	Account       string    `json:"account"`
	Unrealized    float64   `json:"unrealized"`
	Realized      float64   `json:"realized"`
	Exposure      float64   `json:"exposure"`
	Drawdown      float64   `json:"drawdown"`
}

func (e *PnLSnapshot) Validate() error {
	if e.TS.IsZero() {
		return fmt.Errorf("pnl snapshot: missing ts")
	}
	return nil
}

// RiskAlert is a human-facing warning published on risk.alert.
type RiskAlert struct {
	SchemaVersion string  `json:"schema_version"`
	Message       string  `json:"message"`
	Severity      string  `json:"severity,omitempty"`
	Source        string  `json:"source,omitempty"`
	Drawdown      float64 `json:"drawdown,omitempty"`
}
