// Package persist writes pipeline events to Postgres with idempotent
// upserts, and owns the execution-state merge.
package persist

import (
	"time"

	"newstrade/internal/events"
)

// statusRank orders execution statuses for the merge. Terminal states
// share the top rank; ties break on timestamp.
var statusRank = map[string]int{
	events.StatusNew:             0,
	events.StatusPartiallyFilled: 1,
	events.StatusFilled:          3,
	events.StatusRejected:        3,
	events.StatusCanceled:        3,
}

// ExecutionState is the merged per-order row.
type ExecutionState struct {
	OrderID   string
	IntentID  string
	Symbol    string
	Market    string
	Side      int
	Status    string
	FilledQty float64
	AvgPrice  float64
	Fee       float64
	TS        time.Time
}

// MergeExecutionState folds an incoming report into the current row.
// Status never regresses from a terminal rank; filled_qty and fee are
// monotonically non-decreasing; avg_price follows the larger fill.
func MergeExecutionState(current *ExecutionState, incoming *events.ExecutionReport) ExecutionState {
	if current == nil {
		return ExecutionState{
			OrderID:   incoming.OrderID,
			IntentID:  incoming.IntentID,
			Symbol:    incoming.Symbol,
			Market:    incoming.Market,
			Side:      incoming.Side,
			Status:    incoming.Status,
			FilledQty: incoming.FilledQty,
			AvgPrice:  incoming.AvgPrice,
			Fee:       incoming.Fee,
			TS:        incoming.TS,
		}
	}

	currentRank := statusRank[current.Status]
	incomingRank := statusRank[incoming.Status]

	status := current.Status
	if incomingRank > currentRank || (incomingRank == currentRank && !incoming.TS.Before(current.TS)) {
		status = incoming.Status
	}

	merged := ExecutionState{
		OrderID:   incoming.OrderID,
		IntentID:  incoming.IntentID,
		Symbol:    incoming.Symbol,
		Market:    incoming.Market,
		Side:      incoming.Side,
		Status:    status,
		FilledQty: current.FilledQty,
		AvgPrice:  current.AvgPrice,
		Fee:       current.Fee,
		TS:        current.TS,
	}
	if merged.IntentID == "" {
		merged.IntentID = current.IntentID
	}
	if incoming.FilledQty > merged.FilledQty {
		merged.FilledQty = incoming.FilledQty
	}
	if incoming.Fee > merged.Fee {
		merged.Fee = incoming.Fee
	}
	if incoming.TS.After(merged.TS) {
		merged.TS = incoming.TS
	}
	if incoming.FilledQty >= current.FilledQty {
		merged.AvgPrice = incoming.AvgPrice
	}
	return merged
}
