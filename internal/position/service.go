// Package position maintains per-(market,symbol) positions from
// execution reports and realizes PnL on closing fills.
package position

import (
	"math"
	"time"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

type bookKey struct {
	market string
	symbol string
}

// Service is the execution.report -> pnl.snapshot stage. The realized
// trail accumulates across every position.
type Service struct {
	positions map[bookKey]float64
	avgCost   map[bookKey]float64
	realized  float64
	account   string
	now       func() time.Time
}

func New() *Service {
	return &Service{
		positions: make(map[bookKey]float64),
		avgCost:   make(map[bookKey]float64),
		account:   "paper",
		now:       time.Now,
	}
}

// Realized returns the accumulated realized PnL.
func (s *Service) Realized() float64 {
	return s.realized
}

// Position returns the signed quantity for a (market, symbol) pair.
func (s *Service) Position(market, symbol string) float64 {
	return s.positions[bookKey{market: market, symbol: symbol}]
}

// Handle applies one fill. Same-sign fills blend avg_cost by size;
// opposite-sign fills realize sign(prev)*(price-avg_cost)*closing.
// When a fill flips the position the residual keeps the old avg_cost.
func (s *Service) Handle(payload []byte) ([]bus.Output, error) {
	report, err := events.DecodeExecutionReport(payload)
	if err != nil {
		return nil, err
	}

	key := bookKey{market: report.Market, symbol: report.Symbol}
	qty := report.FilledQty
	if report.Side < 0 {
		qty = -qty
	}
	prevQty := s.positions[key]
	newQty := prevQty + qty

	if prevQty == 0 || (prevQty > 0) == (qty > 0) {
		prevCost, ok := s.avgCost[key]
		if !ok {
			prevCost = report.AvgPrice
		}
		weightedQty := math.Abs(prevQty) + math.Abs(qty)
		s.avgCost[key] = (prevCost*math.Abs(prevQty) + report.AvgPrice*math.Abs(qty)) / math.Max(weightedQty, 1e-9)
	} else {
		entry, ok := s.avgCost[key]
		if !ok {
			entry = report.AvgPrice
		}
		closing := math.Min(math.Abs(prevQty), math.Abs(qty))
		direction := 1.0
		if prevQty < 0 {
			direction = -1.0
		}
		s.realized += direction * (report.AvgPrice - entry) * closing
	}

	s.positions[key] = newQty

	var exposure float64
	for _, q := range s.positions {
		exposure += math.Abs(q)
	}
	drawdown := math.Max(0, -s.realized/100000.0)

	snapshot := events.PnLSnapshot{
		SchemaVersion: events.SchemaVersion,
		TS:            s.now().UTC(),
		Account:       s.account,
		Unrealized:    0,
		Realized:      s.realized - report.Fee,
		Exposure:      exposure,
		Drawdown:      drawdown,
	}
	data, err := events.Marshal(&snapshot)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamPnLSnapshot, Payload: data}}, nil
}
