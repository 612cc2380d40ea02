// Package portfolio sizes tradable signals into order intents.
package portfolio

import (
	"fmt"

	"github.com/google/uuid"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

// Service is the signal.universe -> order.intent stage.
type Service struct {
	equityUSD       float64
	riskPerTradePct float64
	maxSlippageBps  int
}

func New(equityUSD, riskPerTradePct float64, maxSlippageBps int) *Service {
	return &Service{
		equityUSD:       equityUSD,
		riskPerTradePct: riskPerTradePct,
		maxSlippageBps:  maxSlippageBps,
	}
}

func (s *Service) Handle(payload []byte) ([]bus.Output, error) {
	sig, err := events.DecodeSignal(payload)
	if err != nil {
		return nil, err
	}

	base := s.equityUSD * s.riskPerTradePct
	strength := sig.Strength
	if strength < 0.2 {
		strength = 0.2
	}
	qtyUSD := base * strength
	if qtyUSD < 10 {
		qtyUSD = 10
	}

	market := events.MarketPerp
	if sig.Side > 0 {
		market = events.MarketSpot
	}

	intent := events.OrderIntent{
		SchemaVersion:  events.SchemaVersion,
		IntentID:       newIntentID(),
		EventID:        sig.EventID,
		Symbol:         sig.Symbol,
		Market:         market,
		Side:           sig.Side,
		QtyUSD:         qtyUSD,
		MaxSlippageBps: s.maxSlippageBps,
		Reason:         fmt.Sprintf("signal strength=%.3f conf=%.3f", sig.Strength, sig.Confidence),
	}
	data, err := events.Marshal(&intent)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamOrderIntent, Payload: data}}, nil
}

func newIntentID() string {
	id := uuid.New()
	hexID := fmt.Sprintf("%x", id[:])
	return hexID[:20]
}
