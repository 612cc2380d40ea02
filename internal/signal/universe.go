package signal

import (
	"strings"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

// UniverseService is the signal.tradeable -> signal.universe stage:
// drop anything outside the configured tradable set, pass the rest
// through unchanged.
type UniverseService struct {
	quoteSuffix string
	universe    map[string]bool
}

func NewUniverseService(universe map[string]bool) *UniverseService {
	return &UniverseService{quoteSuffix: "USDT", universe: universe}
}

func (s *UniverseService) Handle(payload []byte) ([]bus.Output, error) {
	sig, err := events.DecodeSignal(payload)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(sig.Symbol, s.quoteSuffix) {
		return nil, nil
	}
	if !s.universe[sig.Symbol] {
		return nil, nil
	}
	return []bus.Output{{Stream: events.StreamSignalUniverse, Payload: payload}}, nil
}
