package signal

import (
	"math"
	"time"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

// conflictWindow is how close in time an opposite-side signal must be
// to count as a conflict.
const conflictWindow = 30 * time.Minute

// FusionService is the signal.raw -> signal.tradeable stage. It drops
// flat, low-confidence and stale signals, suppresses close-in-time
// conflicts, and rescales strength by confidence. State is the last
// emitted signal per symbol.
type FusionService struct {
	minConfidence float64
	lastSignal    map[string]*events.SignalEvent
	now           func() time.Time
}

func NewFusionService(minConfidence float64) *FusionService {
	return &FusionService{
		minConfidence: minConfidence,
		lastSignal:    make(map[string]*events.SignalEvent),
		now:           time.Now,
	}
}

func (s *FusionService) Handle(payload []byte) ([]bus.Output, error) {
	sig, err := events.DecodeSignal(payload)
	if err != nil {
		return nil, err
	}

	if sig.Side == 0 {
		return nil, nil
	}
	if sig.Confidence < s.minConfidence {
		return nil, nil
	}
	if sig.Stale(s.now()) {
		return nil, nil
	}

	if prev, ok := s.lastSignal[sig.Symbol]; ok {
		delta := sig.GeneratedAt.Sub(prev.GeneratedAt)
		if delta < 0 {
			delta = -delta
		}
		opposite := sig.Side != prev.Side
		closeStrength := math.Abs(sig.Strength-prev.Strength) < 0.2
		if opposite && delta <= conflictWindow && closeStrength {
			return nil, nil
		}
	}

	fusedStrength := sig.Strength * (0.8 + 0.2*sig.Confidence)
	if fusedStrength > 1 {
		fusedStrength = 1
	}

	fused := *sig
	fused.Strength = fusedStrength
	fused.GeneratedAt = s.now().UTC()
	fused.Rationale = "fused: " + sig.Rationale
	s.lastSignal[sig.Symbol] = &fused

	data, err := events.Marshal(&fused)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamSignalTradeable, Payload: data}}, nil
}
