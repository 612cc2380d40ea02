// Package risk gates order intents against multi-dimensional exposure
// limits and latches a kill switch on daily drawdown breach.
package risk

import (
	"context"
	"log"
	"sync"

	"newstrade/internal/bus"
	"newstrade/internal/events"
	"newstrade/internal/state"
)

// Reason codes on rejected intents.
const (
	ReasonDailyDrawdown  = "DAILY_DRAWDOWN_BREACH"
	ReasonSymbolExposure = "SYMBOL_EXPOSURE_LIMIT"
	ReasonMarketExposure = "MARKET_EXPOSURE_LIMIT"
	ReasonSideExposure   = "SIDE_EXPOSURE_LIMIT"
	ReasonTotalExposure  = "TOTAL_EXPOSURE_LIMIT"
)

// Limits are the per-dimension exposure caps derived from equity.
type Limits struct {
	EquityUSD            float64
	MaxSymbolExposurePct float64
	MaxTotalExposurePct  float64
	MaxSpotExposurePct   float64
	MaxPerpExposurePct   float64
	MaxLongExposurePct   float64
	MaxShortExposurePct  float64
	MaxDailyDrawdownPct  float64
}

// Service consumes order.intent and pnl.snapshot. The intent and
// snapshot handlers run on separate workers, so the latched state is
// mutex-guarded.
type Service struct {
	limits Limits
	store  state.Store

	mu           sync.Mutex
	killSwitch   bool
	lastRealized float64
}

func New(limits Limits, store state.Store) *Service {
	return &Service{limits: limits, store: store}
}

// KillSwitch reports whether the latch is set. Once set it never clears.
func (s *Service) KillSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch
}

func (s *Service) setKillSwitch() {
	s.mu.Lock()
	if !s.killSwitch {
		log.Printf("risk: kill switch engaged")
	}
	s.killSwitch = true
	s.mu.Unlock()
}

func (s *Service) drawdownBreached(ctx context.Context) (bool, error) {
	realized, err := s.store.DailyRealizedPnL(ctx)
	if err != nil {
		return false, err
	}
	limit := s.limits.EquityUSD * s.limits.MaxDailyDrawdownPct
	return realized <= -limit, nil
}

func (s *Service) reject(intentID, reasonCode string) ([]bus.Output, error) {
	decision := events.RiskDecision{
		SchemaVersion: events.SchemaVersion,
		IntentID:      intentID,
		Allow:         false,
		ReasonCode:    reasonCode,
		CappedQtyUSD:  0,
	}
	data, err := events.Marshal(&decision)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamOrderRejected, Payload: data}}, nil
}

// HandleOrderIntent gates one intent: kill switch and drawdown first,
// then the four exposure dimensions; an approval atomically reserves
// the capped quantity on every counter.
func (s *Service) HandleOrderIntent(ctx context.Context, payload []byte) ([]bus.Output, error) {
	intent, err := events.DecodeIntent(payload)
	if err != nil {
		return nil, err
	}

	breached, err := s.drawdownBreached(ctx)
	if err != nil {
		return nil, err
	}
	if s.KillSwitch() || breached {
		s.setKillSwitch()
		return s.reject(intent.IntentID, ReasonDailyDrawdown)
	}

	symbolLimit := s.limits.EquityUSD * s.limits.MaxSymbolExposurePct
	totalLimit := s.limits.EquityUSD * s.limits.MaxTotalExposurePct
	marketPct := s.limits.MaxSpotExposurePct
	if intent.Market == events.MarketPerp {
		marketPct = s.limits.MaxPerpExposurePct
	}
	marketLimit := s.limits.EquityUSD * marketPct
	sidePct := s.limits.MaxShortExposurePct
	if intent.Side > 0 {
		sidePct = s.limits.MaxLongExposurePct
	}
	sideLimit := s.limits.EquityUSD * sidePct

	currentSymbol, err := s.store.SymbolExposure(ctx, intent.Symbol)
	if err != nil {
		return nil, err
	}
	currentTotal, err := s.store.TotalExposure(ctx)
	if err != nil {
		return nil, err
	}
	currentMarket, err := s.store.MarketExposure(ctx, intent.Market)
	if err != nil {
		return nil, err
	}
	currentSide, err := s.store.SideExposure(ctx, intent.Side)
	if err != nil {
		return nil, err
	}

	allowedSymbol := max0(symbolLimit - currentSymbol)
	allowedTotal := max0(totalLimit - currentTotal)
	allowedMarket := max0(marketLimit - currentMarket)
	allowedSide := max0(sideLimit - currentSide)

	cap := intent.QtyUSD
	for _, allowed := range []float64{allowedSymbol, allowedTotal, allowedMarket, allowedSide} {
		if allowed < cap {
			cap = allowed
		}
	}

	if cap <= 0 {
		reasonCode := ReasonTotalExposure
		switch {
		case allowedSymbol <= 0:
			reasonCode = ReasonSymbolExposure
		case allowedMarket <= 0:
			reasonCode = ReasonMarketExposure
		case allowedSide <= 0:
			reasonCode = ReasonSideExposure
		}
		return s.reject(intent.IntentID, reasonCode)
	}

	if err := s.store.AddSymbolExposure(ctx, intent.Symbol, cap); err != nil {
		return nil, err
	}
	if err := s.store.AddTotalExposure(ctx, cap); err != nil {
		return nil, err
	}
	if err := s.store.AddMarketExposure(ctx, intent.Market, cap); err != nil {
		return nil, err
	}
	if err := s.store.AddSideExposure(ctx, intent.Side, cap); err != nil {
		return nil, err
	}

	approved := *intent
	approved.QtyUSD = cap
	data, err := events.Marshal(&approved)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamOrderApproved, Payload: data}}, nil
}

// HandlePnLSnapshot feeds realized-PnL deltas into the daily counter
// and alerts once a drawdown breach latches the kill switch.
func (s *Service) HandlePnLSnapshot(ctx context.Context, payload []byte) ([]bus.Output, error) {
	snapshot, err := events.DecodePnL(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delta := snapshot.Realized - s.lastRealized
	s.lastRealized = snapshot.Realized
	s.mu.Unlock()

	if err := s.store.AddDailyRealizedPnL(ctx, delta); err != nil {
		return nil, err
	}

	breached, err := s.drawdownBreached(ctx)
	if err != nil {
		return nil, err
	}
	if !breached {
		return nil, nil
	}
	s.setKillSwitch()

	alert := events.RiskAlert{
		SchemaVersion: events.SchemaVersion,
		Message:       "Daily drawdown breached. Strategy halted.",
		Drawdown:      snapshot.Drawdown,
	}
	data, err := events.Marshal(&alert)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamRiskAlert, Payload: data}}, nil
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
