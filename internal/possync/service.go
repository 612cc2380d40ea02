// Package possync reconciles state-store exposures against exchange
// truth on a timer, alerting when drift exceeds the threshold.
package possync

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"newstrade/internal/bus"
	"newstrade/internal/events"
	"newstrade/internal/exchange"
	"newstrade/internal/state"
)

// Config is the sync cadence and alert threshold.
type Config struct {
	ExecutionMode    string
	EquityUSD        float64
	Interval         time.Duration
	DriftAlertPct    float64
}

// Service rebuilds the exposure snapshot from adapter positions.
type Service struct {
	cfg     Config
	adapter exchange.Adapter
	store   state.Store
	bus     bus.EventBus
}

func New(cfg Config, adapter exchange.Adapter, store state.Store, b bus.EventBus) *Service {
	return &Service{cfg: cfg, adapter: adapter, store: store, bus: b}
}

// Result summarizes one sync pass.
type Result struct {
	Skipped       bool
	SkipReason    string
	Positions     int
	TotalExposure float64
	DriftPct      float64
}

// BuildSnapshot aggregates venue positions into per-symbol, per-market
// and per-side notionals. Positions without a notional count as |qty|.
func BuildSnapshot(positions []exchange.Position) state.ExposureSnapshot {
	snap := state.ExposureSnapshot{
		SymbolExposure: make(map[string]float64),
		MarketExposure: make(map[string]float64),
		SideExposure:   map[string]float64{"long": 0, "short": 0},
	}

	for _, pos := range positions {
		symbol := strings.ToUpper(pos.Symbol)
		market := strings.ToLower(pos.Market)
		if symbol == "" || market == "" {
			continue
		}
		notional := pos.Notional()
		if notional <= 0 {
			continue
		}

		snap.SymbolExposure[symbol] += notional
		snap.MarketExposure[market] += notional
		if pos.Qty >= 0 {
			snap.SideExposure["long"] += notional
		} else {
			snap.SideExposure["short"] += notional
		}
	}

	for _, notional := range snap.MarketExposure {
		snap.TotalExposure += notional
	}
	return snap
}

// RunOnce performs one reconciliation pass. Skips unless live.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	if s.cfg.ExecutionMode != "live" {
		return Result{Skipped: true, SkipReason: "execution_mode_not_live"}, nil
	}

	positions, err := s.adapter.FetchPositions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch positions: %w", err)
	}
	snap := BuildSnapshot(positions)

	currentTotal, err := s.store.TotalExposure(ctx)
	if err != nil {
		return Result{}, err
	}
	equity := math.Max(s.cfg.EquityUSD, 1)
	driftPct := math.Abs(snap.TotalExposure-currentTotal) / equity

	if driftPct >= s.cfg.DriftAlertPct {
		alert := events.RiskAlert{
			SchemaVersion: events.SchemaVersion,
			Message: fmt.Sprintf(
				"Position sync drift detected and reconciled. current_total=%.2f desired_total=%.2f drift_pct=%.4f",
				currentTotal, snap.TotalExposure, driftPct),
			Severity: "warning",
			Source:   "position-sync-service",
		}
		data, err := events.Marshal(&alert)
		if err != nil {
			return Result{}, err
		}
		if _, err := s.bus.Publish(ctx, events.StreamRiskAlert, data); err != nil {
			return Result{}, fmt.Errorf("publish drift alert: %w", err)
		}
	}

	if err := s.store.ReplaceExposureSnapshot(ctx, snap); err != nil {
		return Result{}, fmt.Errorf("replace exposure snapshot: %w", err)
	}

	return Result{
		Positions:     len(positions),
		TotalExposure: snap.TotalExposure,
		DriftPct:      driftPct,
	}, nil
}

// Run loops until the context is cancelled. Errors are logged; the
// next tick retries.
func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := s.RunOnce(ctx)
		if err != nil {
			log.Printf("position-sync: failed: %v", err)
		} else if !result.Skipped {
			log.Printf("position-sync: positions=%d total_exposure=%.2f drift_pct=%.4f",
				result.Positions, result.TotalExposure, result.DriftPct)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
