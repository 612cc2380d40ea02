// Package state tracks USD exposures per symbol, market and side, the
// running total, and daily realized PnL. All writes are atomic
// increment-by-delta so the risk stage never read-modify-writes across
// a suspension point.
package state

import "context"

// Store is the trading state contract shared by risk and position-sync.
type Store interface {
	SymbolExposure(ctx context.Context, symbol string) (float64, error)
	AddSymbolExposure(ctx context.Context, symbol string, delta float64) error

	TotalExposure(ctx context.Context) (float64, error)
	AddTotalExposure(ctx context.Context, delta float64) error

	MarketExposure(ctx context.Context, market string) (float64, error)
	AddMarketExposure(ctx context.Context, market string, delta float64) error

	SideExposure(ctx context.Context, side int) (float64, error)
	AddSideExposure(ctx context.Context, side int, delta float64) error

	// ReplaceExposureSnapshot atomically clears every exposure map and
	// writes the given snapshot. Position-sync uses it to re-anchor the
	// store on exchange truth.
	ReplaceExposureSnapshot(ctx context.Context, snap ExposureSnapshot) error

	DailyRealizedPnL(ctx context.Context) (float64, error)
	AddDailyRealizedPnL(ctx context.Context, delta float64) error
}

// ExposureSnapshot is a full replacement of the exposure maps.
type ExposureSnapshot struct {
	SymbolExposure map[string]float64
	MarketExposure map[string]float64
	SideExposure   map[string]float64 // keys "long" and "short"
	TotalExposure  float64
}

func sideKey(side int) string {
	if side > 0 {
		return "long"
	}
	return "short"
}
