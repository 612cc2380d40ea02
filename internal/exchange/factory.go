package exchange

import (
	"time"

	"newstrade/pkg/config"
)

// Build selects the adapter for the configured execution mode: paper
// gets the simulator, live gets Binance.
func Build(cfg *config.Config) (Adapter, error) {
	if cfg.ExecutionMode == "paper" {
		return NewSimulatedAdapter(), nil
	}
	return NewBinanceAdapter(BinanceConfig{
		APIKey:       cfg.BinanceAPIKey,
		APISecret:    cfg.BinanceAPISecret,
		UseTestnet:   cfg.BinanceUseTestnet,
		RecvWindowMs: cfg.BinanceRecvWindowMs,
		Timeout:      10 * time.Second,
	})
}
