package state

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps trading state in process. Used for paper mode and
// tests; counters are guarded by one mutex so adds stay atomic.
type MemoryStore struct {
	mu             sync.Mutex
	symbolExposure map[string]float64
	marketExposure map[string]float64
	sideExposure   map[string]float64
	totalExposure  float64
	dailyRealized  float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		symbolExposure: make(map[string]float64),
		marketExposure: make(map[string]float64),
		sideExposure:   make(map[string]float64),
	}
}

func (s *MemoryStore) SymbolExposure(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbolExposure[strings.ToUpper(symbol)], nil
}

func (s *MemoryStore) AddSymbolExposure(ctx context.Context, symbol string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbolExposure[strings.ToUpper(symbol)] += delta
	return nil
}

func (s *MemoryStore) TotalExposure(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalExposure, nil
}

func (s *MemoryStore) AddTotalExposure(ctx context.Context, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalExposure += delta
	return nil
}

func (s *MemoryStore) MarketExposure(ctx context.Context, market string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketExposure[strings.ToLower(market)], nil
}

func (s *MemoryStore) AddMarketExposure(ctx context.Context, market string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketExposure[strings.ToLower(market)] += delta
	return nil
}

func (s *MemoryStore) SideExposure(ctx context.Context, side int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideExposure[sideKey(side)], nil
}

func (s *MemoryStore) AddSideExposure(ctx context.Context, side int, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sideExposure[sideKey(side)] += delta
	return nil
}

func (s *MemoryStore) ReplaceExposureSnapshot(ctx context.Context, snap ExposureSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.symbolExposure = make(map[string]float64, len(snap.SymbolExposure))
	for symbol, exposure := range snap.SymbolExposure {
		s.symbolExposure[strings.ToUpper(symbol)] = exposure
	}

	s.marketExposure = make(map[string]float64, len(snap.MarketExposure))
	for market, exposure := range snap.MarketExposure {
		s.marketExposure[strings.ToLower(market)] = exposure
	}

	s.sideExposure = map[string]float64{
		"long":  snap.SideExposure["long"],
		"short": snap.SideExposure["short"],
	}
	s.totalExposure = snap.TotalExposure
	return nil
}

func (s *MemoryStore) DailyRealizedPnL(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyRealized, nil
}

func (s *MemoryStore) AddDailyRealizedPnL(ctx context.Context, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyRealized += delta
	return nil
}
