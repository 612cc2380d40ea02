package state

import (
	"context"
	"testing"
)

func TestMemoryStoreExposureAccumulates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AddSymbolExposure(ctx, "btcusdt", 100); err != nil {
		t.Fatalf("AddSymbolExposure: %v", err)
	}
	if err := s.AddSymbolExposure(ctx, "BTCUSDT", 50); err != nil {
		t.Fatalf("AddSymbolExposure: %v", err)
	}
	got, err := s.SymbolExposure(ctx, "BtcUsdt")
	if err != nil {
		t.Fatalf("SymbolExposure: %v", err)
	}
	if got != 150 {
		t.Fatalf("symbol exposure = %g, want 150 regardless of case", got)
	}

	if err := s.AddTotalExposure(ctx, 150); err != nil {
		t.Fatalf("AddTotalExposure: %v", err)
	}
	if err := s.AddTotalExposure(ctx, -50); err != nil {
		t.Fatalf("AddTotalExposure: %v", err)
	}
	total, err := s.TotalExposure(ctx)
	if err != nil {
		t.Fatalf("TotalExposure: %v", err)
	}
	if total != 100 {
		t.Fatalf("total exposure = %g, want 100", total)
	}

	if err := s.AddMarketExposure(ctx, "SPOT", 75); err != nil {
		t.Fatalf("AddMarketExposure: %v", err)
	}
	market, err := s.MarketExposure(ctx, "spot")
	if err != nil {
		t.Fatalf("MarketExposure: %v", err)
	}
	if market != 75 {
		t.Fatalf("market exposure = %g, want 75", market)
	}
}

func TestMemoryStoreSideKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AddSideExposure(ctx, 1, 40); err != nil {
		t.Fatalf("AddSideExposure: %v", err)
	}
	if err := s.AddSideExposure(ctx, -1, 60); err != nil {
		t.Fatalf("AddSideExposure: %v", err)
	}

	long, err := s.SideExposure(ctx, 1)
	if err != nil {
		t.Fatalf("SideExposure: %v", err)
	}
	short, err := s.SideExposure(ctx, -1)
	if err != nil {
		t.Fatalf("SideExposure: %v", err)
	}
	if long != 40 || short != 60 {
		t.Fatalf("long=%g short=%g, want 40/60", long, short)
	}
}

func TestMemoryStoreReplaceExposureSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AddSymbolExposure(ctx, "ETHUSDT", 999); err != nil {
		t.Fatalf("AddSymbolExposure: %v", err)
	}
	if err := s.AddTotalExposure(ctx, 999); err != nil {
		t.Fatalf("AddTotalExposure: %v", err)
	}

	err := s.ReplaceExposureSnapshot(ctx, ExposureSnapshot{
		SymbolExposure: map[string]float64{"btcusdt": 120},
		MarketExposure: map[string]float64{"PERP": 120},
		SideExposure:   map[string]float64{"long": 120},
		TotalExposure:  120,
	})
	if err != nil {
		t.Fatalf("ReplaceExposureSnapshot: %v", err)
	}

	if got, _ := s.SymbolExposure(ctx, "ETHUSDT"); got != 0 {
		t.Fatalf("stale symbol exposure survived: %g", got)
	}
	if got, _ := s.SymbolExposure(ctx, "BTCUSDT"); got != 120 {
		t.Fatalf("snapshot symbol exposure = %g, want 120", got)
	}
	if got, _ := s.MarketExposure(ctx, "perp"); got != 120 {
		t.Fatalf("snapshot market exposure = %g, want 120", got)
	}
	if got, _ := s.SideExposure(ctx, 1); got != 120 {
		t.Fatalf("snapshot side exposure = %g, want 120", got)
	}
	if got, _ := s.SideExposure(ctx, -1); got != 0 {
		t.Fatalf("short side exposure = %g, want 0", got)
	}
	if got, _ := s.TotalExposure(ctx); got != 120 {
		t.Fatalf("snapshot total exposure = %g, want 120", got)
	}
}

func TestMemoryStoreDailyRealizedPnL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.AddDailyRealizedPnL(ctx, -150.5); err != nil {
		t.Fatalf("AddDailyRealizedPnL: %v", err)
	}
	if err := s.AddDailyRealizedPnL(ctx, 30); err != nil {
		t.Fatalf("AddDailyRealizedPnL: %v", err)
	}
	got, err := s.DailyRealizedPnL(ctx)
	if err != nil {
		t.Fatalf("DailyRealizedPnL: %v", err)
	}
	if got != -120.5 {
		t.Fatalf("daily realized = %g, want -120.5", got)
	}
}
