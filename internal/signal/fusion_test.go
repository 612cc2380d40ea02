package signal

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"newstrade/internal/events"
)

func signalPayload(t *testing.T, sig events.SignalEvent) []byte {
	t.Helper()
	if sig.SchemaVersion == "" {
		sig.SchemaVersion = events.SchemaVersion
	}
	if sig.HorizonMin == 0 {
		sig.HorizonMin = 60
	}
	if sig.TTLSec == 0 {
		sig.TTLSec = 3600
	}
	data, err := json.Marshal(&sig)
	if err != nil {
		t.Fatalf("marshal signal: %v", err)
	}
	return data
}

func TestFusionDropsUntradableSignals(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sig  events.SignalEvent
	}{
		{"flat side", events.SignalEvent{EventID: "e", Symbol: "BTCUSDT", Side: 0, Strength: 0.6, Confidence: 0.9, GeneratedAt: now}},
		{"low confidence", events.SignalEvent{EventID: "e", Symbol: "BTCUSDT", Side: 1, Strength: 0.6, Confidence: 0.5, GeneratedAt: now}},
		{"stale", events.SignalEvent{EventID: "e", Symbol: "BTCUSDT", Side: 1, Strength: 0.6, Confidence: 0.9, TTLSec: 60, GeneratedAt: now.Add(-10 * time.Minute)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewFusionService(0.65)
			svc.now = func() time.Time { return now }

			out, err := svc.Handle(signalPayload(t, tt.sig))
			if err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			if len(out) != 0 {
				t.Fatalf("expected drop, got %d outputs", len(out))
			}
		})
	}
}

func TestFusionRescalesStrength(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewFusionService(0.65)
	svc.now = func() time.Time { return now }

	out, err := svc.Handle(signalPayload(t, events.SignalEvent{
		EventID: "evt-1", Symbol: "BTCUSDT", Side: 1,
		Strength: 0.7, Confidence: 0.8, Rationale: "r", GeneratedAt: now,
	}))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if out[0].Stream != events.StreamSignalTradeable {
		t.Fatalf("stream=%s", out[0].Stream)
	}

	var fused events.SignalEvent
	if err := json.Unmarshal(out[0].Payload, &fused); err != nil {
		t.Fatalf("unmarshal fused: %v", err)
	}
	// 0.7 * (0.8 + 0.2*0.8)
	if !almostEqual(fused.Strength, 0.672) {
		t.Fatalf("strength=%v, expected 0.672", fused.Strength)
	}
	if !strings.HasPrefix(fused.Rationale, "fused: ") {
		t.Fatalf("rationale=%q, expected fused prefix", fused.Rationale)
	}
}

// An opposite-side signal close in time and strength to the last emitted
// one must be suppressed; a later strong reversal goes through.
func TestFusionSuppressesConflicts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewFusionService(0.65)
	svc.now = func() time.Time { return now }

	out, err := svc.Handle(signalPayload(t, events.SignalEvent{
		EventID: "evt-1", Symbol: "BTCUSDT", Side: 1,
		Strength: 0.6, Confidence: 0.8, GeneratedAt: now,
	}))
	if err != nil {
		t.Fatalf("first Handle returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected first signal to pass, got %d outputs", len(out))
	}
	var prev events.SignalEvent
	if err := json.Unmarshal(out[0].Payload, &prev); err != nil {
		t.Fatalf("unmarshal fused: %v", err)
	}

	// Opposite side, 10 minutes later, strength within 0.2 of the fused one.
	out, err = svc.Handle(signalPayload(t, events.SignalEvent{
		EventID: "evt-2", Symbol: "BTCUSDT", Side: -1,
		Strength: prev.Strength + 0.1, Confidence: 0.8, GeneratedAt: now.Add(10 * time.Minute),
	}))
	if err != nil {
		t.Fatalf("second Handle returned error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected conflict suppression, got %d outputs", len(out))
	}

	// A clearly stronger reversal is not a conflict.
	out, err = svc.Handle(signalPayload(t, events.SignalEvent{
		EventID: "evt-3", Symbol: "BTCUSDT", Side: -1,
		Strength: 1.0, Confidence: 0.9, GeneratedAt: now.Add(12 * time.Minute),
	}))
	if err != nil {
		t.Fatalf("third Handle returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected strong reversal to pass, got %d outputs", len(out))
	}
}
