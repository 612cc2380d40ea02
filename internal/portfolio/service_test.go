package portfolio

import (
	"encoding/json"
	"testing"
	"time"

	"newstrade/internal/events"
)

func signalPayload(t *testing.T, symbol string, side int, strength, confidence float64) []byte {
	t.Helper()
	data, err := json.Marshal(&events.SignalEvent{
		SchemaVersion: events.SchemaVersion,
		EventID:       "evt-1",
		Symbol:        symbol,
		Side:          side,
		Strength:      strength,
		Confidence:    confidence,
		HorizonMin:    60,
		TTLSec:        3600,
		Rationale:     "r",
		GeneratedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal signal: %v", err)
	}
	return data
}

func TestHandleSizesIntent(t *testing.T) {
	tests := []struct {
		name       string
		side       int
		strength   float64
		wantQty    float64
		wantMarket string
	}{
		// equity 100000 * risk 0.005 = 500 base
		{"long spot by strength", 1, 0.8, 400, events.MarketSpot},
		{"short perp by strength", -1, 0.6, 300, events.MarketPerp},
		{"weak signal floored at 0.2", 1, 0.05, 100, events.MarketSpot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(100000, 0.005, 20)

			out, err := svc.Handle(signalPayload(t, "BTCUSDT", tt.side, tt.strength, 0.8))
			if err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			if len(out) != 1 {
				t.Fatalf("expected 1 output, got %d", len(out))
			}
			if out[0].Stream != events.StreamOrderIntent {
				t.Fatalf("stream=%s", out[0].Stream)
			}

			var intent events.OrderIntent
			if err := json.Unmarshal(out[0].Payload, &intent); err != nil {
				t.Fatalf("unmarshal intent: %v", err)
			}
			if intent.QtyUSD != tt.wantQty {
				t.Fatalf("qty_usd=%v, expected %v", intent.QtyUSD, tt.wantQty)
			}
			if intent.Market != tt.wantMarket {
				t.Fatalf("market=%s, expected %s", intent.Market, tt.wantMarket)
			}
			if intent.Side != tt.side {
				t.Fatalf("side=%d, expected %d", intent.Side, tt.side)
			}
			if intent.MaxSlippageBps != 20 {
				t.Fatalf("max_slippage_bps=%d, expected 20", intent.MaxSlippageBps)
			}
			if len(intent.IntentID) != 20 {
				t.Fatalf("intent_id=%q, expected 20 hex chars", intent.IntentID)
			}
		})
	}
}

func TestHandleAppliesMinimumNotional(t *testing.T) {
	// tiny equity makes the sized quantity fall under the $10 floor
	svc := New(1000, 0.005, 20)

	out, err := svc.Handle(signalPayload(t, "BTCUSDT", 1, 0.5, 0.8))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	var intent events.OrderIntent
	if err := json.Unmarshal(out[0].Payload, &intent); err != nil {
		t.Fatalf("unmarshal intent: %v", err)
	}
	if intent.QtyUSD != 10 {
		t.Fatalf("qty_usd=%v, expected floor 10", intent.QtyUSD)
	}
}

func TestIntentIDsAreUnique(t *testing.T) {
	svc := New(100000, 0.005, 20)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		out, err := svc.Handle(signalPayload(t, "BTCUSDT", 1, 0.5, 0.8))
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		var intent events.OrderIntent
		if err := json.Unmarshal(out[0].Payload, &intent); err != nil {
			t.Fatalf("unmarshal intent: %v", err)
		}
		if seen[intent.IntentID] {
			t.Fatalf("duplicate intent_id %s", intent.IntentID)
		}
		seen[intent.IntentID] = true
	}
}
