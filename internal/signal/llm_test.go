package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"newstrade/internal/events"
)

func TestHeuristic(t *testing.T) {
	tests := []struct {
		name           string
		title          string
		content        string
		wantSide       int
		wantStrength   float64
		wantConfidence float64
		wantHorizon    int
	}{
		{
			name:           "single positive",
			title:          "Exchange announces listing",
			content:        "",
			wantSide:       1,
			wantStrength:   0.55,
			wantConfidence: 0.65,
			wantHorizon:    60,
		},
		{
			name:           "two negatives",
			title:          "Protocol hack confirmed",
			content:        "users report outflow after the incident",
			wantSide:       -1,
			wantStrength:   0.7,
			wantConfidence: 0.75,
			wantHorizon:    180,
		},
		{
			name:           "balanced is flat",
			title:          "listing announced amid lawsuit",
			content:        "",
			wantSide:       0,
			wantStrength:   0.4,
			wantConfidence: 0.55,
			wantHorizon:    60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := Heuristic(tt.title, tt.content)
			if inf.Side != tt.wantSide {
				t.Fatalf("side=%d, expected %d", inf.Side, tt.wantSide)
			}
			if !almostEqual(inf.Strength, tt.wantStrength) {
				t.Fatalf("strength=%v, expected %v", inf.Strength, tt.wantStrength)
			}
			if !almostEqual(inf.Confidence, tt.wantConfidence) {
				t.Fatalf("confidence=%v, expected %v", inf.Confidence, tt.wantConfidence)
			}
			if inf.HorizonMin != tt.wantHorizon {
				t.Fatalf("horizon_min=%d, expected %d", inf.HorizonMin, tt.wantHorizon)
			}
		})
	}
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func TestParseInferenceText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Inference
		ok   bool
	}{
		{
			name: "strict json",
			text: `{"side":1,"strength":0.6,"confidence":0.8,"horizon_min":120,"rationale":"ok"}`,
			want: Inference{Side: 1, Strength: 0.6, Confidence: 0.8, HorizonMin: 120, Rationale: "ok"},
			ok:   true,
		},
		{
			name: "code fence and chatter",
			text: "Here you go:\n```json\n{\"side\":-1,\"strength\":0.5,\"confidence\":0.7,\"horizon_min\":60,\"rationale\":\"bad news\"}\n```",
			want: Inference{Side: -1, Strength: 0.5, Confidence: 0.7, HorizonMin: 60, Rationale: "bad news"},
			ok:   true,
		},
		{name: "no json at all", text: "I cannot help with that.", ok: false},
		{name: "empty", text: "", ok: false},
		{name: "broken braces", text: "} nope {", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseInferenceText(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok=%v, expected %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("inference=%+v, expected %+v", got, tt.want)
			}
		})
	}
}

type fixedProvider struct {
	inf Inference
	err error
}

func (p fixedProvider) Infer(ctx context.Context, title, content, symbol string) (Inference, error) {
	return p.inf, p.err
}

func TestLLMServiceEmitsSignalPerSymbol(t *testing.T) {
	svc := NewLLMService(fixedProvider{inf: Inference{Side: 1, Strength: 0.6, Confidence: 0.8, HorizonMin: 60, Rationale: "r"}}, 3600)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	payload, _ := json.Marshal(&events.EntityEvent{
		SchemaVersion:  events.SchemaVersion,
		EventID:        "evt-1",
		Symbols:        []string{"BTCUSDT", "ETHUSDT"},
		Tags:           []string{"adoption"},
		Regions:        []string{},
		RelevanceScore: 0.7,
		Title:          "t",
		Content:        "c",
	})

	out, err := svc.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(out))
	}
	for i, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		var sig events.SignalEvent
		if err := json.Unmarshal(out[i].Payload, &sig); err != nil {
			t.Fatalf("unmarshal signal: %v", err)
		}
		if sig.Symbol != symbol {
			t.Fatalf("symbol=%s, expected %s", sig.Symbol, symbol)
		}
		if sig.TTLSec != 3600 {
			t.Fatalf("ttl_sec=%d, expected 3600", sig.TTLSec)
		}
		if !sig.GeneratedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
			t.Fatalf("generated_at=%v", sig.GeneratedAt)
		}
	}
}

func TestLLMServiceFallsBackToHeuristicOnProviderError(t *testing.T) {
	svc := NewLLMService(fixedProvider{err: context.DeadlineExceeded}, 3600)

	payload, _ := json.Marshal(&events.EntityEvent{
		SchemaVersion:  events.SchemaVersion,
		EventID:        "evt-1",
		Symbols:        []string{"BTCUSDT"},
		Regions:        []string{},
		RelevanceScore: 0.6,
		Title:          "Exchange announces listing",
		Content:        "",
	})

	out, err := svc.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	var sig events.SignalEvent
	if err := json.Unmarshal(out[0].Payload, &sig); err != nil {
		t.Fatalf("unmarshal signal: %v", err)
	}
	if sig.Side != 1 {
		t.Fatalf("side=%d, expected heuristic side 1", sig.Side)
	}
	if sig.Rationale != "heuristic pos=1 neg=0" {
		t.Fatalf("rationale=%q", sig.Rationale)
	}
}
