package entity

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"newstrade/internal/events"
)

var testUniverse = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
	"SOLUSDT": true,
}

func newsPayload(t *testing.T, title, content string) []byte {
	t.Helper()
	data, err := json.Marshal(&events.NewsEvent{
		SchemaVersion: events.SchemaVersion,
		EventID:       "evt-1",
		Source:        "coindesk",
		PublishedAt:   time.Now().UTC(),
		Title:         title,
		Content:       content,
		Lang:          "en",
		URL:           "https://example.com/news/1",
		DedupHash:     "hash-1",
	})
	if err != nil {
		t.Fatalf("marshal news: %v", err)
	}
	return data
}

func TestExtractSymbols(t *testing.T) {
	svc := New(testUniverse)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"ticker substring", "BTCUSDT breaks resistance", []string{"BTCUSDT"}},
		{"alias word", "Bitcoin ETF approval expected", []string{"BTCUSDT"}},
		{"alias inside word does not match", "bitcoiners celebrate", nil},
		{"multiple sorted unique", "ethereum rallies as BTCUSDT and bitcoin gain", []string{"BTCUSDT", "ETHUSDT"}},
		{"nothing", "central banks meet today", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.ExtractSymbols(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ExtractSymbols(%q)=%v, expected %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTags(t *testing.T) {
	svc := New(testUniverse)

	got := svc.ExtractTags("SEC weighs ETF regulation after exchange hack")
	want := []string{"macro", "regulation", "security"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractTags=%v, expected %v", got, want)
	}
}

func TestHandleEmitsEntityEvent(t *testing.T) {
	svc := New(testUniverse)

	out, err := svc.Handle(newsPayload(t, "Bitcoin partnership drives adoption", "a major partnership for bitcoin"))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if out[0].Stream != events.StreamNewsEntity {
		t.Fatalf("stream=%s, expected %s", out[0].Stream, events.StreamNewsEntity)
	}

	var entity events.EntityEvent
	if err := json.Unmarshal(out[0].Payload, &entity); err != nil {
		t.Fatalf("unmarshal entity: %v", err)
	}
	if entity.EventID != "evt-1" {
		t.Fatalf("event_id=%s, expected evt-1", entity.EventID)
	}
	if !reflect.DeepEqual(entity.Symbols, []string{"BTCUSDT"}) {
		t.Fatalf("symbols=%v, expected [BTCUSDT]", entity.Symbols)
	}
	if !reflect.DeepEqual(entity.Tags, []string{"adoption"}) {
		t.Fatalf("tags=%v, expected [adoption]", entity.Tags)
	}
	// one symbol + one tag on the 0.5 base
	if entity.RelevanceScore != 0.7 {
		t.Fatalf("relevance_score=%v, expected 0.7", entity.RelevanceScore)
	}
}

func TestHandleDropsNewsWithoutSymbols(t *testing.T) {
	svc := New(testUniverse)

	out, err := svc.Handle(newsPayload(t, "Stocks rally on rate cut hopes", "no crypto here"))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no outputs, got %d", len(out))
	}
}
