package monitor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"newstrade/internal/events"
)

type fakeNotifier struct {
	sent []string
}

func (n *fakeNotifier) Send(ctx context.Context, text string) error {
	n.sent = append(n.sent, text)
	return nil
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestFormatNews(t *testing.T) {
	event := &events.NewsEvent{
		Source: "coindesk",
		Title:  "Bitcoin breaks new high",
		URL:    "https://example.com/article",
	}
	got := FormatNews(event)
	want := "[NEWS] source=coindesk\ntitle=Bitcoin breaks new high\nurl=https://example.com/article"
	if got != want {
		t.Fatalf("FormatNews = %q, want %q", got, want)
	}
}

func TestFormatNewsTruncatesLongTitle(t *testing.T) {
	event := &events.NewsEvent{
		Source: "coindesk",
		Title:  strings.Repeat("a", 220),
		URL:    "https://example.com",
	}
	lines := strings.Split(FormatNews(event), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	title := strings.TrimPrefix(lines[1], "title=")
	if len(title) != 180 {
		t.Fatalf("title length = %d, want 180", len(title))
	}
	if !strings.HasSuffix(title, "...") {
		t.Fatalf("truncated title missing ellipsis: %q", title)
	}
}

func TestHandleNewsSendsAlert(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(notifier)

	payload := mustMarshal(t, &events.NewsEvent{
		SchemaVersion: "1.0",
		EventID:       "ev1",
		Source:        "coindesk",
		PublishedAt:   time.Now().UTC(),
		Title:         "ETH upgrade ships",
		URL:           "https://example.com/eth",
	})
	outputs, err := svc.HandleNews(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandleNews: %v", err)
	}
	if outputs != nil {
		t.Fatalf("outputs = %v, want none", outputs)
	}
	if len(notifier.sent) != 1 || !strings.HasPrefix(notifier.sent[0], "[NEWS] source=coindesk") {
		t.Fatalf("sent = %v", notifier.sent)
	}
}

func TestHandleRejectedFormat(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(notifier)

	payload := mustMarshal(t, &events.RiskDecision{
		SchemaVersion: "1.0",
		IntentID:      "intent-1",
		Allow:         false,
		ReasonCode:    "MAX_SYMBOL_EXPOSURE",
		CappedQtyUSD:  42.5,
	})
	if _, err := svc.HandleRejected(context.Background(), payload); err != nil {
		t.Fatalf("HandleRejected: %v", err)
	}
	want := "[REJECTED] intent=intent-1 reason=MAX_SYMBOL_EXPOSURE cap=42.5"
	if len(notifier.sent) != 1 || notifier.sent[0] != want {
		t.Fatalf("sent = %v, want %q", notifier.sent, want)
	}
}

func TestHandleExecutionFormat(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(notifier)

	payload := mustMarshal(t, &events.ExecutionReport{
		SchemaVersion: "1.0",
		OrderID:       "ord-1",
		IntentID:      "intent-1",
		Symbol:        "BTCUSDT",
		Market:        events.MarketSpot,
		Side:          1,
		Status:        events.StatusFilled,
		FilledQty:     100,
		AvgPrice:      65000,
		TS:            time.Now().UTC(),
	})
	if _, err := svc.HandleExecution(context.Background(), payload); err != nil {
		t.Fatalf("HandleExecution: %v", err)
	}
	want := "[EXEC] order=ord-1 BTCUSDT status=filled qty=100 px=65000"
	if len(notifier.sent) != 1 || notifier.sent[0] != want {
		t.Fatalf("sent = %v, want %q", notifier.sent, want)
	}
}

func TestHandleRiskAlertFormat(t *testing.T) {
	notifier := &fakeNotifier{}
	svc := NewService(notifier)

	payload := mustMarshal(t, &events.RiskAlert{
		SchemaVersion: "1.0",
		Message:       "kill switch engaged",
		Severity:      "critical",
	})
	if _, err := svc.HandleRiskAlert(context.Background(), payload); err != nil {
		t.Fatalf("HandleRiskAlert: %v", err)
	}
	want := "[RISK] kill switch engaged"
	if len(notifier.sent) != 1 || notifier.sent[0] != want {
		t.Fatalf("sent = %v, want %q", notifier.sent, want)
	}
}
