package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"newstrade/internal/bus"
	"newstrade/internal/dedup"
	"newstrade/internal/events"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Crypto Wire</title>
    <item>
      <title>Bitcoin ETF sees record inflows</title>
      <link>https://example.com/btc-etf</link>
      <description>Spot ETF volumes hit a new high.</description>
      <pubDate>Mon, 02 Mar 2026 10:15:00 +0000</pubDate>
    </item>
    <item>
      <title>Ethereum upgrade scheduled</title>
      <link>https://example.com/eth-upgrade</link>
      <description></description>
      <pubDate>not a date</pubDate>
    </item>
    <item>
      <title></title>
      <link>https://example.com/empty</link>
    </item>
  </channel>
</rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestParsePubDate(t *testing.T) {
	fallback := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "rfc1123z",
			raw:  "Mon, 02 Mar 2026 10:15:00 +0000",
			want: time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC),
		},
		{
			name: "rfc1123 gmt",
			raw:  "Mon, 02 Mar 2026 10:15:00 GMT",
			want: time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC),
		},
		{
			name: "rfc3339",
			raw:  "2026-03-02T10:15:00Z",
			want: time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC),
		},
		{
			name: "unparsable falls back",
			raw:  "yesterday-ish",
			want: fallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePubDate(tt.raw, fallback); !got.Equal(tt.want) {
				t.Fatalf("parsePubDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDedupHash(t *testing.T) {
	base := DedupHash("coindesk", "Bitcoin rallies", "https://example.com/a")

	if DedupHash("coindesk", "  bitcoin RALLIES ", "HTTPS://EXAMPLE.COM/A") != base {
		t.Fatalf("hash is not case- and whitespace-insensitive on title/url")
	}
	if DedupHash("cointelegraph", "Bitcoin rallies", "https://example.com/a") == base {
		t.Fatalf("hash ignores source")
	}
	if DedupHash("coindesk", "Bitcoin dips", "https://example.com/a") == base {
		t.Fatalf("hash ignores title")
	}
	if len(base) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(base))
	}
}

func TestRunOncePublishesUnseenItems(t *testing.T) {
	server := newFeedServer(t)
	b := bus.NewMemoryBus()
	svc := NewService(b, dedup.NewMemoryStore(), map[string]string{"wire": server.URL}, time.Hour)

	published, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if published != 2 {
		t.Fatalf("published = %d, want 2 (title-less item skipped)", published)
	}

	records, err := b.Read(context.Background(), events.StreamNewsRaw, bus.StartID, 0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("stream length = %d, want 2", len(records))
	}

	event, err := events.DecodeNews(records[0].Data)
	if err != nil {
		t.Fatalf("DecodeNews: %v", err)
	}
	if event.Source != "wire" {
		t.Fatalf("source = %q", event.Source)
	}
	if event.Title != "Bitcoin ETF sees record inflows" {
		t.Fatalf("title = %q", event.Title)
	}
	if event.Content != "Spot ETF volumes hit a new high." {
		t.Fatalf("content = %q", event.Content)
	}
	if want := DedupHash("wire", event.Title, event.URL); event.DedupHash != want {
		t.Fatalf("dedup_hash = %q, want %q", event.DedupHash, want)
	}
	if event.EventID != event.DedupHash[:16] {
		t.Fatalf("event_id = %q, want hash prefix", event.EventID)
	}
	if !event.PublishedAt.Equal(time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("published_at = %v", event.PublishedAt)
	}

	// The second item had an empty description: content mirrors the title.
	second, err := events.DecodeNews(records[1].Data)
	if err != nil {
		t.Fatalf("DecodeNews: %v", err)
	}
	if second.Content != second.Title {
		t.Fatalf("content = %q, want title fallback", second.Content)
	}
}

func TestRunOnceSuppressesDuplicates(t *testing.T) {
	server := newFeedServer(t)
	b := bus.NewMemoryBus()
	svc := NewService(b, dedup.NewMemoryStore(), map[string]string{"wire": server.URL}, time.Hour)

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	published, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if published != 0 {
		t.Fatalf("second poll published %d, want 0", published)
	}
	if got := b.Len(events.StreamNewsRaw); got != 2 {
		t.Fatalf("stream length = %d, want 2", got)
	}
}

func TestRunOnceSkipsFailingFeed(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)
	good := newFeedServer(t)

	b := bus.NewMemoryBus()
	svc := NewService(b, dedup.NewMemoryStore(), map[string]string{
		"broken": broken.URL,
		"wire":   good.URL,
	}, time.Hour)

	published, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if published != 2 {
		t.Fatalf("published = %d, want 2 from the healthy feed", published)
	}
}

func TestPublishedEventsAreWellFormed(t *testing.T) {
	server := newFeedServer(t)
	b := bus.NewMemoryBus()
	svc := NewService(b, dedup.NewMemoryStore(), map[string]string{"wire": server.URL}, time.Hour)

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	records, err := b.Read(context.Background(), events.StreamNewsRaw, bus.StartID, 0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, rec := range records {
		var payload map[string]any
		if err := json.Unmarshal(rec.Data, &payload); err != nil {
			t.Fatalf("payload not json: %v", err)
		}
		if payload["schema_version"] != events.SchemaVersion {
			t.Fatalf("schema_version = %v", payload["schema_version"])
		}
		if payload["lang"] != "en" {
			t.Fatalf("lang = %v", payload["lang"])
		}
	}
}
