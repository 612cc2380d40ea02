// Package ingest polls RSS feeds and publishes de-duplicated news
// events onto the raw news stream.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"newstrade/internal/bus"
	"newstrade/internal/dedup"
	"newstrade/internal/events"
)

// DefaultFeeds is used when no feeds file is configured.
var DefaultFeeds = map[string]string{
	"coindesk":      "https://www.coindesk.com/arc/outboundfeeds/rss/",
	"cointelegraph": "https://cointelegraph.com/rss",
}

type Service struct {
	bus      bus.EventBus
	dedup    dedup.Store
	feeds    map[string]string
	eventTTL time.Duration
	client   *http.Client
	now      func() time.Time
}

func NewService(b bus.EventBus, d dedup.Store, feeds map[string]string, eventTTL time.Duration) *Service {
	if len(feeds) == 0 {
		feeds = DefaultFeeds
	}
	return &Service{
		bus:      b,
		dedup:    d,
		feeds:    feeds,
		eventTTL: eventTTL,
		client:   &http.Client{Timeout: 20 * time.Second},
		now:      time.Now,
	}
}

// LoadFeedsFile reads a "name: url" YAML mapping. An empty path keeps
// the defaults.
func LoadFeedsFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	feeds := make(map[string]string)
	if err := yaml.Unmarshal(raw, &feeds); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}
	return feeds, nil
}

// DedupHash keys a news item by source, title and url. Title and url
// comparisons are case-insensitive.
func DedupHash(source, title, url string) string {
	raw := fmt.Sprintf("%s|%s|%s",
		source,
		strings.ToLower(strings.TrimSpace(title)),
		strings.ToLower(strings.TrimSpace(url)))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Service) fetchSource(ctx context.Context, name, url string) ([]*events.NewsEvent, error) {
	items, err := fetchFeed(ctx, s.client, url)
	if err != nil {
		return nil, err
	}

	var out []*events.NewsEvent
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		content := strings.TrimSpace(item.Description)
		if content == "" {
			content = title
		}
		link := strings.TrimSpace(item.Link)

		hash := DedupHash(name, title, link)
		seen, err := s.dedup.SeenOrAdd(ctx, hash, s.eventTTL)
		if err != nil {
			return nil, fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			continue
		}

		out = append(out, &events.NewsEvent{
			SchemaVersion: events.SchemaVersion,
			EventID:       hash[:16],
			Source:        name,
			PublishedAt:   parsePubDate(item.PubDate, s.now().UTC()),
			Title:         title,
			Content:       content,
			Lang:          "en",
			URL:           link,
			DedupHash:     hash,
		})
	}
	return out, nil
}

// RunOnce polls every feed and publishes the unseen items. Returns the
// number published; a failing feed is logged and skipped.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	names := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0
	for _, name := range names {
		items, err := s.fetchSource(ctx, name, s.feeds[name])
		if err != nil {
			log.Printf("ingest: feed %s failed: %v", name, err)
			continue
		}
		for _, event := range items {
			payload, err := events.Marshal(event)
			if err != nil {
				return total, err
			}
			if _, err := s.bus.Publish(ctx, events.StreamNewsRaw, payload); err != nil {
				return total, fmt.Errorf("publish news %s: %w", event.EventID, err)
			}
			total++
		}
	}
	log.Printf("ingest: published=%d", total)
	return total, nil
}

// Run polls until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Printf("ingest: poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
