// Package entity extracts tradable symbols and topic tags from raw
// news items.
package entity

import (
	"log"
	"regexp"
	"sort"
	"strings"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

// symbolAliases maps common names to universe tickers. Matched on word
// boundaries so "bitcoiner" does not count.
var symbolAliases = map[string]string{
	"bitcoin":   "BTCUSDT",
	"ethereum":  "ETHUSDT",
	"bnb":       "BNBUSDT",
	"solana":    "SOLUSDT",
	"xrp":       "XRPUSDT",
	"cardano":   "ADAUSDT",
	"dogecoin":  "DOGEUSDT",
	"chainlink": "LINKUSDT",
	"avalanche": "AVAXUSDT",
	"toncoin":   "TONUSDT",
}

// tagKeywords maps substring keywords to topic tags.
var tagKeywords = map[string]string{
	"etf":         "macro",
	"hack":        "security",
	"exploit":     "security",
	"partnership": "adoption",
	"listing":     "exchange",
	"delist":      "exchange",
	"regulation":  "regulation",
	"sec":         "regulation",
}

var aliasPatterns = buildAliasPatterns()

func buildAliasPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(symbolAliases))
	for alias := range symbolAliases {
		out[alias] = regexp.MustCompile(`\b` + regexp.QuoteMeta(alias) + `\b`)
	}
	return out
}

// Service is the news.raw -> news.entity stage.
type Service struct {
	universe map[string]bool
}

func New(universe map[string]bool) *Service {
	return &Service{universe: universe}
}

// ExtractSymbols returns the sorted unique symbols mentioned in text:
// universe tickers by uppercase substring, aliases by word boundary.
func (s *Service) ExtractSymbols(text string) []string {
	seen := make(map[string]bool)

	upper := strings.ToUpper(text)
	for symbol := range s.universe {
		if strings.Contains(upper, symbol) {
			seen[symbol] = true
		}
	}

	lower := strings.ToLower(text)
	for alias, symbol := range symbolAliases {
		if aliasPatterns[alias].MatchString(lower) {
			seen[symbol] = true
		}
	}

	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// ExtractTags returns the sorted unique tags whose keywords appear in text.
func (s *Service) ExtractTags(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	for keyword, tag := range tagKeywords {
		if strings.Contains(lower, keyword) {
			seen[tag] = true
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Handle emits at most one EntityEvent, and nothing when no symbol is
// extracted.
func (s *Service) Handle(payload []byte) ([]bus.Output, error) {
	news, err := events.DecodeNews(payload)
	if err != nil {
		return nil, err
	}

	merged := news.Title + "\n" + news.Content
	symbols := s.ExtractSymbols(merged)
	tags := s.ExtractTags(merged)

	if len(symbols) == 0 {
		log.Printf("entity: no symbols event_id=%s", news.EventID)
		return nil, nil
	}

	score := 0.5 + 0.1*float64(len(tags)) + 0.1*float64(len(symbols))
	if score > 1 {
		score = 1
	}

	entity := events.EntityEvent{
		SchemaVersion:  events.SchemaVersion,
		EventID:        news.EventID,
		Symbols:        symbols,
		Tags:           tags,
		Regions:        []string{},
		RelevanceScore: score,
		Title:          news.Title,
		Content:        news.Content,
	}
	data, err := events.Marshal(&entity)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamNewsEntity, Payload: data}}, nil
}
