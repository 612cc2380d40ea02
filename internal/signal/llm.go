// Package signal turns entity events into tradable signals: LLM (or
// heuristic) inference, fusion filtering, and universe gating.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"newstrade/internal/bus"
	"newstrade/internal/events"
	"newstrade/pkg/config"
)

var positiveKeywords = []string{"approval", "surge", "adoption", "partnership", "listing", "inflow", "upgrade"}
var negativeKeywords = []string{"hack", "exploit", "lawsuit", "ban", "outflow", "delist", "investigation"}

// Inference is one directional view for a symbol.
type Inference struct {
	Side       int     `json:"side"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
	HorizonMin int     `json:"horizon_min"`
	Rationale  string  `json:"rationale"`
}

// Provider produces an inference for a symbol given a news item.
type Provider interface {
	Infer(ctx context.Context, title, content, symbol string) (Inference, error)
}

// Heuristic scores a news item by keyword counts. It is both the
// offline provider and the fallback when the LLM misbehaves.
func Heuristic(title, content string) Inference {
	text := strings.ToLower(title + " " + content)
	var pos, neg int
	for _, k := range positiveKeywords {
		if strings.Contains(text, k) {
			pos++
		}
	}
	for _, k := range negativeKeywords {
		if strings.Contains(text, k) {
			neg++
		}
	}

	side := 0
	if pos > neg {
		side = 1
	} else if neg > pos {
		side = -1
	}

	edge := pos - neg
	if edge < 0 {
		edge = -edge
	}
	strength := 0.4 + float64(edge)*0.15
	if strength > 1 {
		strength = 1
	}
	confidence := 0.55 + float64(edge)*0.1
	if confidence > 0.95 {
		confidence = 0.95
	}
	horizon := 60
	if edge >= 2 {
		horizon = 180
	}

	return Inference{
		Side:       side,
		Strength:   strength,
		Confidence: confidence,
		HorizonMin: horizon,
		Rationale:  fmt.Sprintf("heuristic pos=%d neg=%d", pos, neg),
	}
}

// HeuristicProvider ignores the LLM entirely.
type HeuristicProvider struct{}

func (HeuristicProvider) Infer(ctx context.Context, title, content, symbol string) (Inference, error) {
	return Heuristic(title, content), nil
}

// OpenAIProvider calls an OpenAI-compatible chat completion endpoint
// with bounded retries, then falls back to the heuristic.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewProvider returns the OpenAI provider when configured, else the
// heuristic.
func NewProvider(cfg *config.Config) Provider {
	if cfg.OpenAIAPIKey == "" {
		return HeuristicProvider{}
	}
	return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
}

const maxInferAttempts = 3

func (p *OpenAIProvider) Infer(ctx context.Context, title, content, symbol string) (Inference, error) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxInferAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Heuristic(title, content), nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 4*time.Second {
				backoff = 4 * time.Second
			}
		}

		inf, err := p.inferOnce(ctx, title, content, symbol)
		if err == nil {
			return inf, nil
		}
		lastErr = err
	}

	log.Printf("llm: inference failed after %d attempts, fallback heuristic: %v", maxInferAttempts, lastErr)
	return Heuristic(title, content), nil
}

func (p *OpenAIProvider) inferOnce(ctx context.Context, title, content, symbol string) (Inference, error) {
	if len(content) > 1500 {
		content = content[:1500]
	}
	prompt := "You are a crypto event analyst. Return strict JSON with keys: " +
		"side (-1,0,1), strength (0..1), confidence (0..1), horizon_min (int), rationale (short)." +
		"\nSymbol: " + symbol + "\nTitle: " + title + "\nContent: " + content

	reqBody, err := json.Marshal(map[string]any{
		"model":       p.model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": 0.1,
	})
	if err != nil {
		return Inference{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return Inference{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Inference{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Inference{}, err
	}
	if resp.StatusCode >= 400 {
		return Inference{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return Inference{}, fmt.Errorf("llm: parse completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Inference{}, fmt.Errorf("llm: empty completion")
	}

	inf, ok := ParseInferenceText(strings.TrimSpace(completion.Choices[0].Message.Content))
	if !ok {
		return Inference{}, fmt.Errorf("llm: model output is not valid json")
	}
	return inf, nil
}

// ParseInferenceText decodes the model's answer. When the whole text is
// not valid JSON it retries on the substring between the first "{" and
// the last "}", which tolerates code fences and chatter.
func ParseInferenceText(text string) (Inference, bool) {
	if text == "" {
		return Inference{}, false
	}

	var inf Inference
	if err := json.Unmarshal([]byte(text), &inf); err == nil {
		return inf, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return Inference{}, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &inf); err != nil {
		return Inference{}, false
	}
	return inf, true
}

// LLMService is the news.entity -> signal.raw stage: one SignalEvent
// per symbol on the entity event.
type LLMService struct {
	provider  Provider
	ttlSec    int
	now       func() time.Time
}

func NewLLMService(provider Provider, defaultTTLSec int) *LLMService {
	return &LLMService{provider: provider, ttlSec: defaultTTLSec, now: time.Now}
}

func (s *LLMService) Handle(ctx context.Context, payload []byte) ([]bus.Output, error) {
	entity, err := events.DecodeEntity(payload)
	if err != nil {
		return nil, err
	}

	var outputs []bus.Output
	for _, symbol := range entity.Symbols {
		inf, err := s.provider.Infer(ctx, entity.Title, entity.Content, symbol)
		if err != nil {
			log.Printf("llm: infer %s failed, fallback heuristic: %v", symbol, err)
			inf = Heuristic(entity.Title, entity.Content)
		}
		if inf.HorizonMin < 1 {
			inf.HorizonMin = 60
		}

		sig := events.SignalEvent{
			SchemaVersion: events.SchemaVersion,
			EventID:       entity.EventID,
			Symbol:        symbol,
			Side:          inf.Side,
			Strength:      inf.Strength,
			Confidence:    inf.Confidence,
			HorizonMin:    inf.HorizonMin,
			TTLSec:        s.ttlSec,
			Rationale:     inf.Rationale,
			GeneratedAt:   s.now().UTC(),
		}
		data, err := events.Marshal(&sig)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, bus.Output{Stream: events.StreamSignalRaw, Payload: data})
	}
	return outputs, nil
}
