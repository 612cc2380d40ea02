// Package execution places approved intents at the venue and
// normalizes live adapter events, deduplicating both directions.
package execution

import (
	"context"
	"log"
	"math"

	"newstrade/internal/bus"
	"newstrade/internal/events"
	"newstrade/internal/exchange"
)

// reportKey identifies one observed execution state. filled_qty is
// rounded to 10 decimals so float noise does not defeat the dedup.
type reportKey struct {
	orderID   string
	status    string
	filledQty float64
}

func keyFor(report *events.ExecutionReport) reportKey {
	const scale = 1e10
	return reportKey{
		orderID:   report.OrderID,
		status:    report.Status,
		filledQty: math.Round(report.FilledQty*scale) / scale,
	}
}

// Service is the order.approved -> execution.report stage. State is
// the processed-intent set and the seen-report-key set; both make
// re-delivery a no-op.
type Service struct {
	adapter          exchange.Adapter
	processedIntents map[string]bool
	seenKeys         map[reportKey]bool
}

func New(adapter exchange.Adapter) *Service {
	return &Service{
		adapter:          adapter,
		processedIntents: make(map[string]bool),
		seenKeys:         make(map[reportKey]bool),
	}
}

func (s *Service) isDuplicateReport(report *events.ExecutionReport) bool {
	key := keyFor(report)
	if s.seenKeys[key] {
		return true
	}
	s.seenKeys[key] = true
	return false
}

// Handle places one approved intent. An intent seen before yields
// nothing; a report whose (order_id, status, filled_qty) triple was
// already published yields nothing.
func (s *Service) Handle(ctx context.Context, payload []byte) ([]bus.Output, error) {
	intent, err := events.DecodeIntent(payload)
	if err != nil {
		return nil, err
	}
	if s.processedIntents[intent.IntentID] {
		return nil, nil
	}

	report, err := s.adapter.PlaceOrder(ctx, intent)
	if err != nil {
		return nil, err
	}
	s.processedIntents[intent.IntentID] = true

	if s.isDuplicateReport(report) {
		return nil, nil
	}
	data, err := events.Marshal(report)
	if err != nil {
		return nil, err
	}
	return []bus.Output{{Stream: events.StreamExecutionReport, Payload: data}}, nil
}

// NormalizeAdapterReport validates a report from the live stream and
// applies the same triple dedup. Returns nil for a duplicate.
func (s *Service) NormalizeAdapterReport(report *events.ExecutionReport) (*events.ExecutionReport, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	if s.isDuplicateReport(report) {
		return nil, nil
	}
	return report, nil
}

// RunAdapterStream consumes the venue's live event stream, forwarding
// alerts to risk.alert and normalized reports to execution.report.
// Live mode only; returns when the context is cancelled.
func (s *Service) RunAdapterStream(ctx context.Context, b bus.EventBus) error {
	stream, err := s.adapter.StreamExecutionEvents(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return ctx.Err()
			}
			switch ev.Type {
			case exchange.StreamEventAlert:
				alert := events.RiskAlert{
					SchemaVersion: events.SchemaVersion,
					Message:       ev.Alert.Message,
					Severity:      ev.Alert.Severity,
					Source:        "execution-service",
				}
				data, err := events.Marshal(&alert)
				if err != nil {
					log.Printf("execution: encode alert: %v", err)
					continue
				}
				if _, err := b.Publish(ctx, events.StreamRiskAlert, data); err != nil {
					log.Printf("execution: publish alert: %v", err)
				}
			case exchange.StreamEventExecution:
				report, err := s.NormalizeAdapterReport(ev.Report)
				if err != nil {
					log.Printf("execution: invalid adapter event: %v", err)
					continue
				}
				if report == nil {
					continue
				}
				data, err := events.Marshal(report)
				if err != nil {
					log.Printf("execution: encode report: %v", err)
					continue
				}
				if _, err := b.Publish(ctx, events.StreamExecutionReport, data); err != nil {
					log.Printf("execution: publish report: %v", err)
				}
			}
		}
	}
}
