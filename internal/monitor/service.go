package monitor

import (
	"context"
	"fmt"

	"newstrade/internal/bus"
	"newstrade/internal/events"
)

// maxTitleLen bounds the title line of a news alert, ellipsis included.
const maxTitleLen = 180

// Service formats pipeline events into alert messages. Handlers never
// publish further events; delivery failures are swallowed by the
// notifier so a flaky bot cannot stall a stream cursor.
type Service struct {
	notifier Notifier
}

func NewService(notifier Notifier) *Service {
	return &Service{notifier: notifier}
}

// FormatNews renders the three-line news alert.
func FormatNews(event *events.NewsEvent) string {
	title := event.Title
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}
	return fmt.Sprintf("[NEWS] source=%s\ntitle=%s\nurl=%s", event.Source, title, event.URL)
}

func (s *Service) HandleNews(ctx context.Context, payload []byte) ([]bus.Output, error) {
	event, err := events.DecodeNews(payload)
	if err != nil {
		return nil, err
	}
	return nil, s.notifier.Send(ctx, FormatNews(event))
}

func (s *Service) HandleRejected(ctx context.Context, payload []byte) ([]bus.Output, error) {
	decision, err := events.DecodeRiskDecision(payload)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("[REJECTED] intent=%s reason=%s cap=%g",
		decision.IntentID, decision.ReasonCode, decision.CappedQtyUSD)
	return nil, s.notifier.Send(ctx, message)
}

func (s *Service) HandleExecution(ctx context.Context, payload []byte) ([]bus.Output, error) {
	report, err := events.DecodeExecutionReport(payload)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("[EXEC] order=%s %s status=%s qty=%g px=%g",
		report.OrderID, report.Symbol, report.Status, report.FilledQty, report.AvgPrice)
	return nil, s.notifier.Send(ctx, message)
}

func (s *Service) HandleRiskAlert(ctx context.Context, payload []byte) ([]bus.Output, error) {
	var alert events.RiskAlert
	if err := events.DecodeInto(payload, &alert); err != nil {
		return nil, err
	}
	return nil, s.notifier.Send(ctx, fmt.Sprintf("[RISK] %s", alert.Message))
}
