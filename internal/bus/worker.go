package bus

import (
	"context"
	"log"
	"time"

	"newstrade/internal/metrics"
)

// Output is one event a handler wants published.
type Output struct {
	Stream  string
	Payload []byte
}

// Handler processes a single record and returns the events to publish.
// Handlers must be idempotent: a record may be re-delivered after a
// crash, and at-least-once is the delivery contract.
type Handler func(ctx context.Context, payload []byte) ([]Output, error)

// Worker drives one stage: read a batch from the input stream, invoke
// the handler per record in order, publish its outputs, advance the
// cursor. A handler failure is logged and the cursor still advances —
// idempotence lives in the handler, not the loop.
type Worker struct {
	ServiceName  string
	Bus          EventBus
	InputStream  string
	Handler      Handler
	PollMs       int
	IdleSleep    time.Duration
	StartID      string

	lastID string
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.lastID = w.StartID
	if w.lastID == "" {
		w.lastID = StartID
	}
	poll := w.PollMs
	if poll <= 0 {
		poll = 1000
	}
	idle := w.IdleSleep
	if idle <= 0 {
		idle = 200 * time.Millisecond
	}

	log.Printf("%s: started. input_stream=%s start_id=%s", w.ServiceName, w.InputStream, w.lastID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, err := w.Bus.Read(ctx, w.InputStream, w.lastID, poll, 100)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("%s: read %s failed: %v", w.ServiceName, w.InputStream, err)
			if !sleepCtx(ctx, idle) {
				return ctx.Err()
			}
			continue
		}
		if len(records) == 0 {
			if !sleepCtx(ctx, idle) {
				return ctx.Err()
			}
			continue
		}

		for _, rec := range records {
			metrics.RecordsProcessed.WithLabelValues(w.ServiceName).Inc()

			outputs, err := w.Handler(ctx, rec.Data)
			if err != nil {
				metrics.RecordErrors.WithLabelValues(w.ServiceName).Inc()
				log.Printf("%s: failed to process record id=%s: %v", w.ServiceName, rec.ID, err)
				w.lastID = rec.ID
				continue
			}
			for _, out := range outputs {
				if _, err := w.Bus.Publish(ctx, out.Stream, out.Payload); err != nil {
					metrics.RecordErrors.WithLabelValues(w.ServiceName).Inc()
					log.Printf("%s: publish to %s failed: %v", w.ServiceName, out.Stream, err)
					continue
				}
				metrics.EventsPublished.WithLabelValues(out.Stream).Inc()
			}
			w.lastID = rec.ID
		}
	}
}

// LastID exposes the cursor for checkpointing.
func (w *Worker) LastID() string {
	return w.lastID
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
