package replay

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"newstrade/internal/bus"
	"newstrade/internal/events"
	"newstrade/internal/metrics"
)

// Request and retry errors the API maps to status codes.
var (
	ErrNotFound = errors.New("replay task not found")
	ErrConflict = errors.New("replay task conflict")
	ErrInvalid  = errors.New("invalid replay request")
)

// Request bounds. Requests beyond these are rejected, not clamped.
const (
	MaxScanLimit    = 50000
	MaxPublishLimit = 10000

	defaultMaxScan    = 5000
	defaultMaxPublish = 1000
	scanBatchSize     = 500
)

// StreamBus is the slice of the event bus the engine needs: historical
// range scans plus publication.
type StreamBus interface {
	Range(ctx context.Context, stream, from string, count int) ([]bus.Record, error)
	Publish(ctx context.Context, stream string, payload []byte) (string, error)
}

// Request describes one replay submission.
type Request struct {
	Start        time.Time
	End          time.Time
	SourceStream string
	TargetStream string
	MaxScan      int
	MaxPublish   int
	DryRun       bool
	Async        bool
}

func (r *Request) normalize() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end must be greater than or equal to start", ErrInvalid)
	}
	if r.SourceStream == "" {
		r.SourceStream = events.StreamNewsRaw
	}
	if r.TargetStream == "" {
		r.TargetStream = events.StreamNewsRaw
	}
	if r.MaxScan == 0 {
		r.MaxScan = defaultMaxScan
	}
	if r.MaxScan < 1 || r.MaxScan > MaxScanLimit {
		return fmt.Errorf("%w: max_scan must be between 1 and %d", ErrInvalid, MaxScanLimit)
	}
	if r.MaxPublish == 0 {
		r.MaxPublish = defaultMaxPublish
	}
	if r.MaxPublish < 1 || r.MaxPublish > MaxPublishLimit {
		return fmt.Errorf("%w: max_publish must be between 1 and %d", ErrInvalid, MaxPublishLimit)
	}
	return nil
}

type runningWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine runs replay tasks. Worker handles live only in this process:
// a task found "running" with no local worker survives from a previous
// process and cannot be cancelled safely.
type Engine struct {
	bus   StreamBus
	store Store

	mu      sync.Mutex
	workers map[string]*runningWorker

	now   func() time.Time
	newID func() string
}

func NewEngine(b StreamBus, store Store) *Engine {
	return &Engine{
		bus:     b,
		store:   store,
		workers: make(map[string]*runningWorker),
		now:     time.Now,
		newID: func() string {
			u := uuid.New()
			return hex.EncodeToString(u[:])[:12]
		},
	}
}

// Submit registers a task and either schedules it (async) or runs it
// to completion before returning.
func (e *Engine) Submit(ctx context.Context, req Request) (*Task, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	task := &Task{
		TaskID:       e.newID(),
		ReplayID:     e.newID(),
		Status:       StatusPending,
		SubmittedAt:  e.now().UTC(),
		Start:        req.Start.UTC(),
		End:          req.End.UTC(),
		SourceStream: req.SourceStream,
		TargetStream: req.TargetStream,
		MaxScan:      req.MaxScan,
		MaxPublish:   req.MaxPublish,
		DryRun:       req.DryRun,
	}
	if err := e.store.Save(ctx, task); err != nil {
		return nil, err
	}
	if err := e.store.Trim(ctx); err != nil {
		log.Printf("replay: trim failed: %v", err)
	}

	if req.Async {
		e.schedule(task.TaskID)
		return task, nil
	}

	e.runTask(ctx, task.TaskID)
	return e.mustLoad(ctx, task.TaskID)
}

// Get returns a task or ErrNotFound.
func (e *Engine) Get(ctx context.Context, taskID string) (*Task, error) {
	task, err := e.store.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return task, nil
}

// List returns up to limit tasks, newest first.
func (e *Engine) List(ctx context.Context, limit int) ([]*Task, error) {
	return e.store.List(ctx, limit)
}

// Cancel stops an active task. Pending tasks without a worker are
// marked canceled directly; a running task with no local worker is a
// conflict.
func (e *Engine) Cancel(ctx context.Context, taskID string) (*Task, error) {
	task, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Active() {
		return nil, fmt.Errorf("%w: task is not cancellable in status=%s", ErrConflict, task.Status)
	}

	e.mu.Lock()
	worker := e.workers[taskID]
	e.mu.Unlock()

	if worker != nil {
		worker.cancel()
		<-worker.done
		return e.mustLoad(ctx, taskID)
	}

	if task.Status == StatusRunning {
		return nil, fmt.Errorf("%w: task is marked running but no local worker exists; cannot cancel safely", ErrConflict)
	}

	now := e.now().UTC()
	task.Status = StatusCanceled
	task.Error = "Task canceled before worker start"
	task.CompletedAt = &now
	if err := e.store.Save(ctx, task); err != nil {
		return nil, err
	}
	metrics.ReplayTasksFinished.WithLabelValues(StatusCanceled).Inc()
	return task, nil
}

// Retry clones a terminal task's parameters into a fresh submission.
func (e *Engine) Retry(ctx context.Context, taskID string, async bool) (*Task, error) {
	old, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if old.Active() {
		return nil, fmt.Errorf("%w: task is still active; cancel or wait before retry", ErrConflict)
	}

	return e.Submit(ctx, Request{
		Start:        old.Start,
		End:          old.End,
		SourceStream: old.SourceStream,
		TargetStream: old.TargetStream,
		MaxScan:      old.MaxScan,
		MaxPublish:   old.MaxPublish,
		DryRun:       old.DryRun,
		Async:        async,
	})
}

// MetricsReport summarizes recent task history.
type MetricsReport struct {
	SampleSize     int            `json:"sample_size"`
	Counts         map[string]int `json:"counts"`
	AvgDurationSec float64        `json:"avg_duration_sec"`
	SuccessRate    float64        `json:"success_rate"`
}

// Metrics aggregates the most recent limit tasks. Success rate is
// completed over terminal.
func (e *Engine) Metrics(ctx context.Context, limit int) (*MetricsReport, error) {
	tasks, err := e.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &MetricsReport{
		SampleSize: len(tasks),
		Counts:     make(map[string]int, len(AllStatuses)),
	}
	for _, status := range AllStatuses {
		report.Counts[status] = 0
	}

	var durations []float64
	terminal, completed := 0, 0
	for _, task := range tasks {
		report.Counts[task.Status]++
		if d, ok := task.DurationSec(); ok {
			durations = append(durations, d)
		}
		if task.Terminal() {
			terminal++
		}
		if task.Status == StatusCompleted {
			completed++
		}
	}
	if len(durations) > 0 {
		sum := 0.0
		for _, d := range durations {
			sum += d
		}
		report.AvgDurationSec = sum / float64(len(durations))
	}
	if terminal > 0 {
		report.SuccessRate = float64(completed) / float64(terminal)
	}
	return report, nil
}

func (e *Engine) mustLoad(ctx context.Context, taskID string) (*Task, error) {
	task, err := e.store.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("replay task %s was not persisted", taskID)
	}
	return task, nil
}

func (e *Engine) schedule(taskID string) {
	wctx, cancel := context.WithCancel(context.Background())
	worker := &runningWorker{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.workers[taskID] = worker
	e.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.workers, taskID)
			e.mu.Unlock()
			close(worker.done)
		}()
		e.runTask(wctx, taskID)
	}()
}

func (e *Engine) runTask(ctx context.Context, taskID string) {
	task, err := e.store.Load(context.WithoutCancel(ctx), taskID)
	if err != nil || task == nil {
		log.Printf("replay: load task %s failed: %v", taskID, err)
		return
	}

	started := e.now().UTC()
	task.Status = StatusRunning
	task.StartedAt = &started
	if err := e.store.Save(context.WithoutCancel(ctx), task); err != nil {
		log.Printf("replay: persist task %s failed: %v", taskID, err)
	}

	scanned, matched, runErr := e.scanWindow(ctx, task)
	published := 0
	if runErr == nil && !task.DryRun {
		published, runErr = e.publishMatched(ctx, task, matched)
	}

	now := e.now().UTC()
	task.Scanned = scanned
	task.Matched = len(matched)
	task.Published = published
	task.CompletedAt = &now
	switch {
	case runErr == nil:
		task.Status = StatusCompleted
	case errors.Is(runErr, context.Canceled):
		task.Status = StatusCanceled
		task.Error = "Task canceled"
	default:
		task.Status = StatusFailed
		task.Error = runErr.Error()
	}

	// Persist with a fresh context: the worker context is already
	// cancelled on the canceled path.
	if err := e.store.Save(context.WithoutCancel(ctx), task); err != nil {
		log.Printf("replay: persist task %s failed: %v", taskID, err)
		return
	}
	metrics.ReplayTasksFinished.WithLabelValues(task.Status).Inc()
	log.Printf("replay: task %s finished status=%s scanned=%d matched=%d published=%d",
		task.TaskID, task.Status, task.Scanned, task.Matched, task.Published)
}

// scanWindow pages through the source stream and collects payloads
// whose published_at falls inside the task window. Matched payloads
// beyond max_publish still count as matched.
func (e *Engine) scanWindow(ctx context.Context, task *Task) (int, []map[string]any, error) {
	cursor := bus.StartID
	scanned := 0
	var matched []map[string]any

	for scanned < task.MaxScan {
		if err := ctx.Err(); err != nil {
			return scanned, matched, err
		}

		count := scanBatchSize
		if remaining := task.MaxScan - scanned; remaining < count {
			count = remaining
		}
		batch, err := e.bus.Range(ctx, task.SourceStream, cursor, count)
		if err != nil {
			return scanned, matched, err
		}
		if len(batch) == 0 {
			break
		}

		for _, rec := range batch {
			scanned++
			var payload map[string]any
			if err := json.Unmarshal(rec.Data, &payload); err != nil {
				continue
			}
			raw, _ := payload["published_at"].(string)
			if raw == "" {
				continue
			}
			publishedAt, err := ParseEventTime(raw)
			if err != nil {
				continue
			}
			if InWindow(publishedAt, task.Start, task.End) {
				matched = append(matched, payload)
			}
		}
		cursor = bus.NextID(batch[len(batch)-1].ID)
	}
	return scanned, matched, nil
}

func (e *Engine) publishMatched(ctx context.Context, task *Task, matched []map[string]any) (int, error) {
	selected := matched
	if len(selected) > task.MaxPublish {
		selected = selected[:task.MaxPublish]
	}

	published := 0
	for i, payload := range selected {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		data, err := MarshalReplayPayload(BuildReplayPayload(payload, task.ReplayID, i+1))
		if err != nil {
			return published, err
		}
		if _, err := e.bus.Publish(ctx, task.TargetStream, data); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
