// Package metrics holds the Prometheus instrumentation shared by the
// stream workers and the replay engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts records a stage worker handled, including
	// ones that failed and were skipped.
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrade_worker_records_total",
		Help: "Records consumed per stage worker.",
	}, []string{"service"})

	// RecordErrors counts handler failures. The cursor still advances,
	// so this is the only trace a bad record leaves.
	RecordErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrade_worker_errors_total",
		Help: "Handler failures per stage worker.",
	}, []string{"service"})

	// EventsPublished counts events emitted to each stream.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrade_events_published_total",
		Help: "Events published per output stream.",
	}, []string{"stream"})

	// ReplayTasksFinished counts replay tasks by terminal status.
	ReplayTasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrade_replay_tasks_total",
		Help: "Replay tasks finished per terminal status.",
	}, []string{"status"})
)
