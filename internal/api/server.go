// Package api is the orchestrator's HTTP surface: pipeline control,
// stream stats and the replay task endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newstrade/internal/events"
	"newstrade/internal/replay"
)

// StreamCounter reports per-stream record counts.
type StreamCounter interface {
	StreamLen(ctx context.Context, stream string) (int64, error)
}

// Server wires the orchestrator endpoints.
type Server struct {
	Router  *gin.Engine
	Control ControlStore
	Streams StreamCounter
	Replay  *replay.Engine
	Env     string
}

func NewServer(control ControlStore, streams StreamCounter, engine *replay.Engine, env string) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Router:  r,
		Control: control,
		Streams: streams,
		Replay:  engine,
		Env:     env,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.Router.POST("/strategy/start", s.strategyStart)
	s.Router.POST("/strategy/stop", s.strategyStop)
	s.Router.POST("/config/update", s.configUpdate)
	s.Router.GET("/metrics/summary", s.metricsSummary)

	s.Router.POST("/replay/news-window", s.replayNewsWindow)
	s.Router.GET("/replay/tasks", s.listReplayTasks)
	s.Router.GET("/replay/tasks/:id", s.getReplayTask)
	s.Router.POST("/replay/tasks/:id/cancel", s.cancelReplayTask)
	s.Router.POST("/replay/tasks/:id/retry", s.retryReplayTask)
	s.Router.GET("/replay/metrics", s.replayMetrics)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	redisOK := s.Control.Ping(c.Request.Context()) == nil
	c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": redisOK, "env": s.Env})
}

func (s *Server) strategyStart(c *gin.Context) {
	if err := s.Control.SetStrategyActive(c.Request.Context(), true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true})
}

func (s *Server) strategyStop(c *gin.Context) {
	if err := s.Control.SetStrategyActive(c.Request.Context(), false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": false})
}

type configUpdateRequest struct {
	Values map[string]string `json:"values"`
}

func (s *Server) configUpdate(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	values, err := s.Control.UpdateConfig(c.Request.Context(), req.Values)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true, "values": values})
}

func (s *Server) metricsSummary(c *gin.Context) {
	ctx := c.Request.Context()
	lengths := make(map[string]int64, len(events.PipelineStreams))
	for _, stream := range events.PipelineStreams {
		n, err := s.Streams.StreamLen(ctx, stream)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		lengths[stream] = n
	}
	active, err := s.Control.StrategyActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream_lengths": lengths, "strategy_active": active})
}

type replayWindowRequest struct {
	Start        time.Time `json:"start" binding:"required"`
	End          time.Time `json:"end" binding:"required"`
	SourceStream string    `json:"source_stream"`
	TargetStream string    `json:"target_stream"`
	MaxScan      int       `json:"max_scan"`
	MaxPublish   int       `json:"max_publish"`
	DryRun       bool      `json:"dry_run"`
	AsyncMode    *bool     `json:"async_mode"`
}

func (r *replayWindowRequest) async() bool {
	return r.AsyncMode == nil || *r.AsyncMode
}

func replayError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, replay.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, replay.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, replay.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) replayNewsWindow(c *gin.Context) {
	var req replayWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.Replay.Submit(c.Request.Context(), replay.Request{
		Start:        req.Start,
		End:          req.End,
		SourceStream: req.SourceStream,
		TargetStream: req.TargetStream,
		MaxScan:      req.MaxScan,
		MaxPublish:   req.MaxPublish,
		DryRun:       req.DryRun,
		Async:        req.async(),
	})
	if err != nil {
		replayError(c, err)
		return
	}

	if req.async() {
		c.JSON(http.StatusAccepted, gin.H{
			"accepted":   true,
			"async_mode": true,
			"task_id":    task.TaskID,
			"replay_id":  task.ReplayID,
			"status":     task.Status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "async_mode": false, "task": task})
}

func (s *Server) getReplayTask(c *gin.Context) {
	task, err := s.Replay.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		replayError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) listReplayTasks(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20, 200)
	tasks, err := s.Replay.List(c.Request.Context(), limit)
	if err != nil {
		replayError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*replay.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) cancelReplayTask(c *gin.Context) {
	task, err := s.Replay.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		replayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": true, "task": task})
}

type replayRetryRequest struct {
	AsyncMode *bool `json:"async_mode"`
}

func (r *replayRetryRequest) async() bool {
	return r.AsyncMode == nil || *r.AsyncMode
}

func (s *Server) retryReplayTask(c *gin.Context) {
	var req replayRetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	retryOf := c.Param("id")
	task, err := s.Replay.Retry(c.Request.Context(), retryOf, req.async())
	if err != nil {
		replayError(c, err)
		return
	}

	if req.async() {
		c.JSON(http.StatusAccepted, gin.H{
			"accepted":   true,
			"async_mode": true,
			"task_id":    task.TaskID,
			"replay_id":  task.ReplayID,
			"status":     task.Status,
			"retry_of":   retryOf,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "async_mode": false, "retry_of": retryOf, "task": task})
}

func (s *Server) replayMetrics(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 200, 1000)
	report, err := s.Replay.Metrics(c.Request.Context(), limit)
	if err != nil {
		replayError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
