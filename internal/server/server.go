package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/chipower/internal/config"
	"github.com/copyleftdev/chipower/internal/errors"
	"github.com/copyleftdev/chipower/internal/metrics"
	"github.com/copyleftdev/chipower/internal/power"
	"github.com/copyleftdev/chipower/internal/power/montecarlo"
)

const component = "server"

// Logger defines the logging interface used by the server.
// Named hands the numeric engine a zap logger for its own component.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Named(component string) *zap.Logger
}

// JobStatus is the lifecycle state of a search job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// SearchJob tracks an asynchronous sample size search.
// Fields are guarded by Server.jobsMu.
type SearchJob struct {
	ID          string
	Status      JobStatus
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Config      power.SearchConfig
	Result      *power.SearchResult
	Err         string

	search *montecarlo.Search
	cancel context.CancelFunc
}

// SearchStatus is the externally visible view of a SearchJob.
type SearchStatus struct {
	ID          string              `json:"search_id"`
	Status      JobStatus           `json:"status"`
	StartTime   time.Time           `json:"start_time"`
	EndTime     *time.Time          `json:"end_time,omitempty"`
	LastUpdated time.Time           `json:"last_update"`
	Config      power.SearchConfig  `json:"config"`
	Iterations  int                 `json:"iterations"`
	Progress    *power.Iteration    `json:"progress,omitempty"`
	Result      *power.SearchResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Server implements the HTTP and JSON-RPC API of the power analysis service.
// It runs estimates inline and manages search jobs, of which at most
// Jobs.MaxConcurrent run at once.
type Server struct {
	cfg    *config.Config
	logger Logger
	pool   *montecarlo.CountPool
	slots  *semaphore.Weighted

	jobs   map[string]*SearchJob
	jobsMu sync.RWMutex
	wg     sync.WaitGroup
}

// NewServer creates a new server instance with the given config and logger.
func NewServer(cfg *config.Config, logger Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		pool:   montecarlo.NewCountPool(),
		slots:  semaphore.NewWeighted(int64(cfg.Jobs.MaxConcurrent)),
		jobs:   make(map[string]*SearchJob),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/estimate", s.handleEstimate)
		r.Post("/search", s.handleSearch)
		r.Get("/search/{id}", s.handleSearchStatus)
		r.Delete("/search/{id}", s.handleSearchCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// newSession builds a session from request parameters and the configured defaults.
func (s *Server) newSession(params SearchParams) (*power.Session, error) {
	for name, v := range map[string][]float64{"p": params.P, "ptest": params.PTest} {
		if !power.Standardized(v) {
			s.logger.Warn("Probabilities standardised", map[string]interface{}{
				"vector": name,
				"values": v,
			})
		}
	}
	return power.NewSession(params.P, params.PTest, params.merge(s.cfg.SearchDefaults()))
}

// estimate runs a single power estimate. It blocks until the estimate is done
// or ctx is cancelled.
func (s *Server) estimate(ctx context.Context, req EstimateRequest) (*EstimateResponse, error) {
	session, err := s.newSession(req.SearchParams)
	if err != nil {
		return nil, err
	}

	est, err := montecarlo.EstimatePower(ctx, session, req.N,
		montecarlo.WithLogger(s.logger.Named("montecarlo")),
		montecarlo.WithCountPool(s.pool),
	)
	if err != nil {
		return nil, err
	}

	return &EstimateResponse{
		Estimate:         est,
		Confidence:       session.Config().Confidence,
		CriticalValue:    session.CriticalValue(),
		DegreesOfFreedom: session.DegreesOfFreedom(),
	}, nil
}

// startSearch validates the request, reserves a job slot and starts the
// search in a goroutine.
func (s *Server) startSearch(req SearchRequest) (*SearchStatus, error) {
	session, err := s.newSession(req.SearchParams)
	if err != nil {
		return nil, err
	}

	if !s.slots.TryAcquire(1) {
		return nil, errors.NewKind(errors.KindUnavailable, "too many running searches (limit %d)", s.cfg.Jobs.MaxConcurrent).
			WithComponent(component).WithOperation("startSearch")
	}

	s.sweepJobs(time.Now())

	id := uuid.NewString()
	search, err := montecarlo.NewSearch(session,
		montecarlo.WithLogger(s.logger.Named("montecarlo").With(zap.String("search_id", id))),
		montecarlo.WithCountPool(s.pool),
	)
	if err != nil {
		s.slots.Release(1)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &SearchJob{
		ID:          id,
		Status:      JobPending,
		StartTime:   now,
		LastUpdated: now,
		Config:      session.Config(),
		search:      search,
		cancel:      cancel,
	}

	s.jobsMu.Lock()
	s.jobs[id] = job
	s.jobsMu.Unlock()

	metrics.JobStarted()
	s.wg.Add(1)
	go s.runSearch(ctx, job)

	s.logger.Info("Search started", map[string]interface{}{
		"search_id":   id,
		"confidence":  job.Config.Confidence,
		"precision":   job.Config.Precision,
		"repetitions": job.Config.Repetitions,
	})

	return s.searchStatus(id)
}

// runSearch executes a search job and records its outcome.
func (s *Server) runSearch(ctx context.Context, job *SearchJob) {
	defer s.wg.Done()
	defer metrics.JobFinished()
	defer s.slots.Release(1)
	defer job.cancel()

	s.jobsMu.Lock()
	if job.Status == JobPending {
		job.Status = JobRunning
		job.LastUpdated = time.Now()
	}
	s.jobsMu.Unlock()

	result, err := job.search.Run(ctx)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	now := time.Now()
	job.LastUpdated = now
	switch {
	case job.Status == JobCancelled:
		// cancelSearch already recorded the end
	case err != nil && errors.IsKind(err, errors.KindCancelled):
		job.Status = JobCancelled
		job.EndTime = &now
	case err != nil:
		s.logger.Error("Search failed", map[string]interface{}{
			"search_id": job.ID,
			"error":     err.Error(),
		})
		job.Status = JobFailed
		job.Err = err.Error()
		job.EndTime = &now
	default:
		job.Status = JobCompleted
		job.Result = result
		job.EndTime = &now
		s.logger.Info("Search finished", map[string]interface{}{
			"search_id":   job.ID,
			"status":      string(result.Status),
			"sample_size": result.SampleSize,
			"power":       result.Power,
			"iterations":  result.Iterations,
		})
	}
}

// sweepJobs forgets finished jobs that ended more than Jobs.Retention before now.
func (s *Server) sweepJobs(now time.Time) int {
	retention := s.cfg.Jobs.Retention
	if retention <= 0 {
		return 0
	}
	cutoff := now.Add(-retention)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.Status.terminal() && job.EndTime != nil && job.EndTime.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("Expired search jobs removed", map[string]interface{}{
			"removed":   removed,
			"retention": retention.String(),
		})
	}
	return removed
}

// searchStatus returns the current view of a search job.
func (s *Server) searchStatus(id string) (*SearchStatus, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NewKind(errors.KindNotFound, "search %q not found", id).
			WithComponent(component).WithOperation("searchStatus")
	}

	status := &SearchStatus{
		ID:          job.ID,
		Status:      job.Status,
		StartTime:   job.StartTime,
		EndTime:     job.EndTime,
		LastUpdated: job.LastUpdated,
		Config:      job.Config,
		Result:      job.Result,
		Error:       job.Err,
	}
	history := job.search.History()
	status.Iterations = len(history)
	if len(history) > 0 {
		last := history[len(history)-1]
		status.Progress = &last
	}
	return status, nil
}

// cancelSearch cancels a pending or running search job.
func (s *Server) cancelSearch(id string) error {
	const op = "cancelSearch"

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.NewKind(errors.KindNotFound, "search %q not found", id).
			WithComponent(component).WithOperation(op)
	}
	if job.Status.terminal() {
		return errors.NewKind(errors.KindConflict, "cannot cancel search with status: %s", job.Status).
			WithComponent(component).WithOperation(op)
	}

	job.cancel()
	now := time.Now()
	job.Status = JobCancelled
	job.EndTime = &now
	job.LastUpdated = now

	s.logger.Info("Search cancelled", map[string]interface{}{
		"search_id": id,
	})
	return nil
}

// Close cancels all running searches and waits for them to return.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, job := range s.jobs {
		job.cancel()
	}
	s.jobsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// handleEstimate handles POST /api/v1/estimate.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		s.respondWithHTTPError(w, err)
		return
	}

	result, err := s.estimate(r.Context(), req)
	if err != nil {
		s.respondWithHTTPError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleSearch handles POST /api/v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		s.respondWithHTTPError(w, err)
		return
	}

	status, err := s.startSearch(req)
	if err != nil {
		s.respondWithHTTPError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, status)
}

// handleSearchStatus handles GET /api/v1/search/{id}.
func (s *Server) handleSearchStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.searchStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithHTTPError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleSearchCancel handles DELETE /api/v1/search/{id}.
func (s *Server) handleSearchCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelSearch(chi.URLParam(r, "id")); err != nil {
		s.respondWithHTTPError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

// respondWithHTTPError writes err with the status code its kind maps to.
func (s *Server) respondWithHTTPError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}
	respondJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  errors.KindOf(err),
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
