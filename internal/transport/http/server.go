// Package http implements the harness's REST transport: the
// transport-agnostic core surfaces (spec §6 Submit/CancelRun/CancelAll/
// RerunBatch/Subscribe/GetRunStatus/Evaluate/PromoteToCollection/
// Compare) exposed over plain JSON HTTP, using the standard library's
// method-and-path ServeMux patterns rather than a third-party router
// (no router library is carried from the example pack once
// grpc-gateway was dropped; see DESIGN.md).
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/benchharness/harness/internal/collection"
	"github.com/benchharness/harness/internal/coordinator"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/evaluator"
	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/queue"
	"github.com/benchharness/harness/internal/suite"
	"github.com/benchharness/harness/internal/variant"
	"github.com/benchharness/harness/pkg/health"
)

// Server wires the Queue Manager, Evaluator Scheduler, Collection
// Aggregator, and Event Bus into one REST API.
type Server struct {
	queue    *queue.Manager
	eval     *evaluator.Scheduler
	collect  *collection.Aggregator
	bus      *eventbus.Bus
	suite    *suite.TestSuite
	variants variant.Catalog
	health   *health.Registry
	logger   zerolog.Logger

	mux *http.ServeMux
}

// New builds a Server and registers its routes.
func New(q *queue.Manager, eval *evaluator.Scheduler, collect *collection.Aggregator, bus *eventbus.Bus, ts *suite.TestSuite, variants variant.Catalog, healthReg *health.Registry, logger zerolog.Logger) *Server {
	s := &Server{
		queue:    q,
		eval:     eval,
		collect:  collect,
		bus:      bus,
		suite:    ts,
		variants: variants,
		health:   healthReg,
		logger:   logger.With().Str("component", "transport_http").Logger(),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /variants", s.handleListVariants)

	s.mux.HandleFunc("POST /runs", s.handleSubmit)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRunStatus)
	s.mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	s.mux.HandleFunc("POST /runs/cancel-all", s.handleCancelAll)
	s.mux.HandleFunc("POST /runs/{id}/batches/{num}/rerun", s.handleRerunBatch)
	s.mux.HandleFunc("GET /runs/{id}/events", s.handleSubscribe)

	s.mux.HandleFunc("POST /artifacts/{id}/evaluate", s.handleEvaluate)

	s.mux.HandleFunc("POST /collections", s.handlePromoteToCollection)
	s.mux.HandleFunc("GET /collections", s.handleListCollections)
	s.mux.HandleFunc("POST /collections/{name}/members", s.handleAddToCollection)
	s.mux.HandleFunc("DELETE /collections/{name}/members/{artifact_id}", s.handleRemoveFromCollection)
	s.mux.HandleFunc("DELETE /collections/{name}", s.handleDeleteCollection)
	s.mux.HandleFunc("GET /collections/{name}/stats", s.handleCollectionStats)
	s.mux.HandleFunc("GET /collections/compare", s.handleCompare)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Run(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	vs, err := s.variants.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

type submitRequest struct {
	Model       string   `json:"model"`
	Variant     string   `json:"variant"`
	Temperature float64  `json:"temperature"`
	BatchSize   int      `json:"batch_size,omitempty"`
	BatchSizes  []int    `json:"batch_sizes,omitempty"`
	SuiteFilter []string `json:"suite_filter,omitempty"`
	QueueSize   int      `json:"queue_size"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, harnesserr.Wrap(harnesserr.Config, "invalid request body", err))
		return
	}

	v, err := s.variants.Get(r.Context(), req.Variant)
	if err != nil {
		writeError(w, err)
		return
	}

	runReq := coordinator.RunRequest{
		Model:       req.Model,
		Variant:     req.Variant,
		Temperature: req.Temperature,
		BatchSizing: coordinator.BatchSizing{Uniform: req.BatchSize, Sizes: req.BatchSizes},
		SuiteFilter: req.SuiteFilter,
	}

	queueSize := req.QueueSize
	if queueSize == 0 {
		queueSize = 1
	}

	ids, err := s.queue.Submit(r.Context(), runReq, s.suite, v, queueSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_ids": ids})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.queue.GlobalSnapshot(id)
	if !ok {
		writeError(w, harnesserr.New(harnesserr.BadRequest, "no such run: "+id))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.CancelRun(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	s.queue.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRerunBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	num, err := strconv.Atoi(r.PathValue("num"))
	if err != nil {
		writeError(w, harnesserr.New(harnesserr.BadRequest, "invalid batch number"))
		return
	}
	if err := s.queue.RerunBatch(r.Context(), id, num); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubscribe streams run-scoped events as newline-delimited JSON
// (spec §6 `Subscribe(topic, cursor)`; the realtime WebSocket leg in
// transport/ws serves the same topics for browser clients).
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cursor := uint64(0)
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.ParseUint(c, 10, 64)
		if err != nil {
			writeError(w, harnesserr.New(harnesserr.BadRequest, "invalid cursor"))
			return
		}
		cursor = parsed
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, harnesserr.New(harnesserr.Config, "streaming unsupported"))
		return
	}

	sub := s.bus.Subscribe(eventbus.RunTopic(id), cursor)
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Kind.Terminal() {
				return
			}
		}
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.eval.Evaluate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type promoteRequest struct {
	Name        string   `json:"name"`
	ArtifactIDs []string `json:"artifact_ids"`
}

func (s *Server) handlePromoteToCollection(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, harnesserr.Wrap(harnesserr.Config, "invalid request body", err))
		return
	}
	c, err := s.collect.CreateFromSelection(r.Context(), req.Name, req.ArtifactIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.collect.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleAddToCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		ArtifactID string `json:"artifact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, harnesserr.Wrap(harnesserr.Config, "invalid request body", err))
		return
	}
	if err := s.collect.Add(r.Context(), name, req.ArtifactID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFromCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	artifactID := r.PathValue("artifact_id")
	if err := s.collect.Remove(r.Context(), name, artifactID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.collect.Delete(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCollectionStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	stats, err := s.collect.Statistics(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	a := r.URL.Query().Get("a")
	b := r.URL.Query().Get("b")
	if a == "" || b == "" {
		writeError(w, harnesserr.New(harnesserr.BadRequest, "query params a and b are required"))
		return
	}
	cmp, err := s.collect.Compare(r.Context(), a, b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := harnesserr.KindOf(err); ok {
		switch kind {
		case harnesserr.BadRequest, harnesserr.Config:
			status = http.StatusBadRequest
		case harnesserr.Timeout:
			status = http.StatusGatewayTimeout
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
