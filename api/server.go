// Package api implements the HTTP surface of SPEC_FULL.md §5/§6: workflow
// CRUD, manual run submission, run listing, the unauthenticated webhook
// intake route, trigger test-fire, and the run-status websocket stream —
// routed with httprouter (the teacher's own go.mod dependency), CORS via
// rs/cors, and bearer-token tenant extraction via golang-jwt/jwt/v4.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/zecflow/core/metrics"
	"github.com/zecflow/core/model"
	"github.com/zecflow/core/queue"
	"github.com/zecflow/core/trigger"
	"github.com/zecflow/core/workflow"
	"github.com/zecflow/core/zecflog"
	"github.com/zecflow/core/zerrs"
)

type httpHandleFunc = httprouter.Handle
type params = httprouter.Params

// WorkflowStore is the subset of store.WorkflowStore the API needs.
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*model.Workflow, error)
	Create(ctx context.Context, wf *model.Workflow) error
	Save(ctx context.Context, wf *model.Workflow) error
}

// RunStore is the subset of store.RunStore the API needs.
type RunStore interface {
	Get(ctx context.Context, id string) (*model.Run, error)
	Create(ctx context.Context, run *model.Run) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]model.Run, error)
}

// TriggerStore is the subset of store.TriggerStore the API needs.
type TriggerStore interface {
	Get(ctx context.Context, id string) (*model.Trigger, error)
	Create(ctx context.Context, t *model.Trigger) error
}

// Enqueuer is the subset of queue.Queue the API needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID string, opts queue.Options) (string, error)
}

// Server wires the HTTP API's routes over a shared set of dependencies.
type Server struct {
	Workflows WorkflowStore
	Runs      RunStore
	Triggers  TriggerStore
	Queue     Enqueuer
	Auth      *Authenticator
	Hub       *Hub
	TriggerDeps *trigger.Deps // shared with the webhook intake route
	Metrics   *metrics.Metrics
	Log       *zecflog.Logger

	router *httprouter.Router
}

// NewServer registers the routes on s and returns the routed handler
// already wrapped with CORS.
func NewServer(s *Server, corsOrigins []string) http.Handler {
	r := httprouter.New()
	s.router = r

	r.POST("/workflows", s.requireAuth(s.createWorkflow))
	r.POST("/workflows/:id/publish", s.requireAuth(s.publishWorkflow))
	r.POST("/runs", s.requireAuth(s.createRun))
	r.GET("/runs", s.requireAuth(s.listRuns))
	r.GET("/runs/:id/stream", s.requireAuth(s.streamRun))
	r.POST("/triggers/hooks/:triggerId", s.webhookHook)
	r.POST("/triggers/:id/test", s.requireAuth(s.testTrigger))
	if s.Metrics != nil {
		r.Handler(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) logger() *zecflog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zecflog.Root()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeZerr(w http.ResponseWriter, err *zerrs.Error) {
	status := http.StatusBadRequest
	switch err.Kind {
	case zerrs.ExternalUnauthenticated:
		status = http.StatusUnauthorized
	case zerrs.InsufficientCredits, zerrs.CreditExhausted:
		status = http.StatusPaymentRequired
	case zerrs.GraphMissing, zerrs.UnknownBlock:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Message, "kind": string(err.Kind)})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request, _ params) {
	var body struct {
		Graph     model.Graph `json:"graph"`
		DatasetID string      `json:"datasetId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf := &model.Workflow{
		ID:        newID(),
		TenantID:  TenantID(r.Context()),
		Status:    model.WorkflowDraft,
		DatasetID: body.DatasetID,
		Graph:     body.Graph,
		Version:   1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.Workflows.Create(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "create workflow failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workflow": wf})
}

func (s *Server) publishWorkflow(w http.ResponseWriter, r *http.Request, ps params) {
	id := ps.ByName("id")
	wf, err := s.Workflows.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if wf.TenantID != TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if _, zerr := workflow.Validate(&wf.Graph); zerr != nil {
		writeZerr(w, zerr)
		return
	}
	wf.Status = model.WorkflowPublished
	wf.Version++
	wf.UpdatedAt = time.Now()
	if err := s.Workflows.Save(r.Context(), wf); err != nil {
		writeError(w, http.StatusInternalServerError, "publish workflow failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow": wf})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request, _ params) {
	var body struct {
		WorkflowID string         `json:"workflowId"`
		Payload    map[string]any `json:"payload"`
	}
	if err := decodeBody(r, &body); err != nil || body.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	wf, err := s.Workflows.Get(r.Context(), body.WorkflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	if wf.TenantID != TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	run := &model.Run{
		ID:         newID(),
		TenantID:   wf.TenantID,
		WorkflowID: wf.ID,
		Payload:    body.Payload,
		Status:     model.RunPending,
		CreatedAt:  time.Now(),
	}
	if err := s.Runs.Create(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	if _, err := s.Queue.Enqueue(r.Context(), run.ID, queue.Options{}); err != nil {
		s.logger().Error("enqueue manual run failed", "runId", run.ID, "err", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, _ params) {
	workflowID := r.URL.Query().Get("workflowId")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflowId query param is required")
		return
	}
	wf, err := s.Workflows.Get(r.Context(), workflowID)
	if err != nil || wf.TenantID != TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	runs, err := s.Runs.ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// testTrigger enqueues a synthetic run for a trigger's workflow, reusing
// the regular createRun persistence path (SPEC_FULL.md §5.5).
func (s *Server) testTrigger(w http.ResponseWriter, r *http.Request, ps params) {
	id := ps.ByName("id")
	t, err := s.Triggers.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}
	if t.TenantID != TenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}
	wf, err := s.Workflows.Get(r.Context(), t.WorkflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	var payload map[string]any
	_ = decodeBody(r, &payload)
	if payload == nil {
		payload = map[string]any{"synthetic": true}
	}

	run := &model.Run{
		ID:         newID(),
		TenantID:   wf.TenantID,
		WorkflowID: wf.ID,
		TriggerID:  t.ID,
		Payload:    payload,
		Status:     model.RunPending,
		CreatedAt:  time.Now(),
	}
	if err := s.Runs.Create(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	if _, err := s.Queue.Enqueue(r.Context(), run.ID, queue.Options{}); err != nil {
		s.logger().Error("enqueue test run failed", "runId", run.ID, "err", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": run.ID})
}

// webhookHook is the unauthenticated inbound webhook intake route.
func (s *Server) webhookHook(w http.ResponseWriter, r *http.Request, ps params) {
	triggerID := ps.ByName("triggerId")
	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	if zerr := trigger.HandleWebhook(r.Context(), s.TriggerDeps, triggerID, headers, raw); zerr != nil {
		writeZerr(w, zerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func newID() string { return uuid.NewString() }
