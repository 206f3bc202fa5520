package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zecflow/core/model"
)

// ScheduleSupervisor runs cron triggers, spec.md §4.4 "cron". It keeps a
// live robfig/cron/v3 scheduler in sync with the active cron triggers found
// on each reconciliation pass, registering newly-published triggers and
// deregistering ones that were paused or deleted.
type ScheduleSupervisor struct {
	deps *Deps
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID // triggerId -> cron entry
}

// NewScheduleSupervisor builds a supervisor with a running cron instance.
// Call Start to begin reconciling and Stop to drain it.
func NewScheduleSupervisor(d *Deps) *ScheduleSupervisor {
	return &ScheduleSupervisor{
		deps:    d,
		cron:    cron.New(),
		entries: map[string]cron.EntryID{},
	}
}

// Start launches the cron scheduler and a reconciliation loop that re-syncs
// registered entries against the store every interval, until ctx is done.
func (s *ScheduleSupervisor) Start(ctx context.Context, reconcileEvery time.Duration) {
	if reconcileEvery <= 0 {
		reconcileEvery = 30 * time.Second
	}
	s.cron.Start()
	s.Reconcile(ctx)

	ticker := time.NewTicker(reconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// Reconcile registers cron entries for active cron triggers not yet
// scheduled, and removes entries for triggers that are no longer active —
// the dynamic register/deregister spec.md §4.4 asks for on publish/pause,
// implemented as idempotent polling rather than an event push since nothing
// upstream currently emits a publish/pause event.
func (s *ScheduleSupervisor) Reconcile(ctx context.Context) {
	triggers, err := s.deps.Triggers.ListActiveByType(ctx, model.TriggerCron)
	if err != nil {
		s.deps.logger().Error("list cron triggers failed", "err", err)
		return
	}

	active := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		active[t.ID] = true
		s.ensureRegistered(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for triggerID, entryID := range s.entries {
		if !active[triggerID] {
			s.cron.Remove(entryID)
			delete(s.entries, triggerID)
		}
	}
}

func (s *ScheduleSupervisor) ensureRegistered(t model.Trigger) {
	s.mu.Lock()
	_, already := s.entries[t.ID]
	s.mu.Unlock()
	if already {
		return
	}

	expr := stringField(t.Config, "expression")
	if expr == "" {
		return
	}
	trig := t
	entryID, err := s.cron.AddFunc(expr, func() { s.fire(trig) })
	if err != nil {
		s.deps.logger().Error("invalid cron expression", "triggerId", t.ID, "expression", expr, "err", err)
		return
	}
	s.mu.Lock()
	s.entries[t.ID] = entryID
	s.mu.Unlock()
}

func (s *ScheduleSupervisor) fire(t model.Trigger) {
	ctx := context.Background()
	wf, err := s.deps.lookupWorkflow(ctx, t.WorkflowID)
	if err != nil {
		s.deps.logger().Error("cron trigger fired for missing workflow", "triggerId", t.ID, "workflowId", t.WorkflowID, "err", err)
		return
	}
	if !wf.Runnable() {
		return
	}
	payload := map[string]any{"firedAt": time.Now().UTC().Format(time.RFC3339), "triggerId": t.ID}
	if err := createRun(ctx, s.deps, *wf, t, payload); err != nil {
		s.deps.logger().Error("create run from cron trigger failed", "triggerId", t.ID, "err", err)
	}
}

