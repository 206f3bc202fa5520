package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zecflow/core/model"
	"github.com/zecflow/core/zerrs"
)

// MemoryRunStore is an in-process fake of RunStore/engine.RunStore for unit
// tests, mirroring the teacher's own pattern of hand-rolled in-memory test
// backends (miner/test_backend.go, eth/filters/test_backend.go) rather
// than standing up a live Mongo instance per test.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*model.Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: map[string]*model.Run{}}
}

func (s *MemoryRunStore) Get(ctx context.Context, runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRunStore) Save(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryRunStore) Create(ctx context.Context, run *model.Run) error { return s.Save(ctx, run) }

func (s *MemoryRunStore) ListByWorkflow(ctx context.Context, workflowID string) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Run
	for _, r := range s.runs {
		if r.WorkflowID == workflowID {
			out = append(out, *r)
		}
	}
	return out, nil
}

// MemoryWorkflowStore is an in-process fake of WorkflowStore.
type MemoryWorkflowStore struct {
	mu  sync.Mutex
	wfs map[string]*model.Workflow
}

func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{wfs: map[string]*model.Workflow{}}
}

func (s *MemoryWorkflowStore) Get(ctx context.Context, id string) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.wfs[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryWorkflowStore) Put(wf *model.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *wf
	s.wfs[wf.ID] = &cp
}

func (s *MemoryWorkflowStore) ListPublished(ctx context.Context) ([]model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Workflow
	for _, wf := range s.wfs {
		if wf.Runnable() {
			out = append(out, *wf)
		}
	}
	return out, nil
}

// MemoryConnectorStore is an in-process fake of ConnectorStore.
type MemoryConnectorStore struct {
	mu         sync.Mutex
	connectors map[string]*model.Connector
}

func NewMemoryConnectorStore() *MemoryConnectorStore {
	return &MemoryConnectorStore{connectors: map[string]*model.Connector{}}
}

func (s *MemoryConnectorStore) Get(ctx context.Context, id string) (*model.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConnectorStore) Put(c *model.Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.connectors[c.ID] = &cp
}

// MemoryLedgerStore is an in-process fake of ledger.Store with the same
// per-tenant debit-floor semantics as the mongo-backed implementation.
type MemoryLedgerStore struct {
	mu       sync.Mutex
	balances map[string]int64
	seq      map[string]int64
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{balances: map[string]int64{}, seq: map[string]int64{}}
}

// SetBalance seeds a tenant's starting balance for tests.
func (s *MemoryLedgerStore) SetBalance(tenantID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[tenantID] = balance
}

func (s *MemoryLedgerStore) Balance(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[tenantID], nil
}

func (s *MemoryLedgerStore) AppendEntry(ctx context.Context, entry model.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := entry.Amount
	if entry.Type == model.Debit {
		delta = -entry.Amount
	}
	next := s.balances[entry.TenantID] + delta
	if next < 0 {
		return 0, zerrs.New(zerrs.InsufficientCredits, "tenant %s: insufficient balance for debit of %d", entry.TenantID, entry.Amount)
	}
	s.balances[entry.TenantID] = next
	s.seq[entry.TenantID]++
	_ = time.Now()
	return next, nil
}

// MemoryTriggerStore is an in-process fake of TriggerStore.
type MemoryTriggerStore struct {
	mu       sync.Mutex
	triggers map[string]*model.Trigger
}

func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{triggers: map[string]*model.Trigger{}}
}

func (s *MemoryTriggerStore) Get(ctx context.Context, id string) (*model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, fmt.Errorf("trigger %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTriggerStore) Put(t *model.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
}

func (s *MemoryTriggerStore) ListActiveByType(ctx context.Context, typ model.TriggerType) ([]model.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Trigger
	for _, t := range s.triggers {
		if t.Type == typ && t.Status == model.TriggerActive {
			out = append(out, *t)
		}
	}
	return out, nil
}
