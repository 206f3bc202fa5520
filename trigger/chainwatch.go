package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/model"
)

// ChainWatchSupervisor implements chain-memo-watch, spec.md §4.4: poll a
// watched address every 30s and fire a run for every newly-observed
// transaction whose memo/amount pass the trigger's configured filters.
type ChainWatchSupervisor struct {
	deps *Deps

	mu   sync.Mutex
	seen map[string]map[string]bool // triggerId -> txid set
}

func NewChainWatchSupervisor(d *Deps) *ChainWatchSupervisor {
	return &ChainWatchSupervisor{deps: d, seen: map[string]map[string]bool{}}
}

// Start polls every 30s until ctx is done.
func (s *ChainWatchSupervisor) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *ChainWatchSupervisor) pollOnce(ctx context.Context) {
	triggers, err := s.deps.Triggers.ListActiveByType(ctx, model.TriggerChainMemo)
	if err != nil {
		s.deps.logger().Error("list chain-memo-watch triggers failed", "err", err)
		return
	}
	wfs, err := s.deps.Workflows.ListPublished(ctx)
	if err != nil {
		s.deps.logger().Error("list published workflows failed", "err", err)
		return
	}
	byID := make(map[string]model.Workflow, len(wfs))
	for _, wf := range wfs {
		byID[wf.ID] = wf
	}

	for _, t := range triggers {
		wf, ok := byID[t.WorkflowID]
		if !ok {
			continue
		}
		s.checkTrigger(ctx, wf, t)
	}
}

func (s *ChainWatchSupervisor) checkTrigger(ctx context.Context, wf model.Workflow, t model.Trigger) {
	address := stringField(t.Config, "address")
	if address == "" || s.deps.Chain == nil {
		return
	}
	minConfirmations := int(floatField(t.Config, "minConfirmations", 1))

	txs, err := s.deps.Chain.ReceivedTransactions(ctx, address, minConfirmations)
	if err != nil {
		s.deps.logger().Error("chain-memo-watch poll failed", "triggerId", t.ID, "err", err)
		return
	}

	s.mu.Lock()
	seen, ok := s.seen[t.ID]
	if !ok {
		seen = map[string]bool{}
		s.seen[t.ID] = seen
	}
	s.mu.Unlock()

	memoContains := stringField(t.Config, "memoContains")
	minAmount := floatField(t.Config, "minAmount", 0)

	for _, tx := range txs {
		s.mu.Lock()
		already := seen[tx.TxID]
		if !already {
			seen[tx.TxID] = true
		}
		s.mu.Unlock()
		if already {
			continue
		}
		if tx.Amount < minAmount {
			continue
		}
		memo, _ := clients.DecodeMemo(tx.MemoHex)
		if memoContains != "" && !strings.Contains(memo, memoContains) {
			continue
		}
		payload := map[string]any{
			"txid":          tx.TxID,
			"amount":        tx.Amount,
			"memo":          memo,
			"confirmations": tx.Confirmations,
		}
		if err := createRun(ctx, s.deps, wf, t, payload); err != nil {
			s.deps.logger().Error("create run from chain-memo-watch failed", "triggerId", t.ID, "txid", tx.TxID, "err", err)
		}
	}
}
