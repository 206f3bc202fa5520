package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/model"
)

type fakeChainRPC struct {
	txs []clients.Transaction
}

func (f *fakeChainRPC) ShieldedSend(ctx context.Context, req clients.SendRequest) (string, error) {
	return "", nil
}
func (f *fakeChainRPC) OperationStatus(ctx context.Context, opID string) (clients.OperationStatus, error) {
	return clients.OperationStatus{}, nil
}
func (f *fakeChainRPC) ReceivedTransactions(ctx context.Context, address string, minConfirmations int) ([]clients.Transaction, error) {
	return f.txs, nil
}

func TestChainWatchFiresOnceOnNewTransactionOnly(t *testing.T) {
	deps, runs, triggers, workflows := newTestDeps()
	chain := &fakeChainRPC{txs: []clients.Transaction{
		{TxID: "tx1", Amount: 5, MemoHex: "68656c6c6f", Confirmations: 2},
	}}
	deps.Chain = chain

	workflows.Put(&model.Workflow{ID: "wf1", TenantID: "t1", Status: model.WorkflowPublished})
	triggers.Put(&model.Trigger{
		ID: "trig1", WorkflowID: "wf1", Type: model.TriggerChainMemo, Status: model.TriggerActive,
		Config: map[string]any{"address": "zaddr1", "minConfirmations": 1.0, "minAmount": 1.0},
	})

	sup := NewChainWatchSupervisor(deps)
	sup.pollOnce(context.Background())
	sup.pollOnce(context.Background())

	all, err := runs.ListByWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "tx1", all[0].Payload["txid"])
	assert.Equal(t, "hello", all[0].Payload["memo"])
}

func TestChainWatchFiltersBelowMinAmount(t *testing.T) {
	deps, runs, triggers, workflows := newTestDeps()
	chain := &fakeChainRPC{txs: []clients.Transaction{{TxID: "tx2", Amount: 0.1, Confirmations: 2}}}
	deps.Chain = chain

	workflows.Put(&model.Workflow{ID: "wf1", TenantID: "t1", Status: model.WorkflowPublished})
	triggers.Put(&model.Trigger{
		ID: "trig2", WorkflowID: "wf1", Type: model.TriggerChainMemo, Status: model.TriggerActive,
		Config: map[string]any{"address": "zaddr1", "minAmount": 1.0},
	})

	sup := NewChainWatchSupervisor(deps)
	sup.pollOnce(context.Background())

	all, _ := runs.ListByWorkflow(context.Background(), "wf1")
	assert.Empty(t, all)
}
