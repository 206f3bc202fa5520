package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecflow/core/model"
	"github.com/zecflow/core/queue"
	"github.com/zecflow/core/store"
)

func newTestDeps() (*Deps, *store.MemoryRunStore, *store.MemoryTriggerStore, *store.MemoryWorkflowStore) {
	runs := store.NewMemoryRunStore()
	triggers := store.NewMemoryTriggerStore()
	workflows := store.NewMemoryWorkflowStore()
	connectors := store.NewMemoryConnectorStore()
	return &Deps{
		Workflows:  workflows,
		Triggers:   triggers,
		Connectors: connectors,
		Runs:       runs,
		Queue:      noopEnqueuer{},
	}, runs, triggers, workflows
}

type noopEnqueuer struct{}

func (noopEnqueuer) Enqueue(ctx context.Context, runID string, opts queue.Options) (string, error) {
	return "job-" + runID, nil
}

func TestHandleWebhookPlainSharedSecret(t *testing.T) {
	deps, runs, triggers, workflows := newTestDeps()
	workflows.Put(&model.Workflow{ID: "wf1", TenantID: "t1", Status: model.WorkflowPublished})
	triggers.Put(&model.Trigger{
		ID: "trig1", WorkflowID: "wf1", Type: model.TriggerWebhook, Status: model.TriggerActive,
		Config: map[string]any{"secret": "s3cr3t"},
	})

	body := []byte(`{"hello":"world"}`)
	zerr := HandleWebhook(context.Background(), deps, "trig1", map[string]string{"X-Trigger-Secret": "s3cr3t"}, body)
	require.Nil(t, zerr)

	all, err := runs.ListByWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "world", all[0].Payload["hello"])
}

func TestHandleWebhookPlainWrongSecretRejected(t *testing.T) {
	deps, _, triggers, workflows := newTestDeps()
	workflows.Put(&model.Workflow{ID: "wf1", TenantID: "t1", Status: model.WorkflowPublished})
	triggers.Put(&model.Trigger{
		ID: "trig1", WorkflowID: "wf1", Type: model.TriggerWebhook, Status: model.TriggerActive,
		Config: map[string]any{"secret": "s3cr3t"},
	})

	zerr := HandleWebhook(context.Background(), deps, "trig1", map[string]string{"X-Trigger-Secret": "wrong"}, []byte(`{}`))
	require.NotNil(t, zerr)
	assert.Equal(t, "external_unauthenticated", string(zerr.Kind))
}

func TestHandleWebhookHMACSignature(t *testing.T) {
	deps, runs, triggers, workflows := newTestDeps()
	workflows.Put(&model.Workflow{ID: "wf1", TenantID: "t1", Status: model.WorkflowPublished})
	triggers.Put(&model.Trigger{
		ID: "trig1", WorkflowID: "wf1", Type: model.TriggerWebhook, Status: model.TriggerActive,
		Config: map[string]any{"secret": "sig-secret", "authType": "hmac-sha256-code-forge"},
	})

	body := []byte(`{"pushed":true}`)
	mac := hmac.New(sha256.New, []byte("sig-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	zerr := HandleWebhook(context.Background(), deps, "trig1", map[string]string{"X-Hub-Signature-256": sig}, body)
	require.Nil(t, zerr)

	all, err := runs.ListByWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}
