// Package trigger implements the event sources of spec.md §4.4: cron
// schedules, chain memo watches, HTTP polls, social polls and inbound
// webhooks. Each supervisor discovers its active triggers, evaluates
// whatever external condition it watches, and on a match persists a new
// run and hands it to the queue — the only thing any of them do to the
// engine is create work for it.
package trigger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zecflow/core/clients"
	"github.com/zecflow/core/model"
	"github.com/zecflow/core/queue"
	"github.com/zecflow/core/secret"
	"github.com/zecflow/core/zecflog"
)

// WorkflowStore is the subset of store.WorkflowStore every supervisor polls
// from to discover the published workflows it might fire.
type WorkflowStore interface {
	ListPublished(ctx context.Context) ([]model.Workflow, error)
}

// TriggerStore is the subset of store.TriggerStore every supervisor needs.
type TriggerStore interface {
	ListActiveByType(ctx context.Context, t model.TriggerType) ([]model.Trigger, error)
	Get(ctx context.Context, triggerID string) (*model.Trigger, error)
}

// ConnectorStore loads a trigger's bound connector (auth headers, bearer
// tokens, signing secrets) as stored; supervisors decrypt its secret
// fields at point of use via decryptConnector.
type ConnectorStore interface {
	Get(ctx context.Context, connectorID string) (*model.Connector, error)
}

// RunStore is the subset of store.RunStore a supervisor needs to persist a
// new run before handing it to the queue.
type RunStore interface {
	Create(ctx context.Context, run *model.Run) error
}

// Enqueuer is the subset of queue.Queue a supervisor needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, runID string, opts queue.Options) (string, error)
}

// Deps bundles everything the supervisors share. SecretBox is nil in tests
// that use plaintext connector fixtures, mirroring engine.SetSecretBox.
type Deps struct {
	Workflows  WorkflowStore
	Triggers   TriggerStore
	Connectors ConnectorStore
	Runs       RunStore
	Queue      Enqueuer
	Social     clients.Social
	HTTP       clients.HTTP
	Chain      clients.ChainRPC
	SecretBox  *secret.Box
	Log        *zecflog.Logger
}

func (d *Deps) logger() *zecflog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zecflog.Root()
}

// createRun persists a pending run for wf triggered by trig and enqueues it
// for immediate execution, per spec.md §4.4 "on match, create a run".
func createRun(ctx context.Context, d *Deps, wf model.Workflow, trig model.Trigger, payload map[string]any) error {
	run := &model.Run{
		ID:         uuid.NewString(),
		TenantID:   wf.TenantID,
		WorkflowID: wf.ID,
		TriggerID:  trig.ID,
		Payload:    payload,
		Status:     model.RunPending,
		CreatedAt:  time.Now(),
	}
	if err := d.Runs.Create(ctx, run); err != nil {
		return err
	}
	_, err := d.Queue.Enqueue(ctx, run.ID, queue.Options{})
	if err != nil {
		d.logger().Error("enqueue run failed", "runId", run.ID, "triggerId", trig.ID, "err", err)
	}
	return err
}

// decryptConnector mirrors engine.decryptConnector: connector secret fields
// carry the enc: sentinel at rest and are only decrypted at point of use.
func decryptConnector(box *secret.Box, c *model.Connector) (map[string]any, error) {
	if c == nil {
		return nil, nil
	}
	if box == nil {
		return c.Config, nil
	}
	out := make(map[string]any, len(c.Config))
	for k, v := range c.Config {
		s, ok := v.(string)
		if !ok || !secret.IsEncrypted(s) {
			out[k] = v
			continue
		}
		plain, err := box.Decrypt(s)
		if err != nil {
			return nil, err
		}
		out[k] = plain
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// lookupWorkflow finds a published workflow by id among the store's
// currently-published set, used by supervisors that only know a
// trigger's workflowId.
func (d *Deps) lookupWorkflow(ctx context.Context, workflowID string) (*model.Workflow, error) {
	wfs, err := d.Workflows.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	for _, wf := range wfs {
		if wf.ID == workflowID {
			cp := wf
			return &cp, nil
		}
	}
	return nil, errNotFound(workflowID)
}

type errNotFound string

func (e errNotFound) Error() string { return "workflow " + string(e) + " not found or not published" }

func durationSecondsField(m map[string]any, key string, def, min time.Duration) time.Duration {
	secs, ok := m[key].(float64)
	if !ok || secs <= 0 {
		return def
	}
	d := time.Duration(secs) * time.Second
	if d < min {
		return min
	}
	return d
}
