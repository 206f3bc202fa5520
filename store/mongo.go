// Package store persists the documents named in spec.md §6 "Persisted
// state layout": runs/{id}, workflows/{id}, triggers/{id}, connectors/{id},
// ledger/{tenant}/{seq}, backed by go.mongodb.org/mongo-driver — the
// teacher's own (indirect) dependency, promoted here to the store's
// direct backing database, matching MONGO_URI from spec.md §6.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zecflow/core/model"
)

// Mongo bundles the collection handles the store needs, opened once at
// process start from MONGO_URI.
type Mongo struct {
	Runs       *mongo.Collection
	Workflows  *mongo.Collection
	Triggers   *mongo.Collection
	Connectors *mongo.Collection
	Ledger     *mongo.Collection
	Counters   *mongo.Collection
}

// Connect dials MONGO_URI and returns a Mongo handle over the zecflow
// database's collections.
func Connect(ctx context.Context, uri string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database("zecflow")
	return &Mongo{
		Runs:       db.Collection("runs"),
		Workflows:  db.Collection("workflows"),
		Triggers:   db.Collection("triggers"),
		Connectors: db.Collection("connectors"),
		Ledger:     db.Collection("ledger"),
		Counters:   db.Collection("counters"),
	}, nil
}

// RunStore is the mongo-backed implementation of engine.RunStore plus the
// extra CRUD the HTTP API needs (create, list-by-workflow).
type RunStore struct{ col *mongo.Collection }

func NewRunStore(m *Mongo) *RunStore { return &RunStore{col: m.Runs} }

func (s *RunStore) Get(ctx context.Context, runID string) (*model.Run, error) {
	var run model.Run
	err := s.col.FindOne(ctx, bson.M{"_id": runID}).Decode(&run)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) Save(ctx context.Context, run *model.Run) error {
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": run.ID}, run, options.Replace().SetUpsert(true))
	return err
}

func (s *RunStore) Create(ctx context.Context, run *model.Run) error {
	_, err := s.col.InsertOne(ctx, run)
	return err
}

func (s *RunStore) ListByWorkflow(ctx context.Context, workflowID string) ([]model.Run, error) {
	cur, err := s.col.Find(ctx, bson.M{"workflowId": workflowID}, options.Find().SetSort(bson.M{"createdAt": -1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var runs []model.Run
	if err := cur.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// WorkflowStore is the mongo-backed implementation of engine.WorkflowStore
// plus create/publish CRUD.
type WorkflowStore struct{ col *mongo.Collection }

func NewWorkflowStore(m *Mongo) *WorkflowStore { return &WorkflowStore{col: m.Workflows} }

func (s *WorkflowStore) Get(ctx context.Context, workflowID string) (*model.Workflow, error) {
	var wf model.Workflow
	err := s.col.FindOne(ctx, bson.M{"_id": workflowID}).Decode(&wf)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *WorkflowStore) Create(ctx context.Context, wf *model.Workflow) error {
	_, err := s.col.InsertOne(ctx, wf)
	return err
}

func (s *WorkflowStore) Save(ctx context.Context, wf *model.Workflow) error {
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": wf.ID}, wf, options.Replace().SetUpsert(true))
	return err
}

// ListPublished returns every published workflow, whatever its trigger
// type; the schedule/chain-watch/http-poll/social-poll supervisors match
// the result to their triggers by workflow id (spec.md §4.4).
func (s *WorkflowStore) ListPublished(ctx context.Context) ([]model.Workflow, error) {
	cur, err := s.col.Find(ctx, bson.M{"status": model.WorkflowPublished})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var wfs []model.Workflow
	if err := cur.All(ctx, &wfs); err != nil {
		return nil, err
	}
	return wfs, nil
}

// TriggerStore is the mongo-backed implementation backing the HTTP API
// and every trigger supervisor.
type TriggerStore struct{ col *mongo.Collection }

func NewTriggerStore(m *Mongo) *TriggerStore { return &TriggerStore{col: m.Triggers} }

func (s *TriggerStore) Get(ctx context.Context, triggerID string) (*model.Trigger, error) {
	var t model.Trigger
	err := s.col.FindOne(ctx, bson.M{"_id": triggerID}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("trigger %s not found", triggerID)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TriggerStore) Create(ctx context.Context, t *model.Trigger) error {
	_, err := s.col.InsertOne(ctx, t)
	return err
}

// ListActiveByType returns every active trigger of the given type, the
// entry point each supervisor's poll cycle starts from (spec.md §4.4).
func (s *TriggerStore) ListActiveByType(ctx context.Context, t model.TriggerType) ([]model.Trigger, error) {
	cur, err := s.col.Find(ctx, bson.M{"type": t, "status": model.TriggerActive})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var triggers []model.Trigger
	if err := cur.All(ctx, &triggers); err != nil {
		return nil, err
	}
	return triggers, nil
}

// ConnectorStore is the mongo-backed implementation of engine.ConnectorStore.
// Secret fields remain in their enc: sentinel form at rest; Get returns
// the stored document as-is, decryption happens at point of use
// (engine.decryptConnector) so the store itself never handles plaintext.
type ConnectorStore struct{ col *mongo.Collection }

func NewConnectorStore(m *Mongo) *ConnectorStore { return &ConnectorStore{col: m.Connectors} }

func (s *ConnectorStore) Get(ctx context.Context, connectorID string) (*model.Connector, error) {
	var c model.Connector
	err := s.col.FindOne(ctx, bson.M{"_id": connectorID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("connector %s not found", connectorID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ConnectorStore) Create(ctx context.Context, c *model.Connector) error {
	_, err := s.col.InsertOne(ctx, c)
	return err
}
