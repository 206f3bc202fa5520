package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zecflow/core/model"
	"github.com/zecflow/core/zerrs"
)

// balanceDoc tracks a tenant's current balance alongside the append-only
// ledger entries, so Balance is a single indexed read rather than a scan.
type balanceDoc struct {
	TenantID string `bson:"_id"`
	Balance  int64  `bson:"balance"`
	NextSeq  int64  `bson:"nextSeq"`
}

// LedgerStore is the mongo-backed implementation of ledger.Store. Writes
// use findOneAndUpdate with a balance-floor filter so the debit and
// append are linearised per tenant even across multiple worker processes
// (spec.md §5 "Shared resources").
type LedgerStore struct {
	entries  *mongo.Collection
	balances *mongo.Collection
}

func NewLedgerStore(m *Mongo) *LedgerStore {
	return &LedgerStore{entries: m.Ledger, balances: m.Counters}
}

func (s *LedgerStore) Balance(ctx context.Context, tenantID string) (int64, error) {
	var doc balanceDoc
	err := s.balances.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Balance, nil
}

func (s *LedgerStore) AppendEntry(ctx context.Context, entry model.LedgerEntry) (int64, error) {
	delta := entry.Amount
	if entry.Type == model.Debit {
		delta = -entry.Amount
	}

	filter := bson.M{"_id": entry.TenantID}
	if delta < 0 {
		filter["balance"] = bson.M{"$gte": -delta}
	}

	var after balanceDoc
	err := s.balances.FindOneAndUpdate(
		ctx, filter,
		bson.M{"$inc": bson.M{"balance": delta, "nextSeq": 1}},
		options.FindOneAndUpdate().SetUpsert(delta >= 0).SetReturnDocument(options.After),
	).Decode(&after)
	if err == mongo.ErrNoDocuments {
		return 0, zerrs.New(zerrs.InsufficientCredits, "tenant %s: insufficient balance for debit of %d", entry.TenantID, entry.Amount)
	}
	if err != nil {
		return 0, fmt.Errorf("update balance for tenant %s: %w", entry.TenantID, err)
	}

	entry.BalanceAfter = after.Balance
	entry.Seq = after.NextSeq
	entry.CreatedAt = time.Now()
	if _, err := s.entries.InsertOne(ctx, entry); err != nil {
		return 0, fmt.Errorf("append ledger entry for tenant %s: %w", entry.TenantID, err)
	}
	return after.Balance, nil
}
