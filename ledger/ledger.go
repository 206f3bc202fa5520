// Package ledger implements the per-tenant credit ledger: pre-flight
// reservation checks, atomic per-operation debits and the pricing table
// in spec.md §6 "Credit Ledger".
package ledger

import (
	"context"
	"sync"

	"github.com/zecflow/core/model"
	"github.com/zecflow/core/zerrs"
)

// Prices is the per-operation pricing table, spec.md §6.
var Prices = map[string]int64{
	"workflow-run":         1,
	"nillion-compute":      5,
	"nillion-block-graph":  3,
	"nilai-llm":            10,
	"state-store":          1,
	"state-read":           1,
	"zcash-send":           2,
	"connector-request":    1,
	"custom-http-action":   1,
}

// Price returns the configured price for operation, or 0 if it carries no
// listed price (spec.md §4.1 step 4: "every node whose handler has a
// listed price").
func Price(operation string) int64 { return Prices[operation] }

// Store persists ledger entries and the current balance per tenant.
// Implementations must linearise writes per tenant (spec.md §5 "Shared
// resources").
type Store interface {
	Balance(ctx context.Context, tenantID string) (int64, error)
	// AppendEntry atomically applies delta to the tenant's balance and
	// appends a ledger entry recording the result, returning the
	// balance after the write. Implementations must reject the write
	// (a *zerrs.Error of kind InsufficientCredits) if applying delta would take the balance
	// below zero.
	AppendEntry(ctx context.Context, entry model.LedgerEntry) (balanceAfter int64, err error)
}

// MetricsRecorder is the narrow subset of metrics.Metrics the ledger
// reports through; a nil Metrics field on Ledger disables it.
type MetricsRecorder interface {
	SetBalance(tenantID string, balance int64)
}

// Ledger is the credit ledger facade the engine debits through.
type Ledger struct {
	store   Store
	mu      sync.Mutex
	Metrics MetricsRecorder
}

func New(store Store) *Ledger { return &Ledger{store: store} }

// CanAfford performs the pre-flight credit check of spec.md §4.1 step 4
// without debiting.
func (l *Ledger) CanAfford(ctx context.Context, tenantID string, cost int64) (bool, error) {
	bal, err := l.store.Balance(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return bal >= cost, nil
}

// Debit atomically decrements the tenant's balance by amount and appends
// a ledger entry. It returns *zerrs.Error{Kind: InsufficientCredits} if
// the tenant cannot afford it — "Attempts to debit below zero fail"
// (spec.md §6). The in-process mutex additionally serialises concurrent
// debits within a single process; Store implementations still must be
// safe for multi-process linearisation (e.g. a Mongo findAndModify with a
// balance >= amount filter).
func (l *Ledger) Debit(ctx context.Context, tenantID string, amount int64, operation string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.CanAfford(ctx, tenantID, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, zerrs.New(zerrs.InsufficientCredits, "tenant %s cannot afford %d credits for %s", tenantID, amount, operation)
	}
	balance, err := l.store.AppendEntry(ctx, model.LedgerEntry{
		TenantID:  tenantID,
		Type:      model.Debit,
		Amount:    amount,
		Operation: operation,
	})
	l.recordBalance(tenantID, balance, err)
	return balance, err
}

// Credit appends a credit (top-up/refund) entry.
func (l *Ledger) Credit(ctx context.Context, tenantID string, amount int64, operation string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.store.AppendEntry(ctx, model.LedgerEntry{
		TenantID:  tenantID,
		Type:      model.Credit,
		Amount:    amount,
		Operation: operation,
	})
	l.recordBalance(tenantID, balance, err)
	return balance, err
}

func (l *Ledger) recordBalance(tenantID string, balance int64, err error) {
	if err == nil && l.Metrics != nil {
		l.Metrics.SetBalance(tenantID, balance)
	}
}

// EstimateRunCost sums the run's own cost (1) plus the listed price of
// every node's handler-mapped operation, per spec.md §4.1 step 4. Nodes
// whose block id carries no listed price contribute 0.
func EstimateRunCost(blockIDs []string) int64 {
	total := int64(1)
	for _, id := range blockIDs {
		total += Price(id)
	}
	return total
}
