package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zecflow/core/store"
)

type fakeRecorder struct {
	balances map[string]int64
}

func (f *fakeRecorder) SetBalance(tenantID string, balance int64) {
	f.balances[tenantID] = balance
}

func TestDebitRecordsBalanceOnSuccess(t *testing.T) {
	s := store.NewMemoryLedgerStore()
	s.SetBalance("tenant-1", 10)
	rec := &fakeRecorder{balances: map[string]int64{}}
	l := New(s)
	l.Metrics = rec

	balance, err := l.Debit(context.Background(), "tenant-1", 3, "workflow-run")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
	assert.Equal(t, int64(7), rec.balances["tenant-1"])
}

func TestDebitInsufficientCreditsDoesNotRecordBalance(t *testing.T) {
	s := store.NewMemoryLedgerStore()
	s.SetBalance("tenant-1", 1)
	rec := &fakeRecorder{balances: map[string]int64{}}
	l := New(s)
	l.Metrics = rec

	_, err := l.Debit(context.Background(), "tenant-1", 5, "workflow-run")
	assert.Error(t, err)
	_, recorded := rec.balances["tenant-1"]
	assert.False(t, recorded)
}

func TestCreditRecordsBalance(t *testing.T) {
	s := store.NewMemoryLedgerStore()
	s.SetBalance("tenant-1", 2)
	rec := &fakeRecorder{balances: map[string]int64{}}
	l := New(s)
	l.Metrics = rec

	balance, err := l.Credit(context.Background(), "tenant-1", 8, "top-up")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	assert.Equal(t, int64(10), rec.balances["tenant-1"])
}
