package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassesFiltersAllOperators(t *testing.T) {
	rec := map[string]any{"status": "open", "amount": 42.0, "title": "hello world"}

	assert.True(t, passesFilters(rec, []any{
		map[string]any{"field": "status", "op": "eq", "value": "open"},
	}))
	assert.False(t, passesFilters(rec, []any{
		map[string]any{"field": "status", "op": "neq", "value": "open"},
	}))
	assert.True(t, passesFilters(rec, []any{
		map[string]any{"field": "amount", "op": "gte", "value": 42.0},
	}))
	assert.False(t, passesFilters(rec, []any{
		map[string]any{"field": "amount", "op": "lt", "value": 10.0},
	}))
	assert.True(t, passesFilters(rec, []any{
		map[string]any{"field": "title", "op": "contains", "value": "world"},
	}))
}

func TestPassesFiltersEmptyListAlwaysPasses(t *testing.T) {
	assert.True(t, passesFilters(map[string]any{"x": 1.0}, nil))
}

func TestRecordHashChangesOnlyForWatchedFields(t *testing.T) {
	rec1 := map[string]any{"status": "open", "updatedAt": "t1"}
	rec2 := map[string]any{"status": "open", "updatedAt": "t2"}

	assert.Equal(t, recordHash(rec1, []any{"status"}), recordHash(rec2, []any{"status"}))
	assert.NotEqual(t, recordHash(rec1, nil), recordHash(rec2, nil))
}

func TestRecordIdentityFallsBackToIndex(t *testing.T) {
	rec := map[string]any{"id": "abc"}
	assert.Equal(t, "abc", recordIdentity(rec, "id", 3))
	assert.Equal(t, "#3", recordIdentity(rec, "missing", 3))
}
