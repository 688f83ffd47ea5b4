package versioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleforge/engine/domain"
)

func rule(id string, version, priority int) domain.Rule {
	return domain.Rule{ID: id, Name: "n", Version: version, Priority: priority, Enabled: true,
		Trigger: domain.Trigger{Kind: domain.TriggerEvent, Pattern: "x"}}
}

func TestRecord_AppendsAndHistoryReturnsOldestFirst(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	require.NoError(t, s.Record(ChangeUpdated, rule("r1", 2, 5)))

	entries, err := s.History("r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ChangeCreated, entries[0].Change)
	assert.Equal(t, ChangeUpdated, entries[1].Change)
	assert.Equal(t, 5, entries[1].Snapshot.Priority)
}

func TestRecord_RejectsNonIncreasingVersion(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	err := s.Record(ChangeUpdated, rule("r1", 1, 2))
	assert.Error(t, err)
}

func TestHistory_UnknownRuleReturnsNotFound(t *testing.T) {
	s := New(nil)
	_, err := s.History("missing")
	assert.Error(t, err)
}

func TestAt_ReturnsExactVersionSnapshot(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	require.NoError(t, s.Record(ChangeUpdated, rule("r1", 2, 9)))

	snap, err := s.At("r1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Priority)
}

func TestDiff_ReportsChangedTopLevelFields(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	r2 := rule("r1", 2, 1)
	r2.Priority = 9
	r2.Enabled = false
	require.NoError(t, s.Record(ChangeUpdated, r2))

	diffs, err := s.Diff("r1", 1, 2)
	require.NoError(t, err)

	fields := make(map[string]bool)
	for _, d := range diffs {
		fields[d.Field] = true
	}
	assert.True(t, fields["priority"])
	assert.True(t, fields["enabled"])
	assert.False(t, fields["name"])
}

func TestRollback_RecordsNewEntryWithOldSnapshot(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	require.NoError(t, s.Record(ChangeUpdated, rule("r1", 2, 9)))

	rolledBack, err := s.Rollback("r1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rolledBack.Priority)
	assert.Equal(t, 3, rolledBack.Version)

	entries, err := s.History("r1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ChangeRolledBack, entries[2].Change)
}

type memAdapter struct{ data map[string][]Entry }

func (a *memAdapter) Save(_ context.Context, key string, entries []Entry) error {
	if a.data == nil {
		a.data = make(map[string][]Entry)
	}
	a.data[key] = entries
	return nil
}

func (a *memAdapter) Load(_ context.Context, key string) ([]Entry, error) {
	return a.data[key], nil
}

func TestFlush_WritesEveryRuleThroughAdapter(t *testing.T) {
	a := &memAdapter{}
	s := New(a)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	require.NoError(t, s.Record(ChangeCreated, rule("r2", 1, 1)))

	require.NoError(t, s.Flush(context.Background()))
	assert.Len(t, a.data["r1"], 1)
	assert.Len(t, a.data["r2"], 1)
}

func TestFlush_NoopWithoutAdapter(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Record(ChangeCreated, rule("r1", 1, 1)))
	assert.NoError(t, s.Flush(context.Background()))
}

func TestRestore_LoadsHistoryFromAdapter(t *testing.T) {
	a := &memAdapter{data: map[string][]Entry{"r1": {{RuleID: "r1", Version: 1, Change: ChangeCreated, Snapshot: rule("r1", 1, 1)}}}}
	s := New(a)

	require.NoError(t, s.Restore(context.Background(), "r1"))
	entries, err := s.History("r1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRestore_WithoutAdapterReturnsServiceUnavailable(t *testing.T) {
	s := New(nil)
	err := s.Restore(context.Background(), "r1")
	assert.Error(t, err)
}
