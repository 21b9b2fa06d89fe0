package vectorindex

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *MemoryIndex {
	t.Helper()
	idx := NewMemoryIndex()
	ctx := context.Background()
	slaMeta, err := EncodeMetadata(SLAPolicy{Category: "Roads", IssueType: "Pothole", SectionReference: "Section 4.2", SLADuration: 72, SLAUnit: "hours"})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, NamespaceSLA, []Record{
		{ID: "sla-1", Values: []float32{1, 0, 0}, Metadata: slaMeta},
		{ID: "sla-2", Values: []float32{0, 1, 0}, Metadata: map[string]any{"category": "Water"}},
	}))
	require.NoError(t, idx.Upsert(ctx, NamespaceDepartment, []Record{
		{ID: "dept-1", Values: []float32{1, 0, 0}, Metadata: map[string]any{"departmentName": "Public Works"}},
	}))
	return idx
}

func TestMemoryIndexNamespacesIsolated(t *testing.T) {
	idx := seedMemory(t)
	ctx := context.Background()

	matches, err := idx.Query(ctx, NamespaceSLA, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.True(t, strings.HasPrefix(m.ID, "sla-"), "unexpected record %s", m.ID)
	}

	matches, err = idx.Query(ctx, NamespaceDepartment, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "dept-1", matches[0].ID)
}

func TestMemoryIndexRanksByCosine(t *testing.T) {
	idx := seedMemory(t)
	matches, err := idx.Query(context.Background(), NamespaceSLA, []float32{0.9, 0.1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "sla-1", matches[0].ID)
	assert.InDelta(t, 0.9939, matches[0].Score, 1e-3)

	var policy SLAPolicy
	require.NoError(t, DecodeMetadata(matches[0].Metadata, &policy))
	assert.Equal(t, 72.0, policy.SLADuration)
	assert.Equal(t, "Section 4.2", policy.SectionReference)
}

func TestMemoryIndexFilter(t *testing.T) {
	idx := seedMemory(t)
	ctx := context.Background()

	matches, err := idx.Query(ctx, NamespaceSLA, []float32{1, 0, 0}, 5, &Filter{IDs: []string{"sla-2"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "sla-2", matches[0].ID)

	matches, err = idx.Query(ctx, NamespaceSLA, []float32{1, 0, 0}, 5, &Filter{Equals: map[string]string{"category": "Water"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "sla-2", matches[0].ID)
}

func TestMemoryIndexUpsertReplacesByID(t *testing.T) {
	idx := seedMemory(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, NamespaceSLA, []Record{{ID: "sla-1", Values: []float32{0, 0, 1}}}))
	assert.Equal(t, 2, idx.Len(NamespaceSLA))

	matches, err := idx.Query(ctx, NamespaceSLA, []float32{0, 0, 1}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "sla-1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestUnknownNamespaceRejected(t *testing.T) {
	idx := NewMemoryIndex()
	_, err := idx.Query(context.Background(), Namespace("everything"), []float32{1}, 1, nil)
	assert.ErrorIs(t, err, ErrUnknownNamespace)
	assert.ErrorIs(t, idx.Upsert(context.Background(), Namespace(""), nil), ErrUnknownNamespace)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	idx := NewMemoryIndex()
	err := idx.Upsert(context.Background(), NamespaceSLA, []Record{{Values: []float32{1}}})
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBuildVectorQueryFilters(t *testing.T) {
	query, args := buildVectorQuery(NamespaceTickets, []float32{1, 2}, 3, &Filter{
		IDs:    []string{"a", "b"},
		Equals: map[string]string{"ticketId": "a"},
	})
	assert.Contains(t, query, "namespace = $1")
	assert.Contains(t, query, "id = ANY($3)")
	assert.Contains(t, query, "metadata->>$4 = $5")
	assert.Contains(t, query, "LIMIT $6")
	require.Len(t, args, 6)
	assert.Equal(t, "ticket-reports", args[0])
	assert.Equal(t, 3, args[5])
}
