package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/vectorindex"
)

type stubExtractor struct {
	items ai.PolicyExtraction
	err   error
	calls int
}

func (s *stubExtractor) ExtractPolicyItems(ctx context.Context, rawText string) (ai.PolicyExtraction, error) {
	s.calls++
	return s.items, s.err
}

type flakyEmbedder struct {
	mu    sync.Mutex
	fail  string
	texts []string
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("rate limited")
	}
	return ai.HashEmbedder{Dimensions: 32}.Embed(ctx, text)
}

var charter = ai.PolicyExtraction{
	SLAItems: []ai.SLAItem{
		{Category: "Roads", IssueType: "Pothole", SectionReference: "Section 4.2", SLADuration: 72, SLAUnit: "hours", Text: "Potholes repaired within 72 hours."},
		{Category: "Sanitation", IssueType: "Garbage", SectionReference: "Section 7.1", SLADuration: 1, SLAUnit: "days", Text: "Garbage cleared within one day."},
		{Category: "Water", IssueType: "Leak", SectionReference: "Section 9.3", SLADuration: 48, SLAUnit: "hours", Text: "Leaks fixed within 48 hours."},
	},
	Departments: []ai.DepartmentItem{
		{DepartmentName: "Solid Waste Management", HandledIssues: []string{"garbage collection", "waste management"}, Summary: "Collects municipal waste", ExamplePhrases: []string{"garbage not picked up"}},
		{DepartmentName: "Roads Department", HandledIssues: []string{"potholes"}, Summary: "Maintains roads"},
	},
}

func newSeeder(ext ai.PolicyExtractor, emb ai.Embedder, idx vectorindex.Index) *Seeder {
	return &Seeder{
		Extractor:   ext,
		Embedder:    emb,
		Index:       idx,
		Logger:      zerolog.Nop(),
		Concurrency: 2,
		Source:      "charter.pdf",
	}
}

func TestSeedFromTextRejectsShortText(t *testing.T) {
	ext := &stubExtractor{items: charter}
	s := newSeeder(ext, &flakyEmbedder{}, vectorindex.NewMemoryIndex())
	_, err := s.SeedFromText(context.Background(), "   too short   ")
	assert.ErrorIs(t, err, ErrTextTooShort)
	assert.Zero(t, ext.calls)
}

func TestSeedFromTextPopulatesBothNamespaces(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	emb := &flakyEmbedder{}
	s := newSeeder(&stubExtractor{items: charter}, emb, idx)

	res, err := s.SeedFromText(context.Background(), strings.Repeat("charter text ", 10))
	require.NoError(t, err)
	assert.Equal(t, 3, res.SLARecords)
	assert.Equal(t, 2, res.DepartmentRecords)
	assert.Equal(t, 3, idx.Len(vectorindex.NamespaceSLA))
	assert.Equal(t, 2, idx.Len(vectorindex.NamespaceDepartment))
	assert.Contains(t, emb.texts, "Roads - Pothole: Potholes repaired within 72 hours. (Section 4.2)")

	matches, err := s.Verify(context.Background(), vectorindex.NamespaceDepartment, "Who handles garbage collection and waste management?", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	var dept vectorindex.DepartmentCharter
	require.NoError(t, vectorindex.DecodeMetadata(matches[0].Metadata, &dept))
	assert.Equal(t, "Solid Waste Management", dept.DepartmentName)
	assert.Equal(t, "charter.pdf", dept.Source)
	assert.Equal(t, DepartmentEmbedText(charter.Departments[0]), dept.TextVal)
	assert.True(t, strings.HasPrefix(matches[0].ID, "DEPT-"))
}

func TestSeedItemsSkipsFailedEmbeddings(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	s := newSeeder(nil, &flakyEmbedder{fail: "Leak"}, idx)
	s.Only = OnlySLA

	res, err := s.SeedItems(context.Background(), charter)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SLAItems)
	assert.Equal(t, 2, res.SLARecords)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, idx.Len(vectorindex.NamespaceDepartment))
}

func TestSeedItemsStableIDsAreIdempotent(t *testing.T) {
	idx := vectorindex.NewMemoryIndex()
	s := newSeeder(nil, &flakyEmbedder{}, idx)
	s.StableIDs = true

	for i := 0; i < 2; i++ {
		_, err := s.SeedItems(context.Background(), charter)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, idx.Len(vectorindex.NamespaceSLA))
	assert.Equal(t, 2, idx.Len(vectorindex.NamespaceDepartment))

	s.StableIDs = false
	_, err := s.SeedItems(context.Background(), charter)
	require.NoError(t, err)
	assert.Equal(t, 6, idx.Len(vectorindex.NamespaceSLA))
}

func TestSeedFromTextExtractorError(t *testing.T) {
	s := newSeeder(&stubExtractor{err: errors.New("quota exceeded")}, &flakyEmbedder{}, vectorindex.NewMemoryIndex())
	_, err := s.SeedFromText(context.Background(), strings.Repeat("x", 80))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestLoadItemsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charter.yaml")
	doc := `slaItems:
  - category: Roads
    issueType: Pothole
    sectionReference: Section 4.2
    slaDuration: 72
    slaUnit: hours
    text: Potholes repaired within 72 hours.
departments:
  - departmentName: Roads Department
    handledIssues: [potholes, road damage]
    summary: Maintains roads
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	items, err := LoadItemsYAML(path)
	require.NoError(t, err)
	require.Len(t, items.SLAItems, 1)
	assert.Equal(t, 72.0, items.SLAItems[0].SLADuration)
	require.Len(t, items.Departments, 1)
	assert.Equal(t, []string{"potholes", "road damage"}, items.Departments[0].HandledIssues)

	_, err = LoadItemsYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmbedTextFormats(t *testing.T) {
	assert.Equal(t,
		"Solid Waste Management handles: garbage collection, waste management. Collects municipal waste. Common phrases: garbage not picked up",
		DepartmentEmbedText(charter.Departments[0]))
	assert.Equal(t, "Sanitation - Garbage: Garbage cleared within one day. (Section 7.1)", SLAEmbedText(charter.SLAItems[1]))
}
