package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/vectorindex"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type failingIndex struct{ vectorindex.Index }

func (failingIndex) Query(ctx context.Context, ns vectorindex.Namespace, vector []float32, topK int, filter *vectorindex.Filter) ([]vectorindex.Match, error) {
	return nil, errors.New("index unavailable")
}

type brokenUpvoteStore struct{ *db.MemoryStore }

func (brokenUpvoteStore) IncrementUpvote(ctx context.Context, id string, reporter models.Reporter, key string) (bool, error) {
	return false, db.ErrNotFound
}

const (
	existingText = "Huge pothole near the bus stop on MG Road"
	similarText  = "There is a huge pothole by the MG Road bus stop"
	otherText    = "Streetlight has been broken for a week on this lane"
)

var here = models.GeoPoint{Lat: 12.9716, Lng: 77.5946}

type fixture struct {
	store    *db.MemoryStore
	index    *vectorindex.MemoryIndex
	embedder *fakeEmbedder
	coord    *Coordinator
	due      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: db.NewMemoryStore(),
		index: vectorindex.NewMemoryIndex(),
		embedder: &fakeEmbedder{vectors: map[string][]float32{
			existingText: {1, 0, 0},
			similarText:  {0.95, 0.3122, 0},
			otherText:    {0, 1, 0},
		}},
		due: time.Date(2025, 1, 4, 9, 0, 0, 0, time.UTC),
	}
	f.coord = &Coordinator{
		Store:     f.store,
		Index:     f.index,
		Embedder:  f.embedder,
		Logger:    zerolog.Nop(),
		RadiusKm:  0.3,
		Threshold: 0.85,
		MinChars:  20,
	}
	ticket := models.Ticket{
		ID:              "ticket-1",
		UserDescription: existingText,
		Location:        models.Location{Lat: here.Lat, Lng: here.Lng},
		Status:          models.StatusOpen,
		SLA:             models.SLA{ExpectedResolutionDate: &f.due},
		CreatedAt:       f.due.Add(-72 * time.Hour),
	}
	require.NoError(t, f.store.Create(ctx, ticket))
	require.NoError(t, f.coord.Remember(ctx, ticket))
	f.embedder.calls = 0
	return f
}

func TestCheckDuplicateNotReadyMakesNoProviderCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []Request{
		{Description: "short pothole", Location: here},
		{Description: "exactly twenty chars", Location: here},
		{Description: similarText},
		{Description: similarText, Location: models.GeoPoint{Lat: 91, Lng: 0}},
	}
	for _, req := range cases {
		got, err := f.coord.CheckDuplicate(ctx, req)
		require.NoError(t, err)
		assert.False(t, got.Checked)
		assert.False(t, got.IsDuplicate)
	}
	assert.Equal(t, 0, f.embedder.calls)
}

func TestCheckDuplicateMergesOncePerReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Description: similarText, Location: here, Reporter: models.Reporter{Name: "Ravi", Contact: "98450"}}

	got, err := f.coord.CheckDuplicate(ctx, req)
	require.NoError(t, err)
	assert.True(t, got.IsDuplicate)
	assert.Equal(t, "ticket-1", got.DuplicateTicketID)
	require.NotNil(t, got.ExpectedResolutionDate)
	assert.True(t, f.due.Equal(*got.ExpectedResolutionDate))
	assert.False(t, got.AlreadyCounted)
	assert.GreaterOrEqual(t, got.Score, 0.85)

	got, err = f.coord.CheckDuplicate(ctx, req)
	require.NoError(t, err)
	assert.True(t, got.IsDuplicate)
	assert.True(t, got.AlreadyCounted)

	ticket, err := f.store.FindByID(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.Upvotes)
	assert.Len(t, ticket.Interested, 1)

	all, err := f.store.ListTickets(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckDuplicateBelowThreshold(t *testing.T) {
	f := newFixture(t)
	got, err := f.coord.CheckDuplicate(context.Background(), Request{Description: otherText, Location: here})
	require.NoError(t, err)
	assert.True(t, got.Checked)
	assert.False(t, got.IsDuplicate)
	assert.Equal(t, 1, f.embedder.calls)
}

func TestCheckDuplicateIgnoresFarAwayTickets(t *testing.T) {
	f := newFixture(t)
	far := models.GeoPoint{Lat: here.Lat + 0.01, Lng: here.Lng}
	got, err := f.coord.CheckDuplicate(context.Background(), Request{Description: similarText, Location: far})
	require.NoError(t, err)
	assert.False(t, got.IsDuplicate)
	assert.Equal(t, 0, f.embedder.calls)
}

func TestCheckDuplicateFailsOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{Description: similarText, Location: here}

	f.embedder.err = errors.New("embedding down")
	got, err := f.coord.CheckDuplicate(ctx, req)
	require.NoError(t, err)
	assert.True(t, got.Checked)
	assert.False(t, got.IsDuplicate)

	f.embedder.err = nil
	f.coord.Index = failingIndex{}
	got, err = f.coord.CheckDuplicate(ctx, req)
	require.NoError(t, err)
	assert.False(t, got.IsDuplicate)

	ticket, err := f.store.FindByID(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Zero(t, ticket.Upvotes)
}

func TestCheckDuplicateMergeFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.coord.Store = brokenUpvoteStore{f.store}

	got, err := f.coord.CheckDuplicate(context.Background(), Request{Description: similarText, Location: here})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMergeNotApplied)
	assert.False(t, got.IsDuplicate)
}

func TestCheckDuplicateIgnoresClientKeyForNamedReporter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := models.Reporter{Name: "Jane", Email: "jane@example.com"}

	for i, key := range []string{"k1", "k2", "k3", ""} {
		got, err := f.coord.CheckDuplicate(ctx, Request{Description: similarText, Location: here, Reporter: reporter, Key: key})
		require.NoError(t, err)
		require.True(t, got.IsDuplicate)
		assert.Equal(t, i > 0, got.AlreadyCounted, "submission %d", i)
	}

	ticket, err := f.store.FindByID(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.Upvotes)
}

func TestCheckDuplicateClientKeyForAnonymousReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"device-a", "device-a", "device-b"} {
		_, err := f.coord.CheckDuplicate(ctx, Request{Description: similarText, Location: here, Key: key})
		require.NoError(t, err)
	}

	ticket, err := f.store.FindByID(ctx, "ticket-1")
	require.NoError(t, err)
	assert.Equal(t, 2, ticket.Upvotes)
}

func TestMergeKey(t *testing.T) {
	named := models.Reporter{Email: "jane@example.com"}
	assert.Equal(t, ReportKey(named, "text", here), MergeKey(named, "client-key", "text", here))
	assert.Equal(t, "client-key", MergeKey(models.Reporter{}, " client-key ", "text", here))
	assert.Equal(t, ReportKey(models.Reporter{}, "text", here), MergeKey(models.Reporter{}, "", "text", here))
}

func TestReportKey(t *testing.T) {
	r := models.Reporter{Name: "Ravi", Email: "ravi@example.com"}
	assert.Equal(t, ReportKey(r, "one text", here), ReportKey(r, "a different text", here))
	assert.NotEqual(t, ReportKey(r, "one text", here), ReportKey(models.Reporter{Name: "Asha"}, "one text", here))

	anon := models.Reporter{}
	jitter := models.GeoPoint{Lat: here.Lat + 0.00001, Lng: here.Lng}
	assert.Equal(t, ReportKey(anon, "Pothole  here", here), ReportKey(anon, "pothole here", jitter))
	assert.NotEqual(t, ReportKey(anon, "pothole here", here), ReportKey(anon, "garbage here", here))
}
