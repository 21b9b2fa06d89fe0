package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/routing"
	"github.com/civicfix/backend/internal/sla"
	"github.com/civicfix/backend/internal/vectorindex"
)

type stubAnalyzer struct {
	analysis models.AIAnalysis
	err      error
}

func (s stubAnalyzer) AnalyzeIssue(ctx context.Context, image []byte, mimeType string, text string) (models.AIAnalysis, error) {
	return s.analysis, s.err
}

type stubEstimator struct{}

func (stubEstimator) EstimateSLA(ctx context.Context, category, issueType string) (ai.Estimate, error) {
	return ai.Estimate{DurationHours: 96, Reasoning: "No clause found."}, nil
}

type noUpvoteStore struct{ *db.MemoryStore }

func (noUpvoteStore) IncrementUpvote(ctx context.Context, id string, reporter models.Reporter, key string) (bool, error) {
	return false, errors.New("connection reset")
}

type harness struct {
	svc   *TriageService
	store *db.MemoryStore
	index *vectorindex.MemoryIndex
	now   time.Time
}

func newHarness(t *testing.T, analyzer ai.IssueAnalyzer) *harness {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	embedder := ai.HashEmbedder{Dimensions: 64}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	slaVec, err := embedder.Embed(ctx, "Roads - Pothole")
	require.NoError(t, err)
	slaMeta, err := vectorindex.EncodeMetadata(vectorindex.SLAPolicy{Category: "Roads", IssueType: "Pothole", SectionReference: "Section 4.2", SLADuration: 72, SLAUnit: "hours"})
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, vectorindex.NamespaceSLA, []vectorindex.Record{{ID: "SLA-1", Values: slaVec, Metadata: slaMeta}}))

	deptVec, err := embedder.Embed(ctx, "Roads handles: pothole, road damage")
	require.NoError(t, err)
	deptMeta, err := vectorindex.EncodeMetadata(vectorindex.DepartmentCharter{DepartmentName: "Roads Department", HandledIssues: []string{"pothole"}, Summary: "Maintains roads."})
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, vectorindex.NamespaceDepartment, []vectorindex.Record{{ID: "DEPT-1", Values: deptVec, Metadata: deptMeta}}))

	logger := zerolog.Nop()
	seq := 0
	svc := &TriageService{
		Store:    store,
		Analyzer: analyzer,
		Dedup: &dedup.Coordinator{
			Store: store, Index: index, Embedder: embedder, Logger: logger,
			RadiusKm: 0.3, Threshold: 0.85, MinChars: 20,
		},
		Router: &routing.Classifier{
			Index: index, Embedder: embedder, Logger: logger,
			MinChars: 10, MinConfidence: 0.6, DefaultDepartment: "General",
		},
		SLA: &sla.Engine{
			Index: index, Embedder: embedder, Estimator: stubEstimator{}, Logger: logger, Threshold: 0.75,
		},
		Logger: logger,
		Now:    func() time.Time { return now },
		NewID: func() string {
			seq++
			return fmt.Sprintf("ticket-%d", seq)
		},
	}
	return &harness{svc: svc, store: store, index: index, now: now}
}

var pothole = models.AIAnalysis{Category: "Roads", IssueType: "Pothole", Severity: "high", IssueDescription: "A deep pothole."}

func report(desc string, reporter string) models.IssueReport {
	return models.IssueReport{
		Description: desc,
		Location:    models.GeoPoint{Lat: 12.9716, Lng: 77.5946},
		Address:     "MG Road",
		Reporter:    models.Reporter{Name: reporter},
		Image:       []byte{0xff, 0xd8, 0xff, 0xe0},
		MimeType:    "image/jpeg",
	}
}

func TestReportIssueValidation(t *testing.T) {
	h := newHarness(t, stubAnalyzer{analysis: pothole})
	r := report("deep pothole near the bus stop", "Asha")
	r.Image = nil
	_, err := h.svc.ReportIssue(context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalidReport)

	r = report("deep pothole near the bus stop", "Asha")
	r.Location = models.GeoPoint{}
	_, err = h.svc.ReportIssue(context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalidReport)

	all, _ := h.store.ListTickets(context.Background(), "", 0)
	assert.Empty(t, all)
}

func TestReportIssueCreatesGroundedTicket(t *testing.T) {
	h := newHarness(t, stubAnalyzer{analysis: pothole})
	out, err := h.svc.ReportIssue(context.Background(), report("deep pothole near the bus stop on MG road", "Asha"))
	require.NoError(t, err)
	require.NotNil(t, out.Ticket)
	assert.False(t, out.Merged)

	tk := out.Ticket
	assert.Equal(t, "ticket-1", tk.ID)
	assert.Equal(t, models.StatusOpen, tk.Status)
	assert.Equal(t, "Roads Department", tk.Department.Name)
	assert.Equal(t, models.SeverityHigh, tk.AIAnalysis.Severity)
	assert.Equal(t, "Section 4.2", tk.SLA.Section)
	require.NotNil(t, tk.SLA.ExpectedResolutionDate)
	assert.True(t, h.now.Add(72*time.Hour).Equal(*tk.SLA.ExpectedResolutionDate))
	assert.Contains(t, tk.ImageRef, "image/jpeg;blake3:")
	assert.Equal(t, 1, h.index.Len(vectorindex.NamespaceTickets))

	stored, err := h.store.FindByID(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Department.Name, stored.Department.Name)
}

func TestReportIssueMergesDuplicates(t *testing.T) {
	h := newHarness(t, stubAnalyzer{analysis: pothole})
	ctx := context.Background()
	desc := "deep pothole near the bus stop on MG road"

	first, err := h.svc.ReportIssue(ctx, report(desc, "Asha"))
	require.NoError(t, err)

	second, err := h.svc.ReportIssue(ctx, report(desc, "Ravi"))
	require.NoError(t, err)
	require.True(t, second.Merged)
	assert.Nil(t, second.Ticket)
	assert.Equal(t, first.Ticket.ID, second.Duplicate.DuplicateTicketID)
	assert.True(t, first.Ticket.SLA.ExpectedResolutionDate.Equal(*second.Duplicate.ExpectedResolutionDate))

	again, err := h.svc.ReportIssue(ctx, report(desc, "Ravi"))
	require.NoError(t, err)
	require.True(t, again.Merged)
	assert.True(t, again.Duplicate.AlreadyCounted)

	stored, err := h.store.FindByID(ctx, first.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Upvotes)
	require.Len(t, stored.Interested, 1)
	assert.Equal(t, "Ravi", stored.Interested[0].Name)

	all, err := h.store.ListTickets(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReportIssueMergeFailureCreatesTicket(t *testing.T) {
	h := newHarness(t, stubAnalyzer{analysis: pothole})
	ctx := context.Background()
	desc := "deep pothole near the bus stop on MG road"

	_, err := h.svc.ReportIssue(ctx, report(desc, "Asha"))
	require.NoError(t, err)

	h.svc.Dedup.Store = noUpvoteStore{h.store}
	out, err := h.svc.ReportIssue(ctx, report(desc, "Ravi"))
	require.NoError(t, err)
	require.NotNil(t, out.Ticket)
	assert.False(t, out.Merged)

	var dupEvent StageEvent
	for _, ev := range out.Events {
		if ev.Stage == StageDuplicate {
			dupEvent = ev
		}
	}
	assert.Equal(t, StatusFailed, dupEvent.Status)

	all, err := h.store.ListTickets(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReportIssueAnalysisFailureUsesDefaults(t *testing.T) {
	h := newHarness(t, stubAnalyzer{err: errors.New("provider down")})
	out, err := h.svc.ReportIssue(context.Background(), report("short", "Asha"))
	require.NoError(t, err)
	require.NotNil(t, out.Ticket)

	assert.Equal(t, "General", out.Ticket.AIAnalysis.Category)
	assert.Equal(t, models.SeverityMedium, out.Ticket.AIAnalysis.Severity)
	assert.Equal(t, "General", out.Ticket.Department.Name)
	assert.Equal(t, StatusFallback, out.Events[0].Status)
	assert.Equal(t, sla.FallbackSection, out.Ticket.SLA.Section)
	assert.True(t, h.now.Add(96*time.Hour).Equal(*out.Ticket.SLA.ExpectedResolutionDate))
}

func TestAnalyzeImage(t *testing.T) {
	h := newHarness(t, stubAnalyzer{analysis: pothole})
	_, err := h.svc.AnalyzeImage(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrInvalidReport)

	got, err := h.svc.AnalyzeImage(context.Background(), []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Pothole", got.IssueType)
}
