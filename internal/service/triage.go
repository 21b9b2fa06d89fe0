package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/geocode"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/routing"
	"github.com/civicfix/backend/internal/sla"
	"github.com/civicfix/backend/internal/utils"
)

var ErrInvalidReport = errors.New("invalid report")

const (
	StageAnalysis  = "analysis"
	StageDuplicate = "duplicate_check"
	StageRouting   = "routing"
	StageSLA       = "sla"
	StageGeocode   = "geocode"
	StagePersist   = "persist"
	StageIndex     = "index"

	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// TriageService turns a citizen report into either a new ticket or an upvote
// on an existing one. Stages run sequentially within the request.
type TriageService struct {
	Store    db.TicketStore
	Analyzer ai.IssueAnalyzer
	Dedup    *dedup.Coordinator
	Router   *routing.Classifier
	SLA      *sla.Engine
	Geocoder geocode.Reverser
	Logger   zerolog.Logger
	Tracer   trace.Tracer

	Now   func() time.Time
	NewID func() string
}

type StageEvent struct {
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Detail    map[string]any `json:"detail,omitempty"`
}

type ReportOutcome struct {
	Ticket    *models.Ticket         `json:"ticket,omitempty"`
	Merged    bool                   `json:"merged"`
	Duplicate *models.DuplicateMatch `json:"duplicate,omitempty"`
	Routing   *routing.Decision      `json:"routing,omitempty"`
	SLA       *sla.Result            `json:"sla,omitempty"`
	Events    []StageEvent           `json:"events"`
}

func ValidateReport(r models.IssueReport) error {
	var problems []string
	if len(r.Image) == 0 {
		problems = append(problems, "image is required")
	}
	if !r.Location.Valid() {
		problems = append(problems, "a valid location is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidReport, strings.Join(problems, "; "))
	}
	return nil
}

func (s *TriageService) ReportIssue(ctx context.Context, report models.IssueReport) (ReportOutcome, error) {
	if err := ValidateReport(report); err != nil {
		return ReportOutcome{}, err
	}
	ctx, span := s.tracer().Start(ctx, "triage.ReportIssue")
	defer span.End()

	out := ReportOutcome{}
	description := strings.TrimSpace(report.Description)

	analysis := s.analyze(ctx, &out, report.Image, report.MimeType, description)

	if s.Dedup != nil {
		start := time.Now()
		match, err := s.Dedup.CheckDuplicate(ctx, dedup.Request{
			Description: description,
			Location:    report.Location,
			Reporter:    report.Reporter,
		})
		ev := StageEvent{Stage: StageDuplicate, Status: StatusOK, Detail: map[string]any{"checked": match.Checked, "score": match.Score}}
		switch {
		case err != nil:
			ev.Status = StatusFailed
			ev.Detail["error"] = err.Error()
		case !match.Checked:
			ev.Status = StatusSkipped
		case match.IsDuplicate:
			ev.Detail["ticket_id"] = match.DuplicateTicketID
			ev.Detail["already_counted"] = match.AlreadyCounted
		}
		out.Events = append(out.Events, s.finish(ev, start))

		if err == nil && match.IsDuplicate {
			span.SetAttributes(attribute.Bool("triage.merged", true), attribute.String("triage.ticket_id", match.DuplicateTicketID))
			out.Merged = true
			out.Duplicate = &match
			return out, nil
		}
	}

	now := s.now()
	ticket := models.Ticket{
		ID:              s.newID(),
		ImageRef:        imageRef(report.Image, report.MimeType),
		UserDescription: description,
		Reporter:        report.Reporter,
		AIAnalysis:      analysis,
		Location:        models.Location{Lat: report.Location.Lat, Lng: report.Location.Lng, Address: strings.TrimSpace(report.Address)},
		Status:          models.StatusOpen,
		CreatedAt:       now,
	}

	ticket.Department = s.route(ctx, &out, description, report.Location, analysis, now)

	if s.SLA != nil {
		start := time.Now()
		res := s.SLA.ResolveSLA(ctx, sla.Input{
			Category:   analysis.Category,
			Department: ticket.Department.Name,
			IssueType:  analysis.IssueType,
			Title:      firstWords(description, 8),
			CreatedAt:  now,
		})
		out.SLA = &res
		ev := StageEvent{Stage: StageSLA, Status: StatusOK, Detail: map[string]any{"grounded": res.Grounded}}
		if res.Found {
			ticket.SLA.ExpectedResolutionDate = res.ExpectedResolutionDate
			ticket.SLA.Explanation = res.Explanation
			if res.SLAReferenced != nil {
				ticket.SLA.Section = res.SLAReferenced.Section
			}
			if !res.Grounded {
				ev.Status = StatusFallback
			}
		} else {
			ev.Status = StatusFailed
			ev.Detail["error"] = res.Error
		}
		out.Events = append(out.Events, s.finish(ev, start))
	}

	if s.Geocoder != nil && geocode.NeedsAddress(ticket.Location.Address, report.Location) {
		start := time.Now()
		ev := StageEvent{Stage: StageGeocode, Status: StatusOK}
		address, err := s.Geocoder.Reverse(ctx, report.Location)
		if err != nil {
			s.Logger.Warn().Err(err).Msg("reverse geocode failed")
			ev.Status = StatusFailed
			ev.Detail = map[string]any{"error": err.Error()}
		} else {
			ticket.Location.Address = address
		}
		out.Events = append(out.Events, s.finish(ev, start))
	}

	start := time.Now()
	if err := s.Store.Create(ctx, ticket); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist ticket")
		return out, fmt.Errorf("create ticket: %w", err)
	}
	out.Events = append(out.Events, s.finish(StageEvent{Stage: StagePersist, Status: StatusOK}, start))

	if s.Dedup != nil {
		start := time.Now()
		ev := StageEvent{Stage: StageIndex, Status: StatusOK}
		if err := s.Dedup.Remember(ctx, ticket); err != nil {
			s.Logger.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("ticket not indexed for duplicate detection")
			ev.Status = StatusFailed
			ev.Detail = map[string]any{"error": err.Error()}
		}
		out.Events = append(out.Events, s.finish(ev, start))
	}

	span.SetAttributes(
		attribute.String("triage.ticket_id", ticket.ID),
		attribute.String("triage.department", ticket.Department.Name),
	)
	s.Logger.Info().
		Str("ticket_id", ticket.ID).
		Str("department", ticket.Department.Name).
		Str("category", analysis.Category).
		Bool("sla_grounded", out.SLA != nil && out.SLA.Grounded).
		Msg("ticket created")

	t := ticket.WithBreachWarning(now)
	out.Ticket = &t
	return out, nil
}

// AnalyzeImage runs image analysis only; nothing is stored.
func (s *TriageService) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (models.AIAnalysis, error) {
	if len(image) == 0 {
		return models.AIAnalysis{}, fmt.Errorf("%w: image is required", ErrInvalidReport)
	}
	ctx, span := s.tracer().Start(ctx, "triage.AnalyzeImage")
	defer span.End()
	analysis, err := s.Analyzer.AnalyzeIssue(ctx, image, mimeType, "")
	if err != nil {
		span.RecordError(err)
		return models.AIAnalysis{}, err
	}
	return analysis, nil
}

func (s *TriageService) analyze(ctx context.Context, out *ReportOutcome, image []byte, mimeType, description string) models.AIAnalysis {
	start := time.Now()
	ctx, span := s.tracer().Start(ctx, "triage.analysis")
	defer span.End()

	ev := StageEvent{Stage: StageAnalysis, Status: StatusOK}
	analysis, err := s.Analyzer.AnalyzeIssue(ctx, image, mimeType, description)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("image analysis failed, using defaults")
		span.RecordError(err)
		analysis = ai.DefaultAnalysis(description)
		ev.Status = StatusFallback
		ev.Detail = map[string]any{"error": err.Error()}
	}
	if strings.TrimSpace(analysis.IssueDescription) == "" {
		analysis.IssueDescription = description
	}
	analysis.Severity = models.NormalizeSeverity(string(analysis.Severity))
	span.SetAttributes(attribute.String("analysis.category", analysis.Category))
	out.Events = append(out.Events, s.finish(ev, start))
	return analysis
}

func (s *TriageService) route(ctx context.Context, out *ReportOutcome, description string, loc models.GeoPoint, analysis models.AIAnalysis, now time.Time) models.Department {
	start := time.Now()
	dept := models.Department{Name: "General", AssignedAt: now}
	if s.Router == nil {
		return dept
	}
	if s.Router.DefaultDepartment != "" {
		dept.Name = s.Router.DefaultDepartment
	}

	text := description
	if strings.TrimSpace(text) == "" {
		text = analysis.IssueDescription
	}
	decision, ok := s.Router.Route(ctx, routing.Request{Description: text, Location: &loc, CategoryHint: analysis.Category})
	ev := StageEvent{Stage: StageRouting, Status: StatusOK}
	switch {
	case !ok:
		ev.Status = StatusSkipped
		if c := strings.TrimSpace(analysis.Category); c != "" && !strings.EqualFold(c, ai.DefaultAnalysis("").Category) {
			dept.Name = c
		}
	default:
		out.Routing = &decision
		dept.Name = decision.Department
		ev.Detail = map[string]any{"source": decision.Source, "confidence": decision.Confidence}
		if decision.Source == routing.SourceDefault {
			ev.Status = StatusFallback
		}
	}
	out.Events = append(out.Events, s.finish(ev, start))
	return dept
}

func (s *TriageService) finish(ev StageEvent, start time.Time) StageEvent {
	ev.ElapsedMs = time.Since(start).Milliseconds()
	return ev
}

func (s *TriageService) tracer() trace.Tracer {
	if s.Tracer == nil {
		return otel.Tracer("github.com/civicfix/backend/internal/service")
	}
	return s.Tracer
}

func (s *TriageService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *TriageService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// imageRef is a content address for the uploaded photo; storing the bytes
// themselves is left to an object store.
func imageRef(image []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	return fmt.Sprintf("%s;blake3:%s", mimeType, utils.ContentHash(image)[:32])
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
