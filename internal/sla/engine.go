// Package sla resolves a resolution-time commitment for a ticket, citing the
// citizen charter when a clause matches and estimating otherwise.
package sla

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/vectorindex"
)

const (
	// FallbackSection marks an estimate that no charter clause backs.
	FallbackSection  = "Estimated Policy (Fallback)"
	DefaultThreshold = 0.75

	defaultCategory  = "General"
	defaultIssueType = "Issue"
)

var ErrInvalidDuration = errors.New("invalid sla duration")

type Input struct {
	Category   string    `json:"category"`
	Department string    `json:"department,omitempty"`
	IssueType  string    `json:"issueType"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Reference struct {
	Section  string  `json:"section"`
	Text     string  `json:"text,omitempty"`
	Duration float64 `json:"slaDuration"`
	Unit     string  `json:"slaUnit"`
	PolicyID string  `json:"policyId,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

type Result struct {
	Found                  bool       `json:"found"`
	Grounded               bool       `json:"grounded"`
	SLAReferenced          *Reference `json:"slaReferenced,omitempty"`
	ExpectedResolutionDate *time.Time `json:"expectedResolutionDate,omitempty"`
	Explanation            string     `json:"explanation,omitempty"`
	Error                  string     `json:"error,omitempty"`
}

type Engine struct {
	Index     vectorindex.Index
	Embedder  ai.Embedder
	Estimator ai.SLAEstimator
	Logger    zerolog.Logger

	// Threshold is inclusive: a top score equal to it is grounded.
	Threshold float64
	Now       func() time.Time
}

// ResolveSLA never returns a Go error. Retrieval problems route to the
// estimator; only an estimator failure yields Found=false with Error set.
func (e *Engine) ResolveSLA(ctx context.Context, in Input) Result {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.now()
	}

	if policy, match, ok := e.retrieve(ctx, in); ok {
		d, err := ToDuration(policy.SLADuration, policy.SLAUnit)
		if err == nil {
			due := createdAt.Add(d)
			return Result{
				Found:    true,
				Grounded: true,
				SLAReferenced: &Reference{
					Section:  policy.SectionReference,
					Text:     policy.Text,
					Duration: policy.SLADuration,
					Unit:     policy.SLAUnit,
					PolicyID: match.ID,
					Score:    match.Score,
				},
				ExpectedResolutionDate: &due,
				Explanation: fmt.Sprintf("Based on the Citizen Charter %s, %s issues must be resolved within %s %s.",
					policy.SectionReference, firstNonEmpty(policy.IssueType, in.IssueType), formatNumber(policy.SLADuration), policy.SLAUnit),
			}
		}
		e.Logger.Warn().Err(err).Str("policy_id", match.ID).Msg("sla: matched clause has unusable duration, estimating")
	}

	return e.estimate(ctx, in, createdAt)
}

func (e *Engine) retrieve(ctx context.Context, in Input) (vectorindex.SLAPolicy, vectorindex.Match, bool) {
	var policy vectorindex.SLAPolicy
	query := QueryText(in)

	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		e.Logger.Warn().Err(err).Str("query", query).Msg("sla: embedding failed, estimating")
		return policy, vectorindex.Match{}, false
	}
	matches, err := e.Index.Query(ctx, vectorindex.NamespaceSLA, vec, 1, nil)
	if err != nil {
		e.Logger.Warn().Err(err).Str("query", query).Msg("sla: policy query failed, estimating")
		return policy, vectorindex.Match{}, false
	}
	if len(matches) == 0 {
		e.Logger.Debug().Str("query", query).Msg("sla: no policy clauses indexed")
		return policy, vectorindex.Match{}, false
	}
	top := matches[0]
	if top.Score < e.threshold() {
		e.Logger.Debug().Str("query", query).Float64("score", top.Score).Msg("sla: best clause below confidence gate")
		return policy, top, false
	}
	if err := vectorindex.DecodeMetadata(top.Metadata, &policy); err != nil {
		e.Logger.Warn().Err(err).Str("policy_id", top.ID).Msg("sla: bad policy metadata, estimating")
		return policy, top, false
	}
	return policy, top, true
}

func (e *Engine) estimate(ctx context.Context, in Input, createdAt time.Time) Result {
	category := firstNonEmpty(in.Category, in.Department, defaultCategory)
	issueType := firstNonEmpty(in.IssueType, in.Title, defaultIssueType)

	est, err := e.Estimator.EstimateSLA(ctx, category, issueType)
	if err != nil {
		e.Logger.Error().Err(err).Str("category", category).Str("issue_type", issueType).Msg("sla: estimator failed")
		return Result{Found: false, Error: err.Error()}
	}
	d, err := ToDuration(est.DurationHours, "hours")
	if err != nil {
		e.Logger.Error().Err(err).Float64("duration", est.DurationHours).Msg("sla: estimator returned unusable duration")
		return Result{Found: false, Error: err.Error()}
	}
	due := createdAt.Add(d)
	return Result{
		Found:    true,
		Grounded: false,
		SLAReferenced: &Reference{
			Section:  FallbackSection,
			Duration: est.DurationHours,
			Unit:     "hours",
		},
		ExpectedResolutionDate: &due,
		Explanation:            "(Estimated) " + strings.TrimSpace(est.Reasoning),
	}
}

// QueryText is the retrieval query for a ticket: "<category> - <issue type>",
// each side falling back to department and title respectively.
func QueryText(in Input) string {
	return fmt.Sprintf("%s - %s",
		firstNonEmpty(in.Category, in.Department),
		firstNonEmpty(in.IssueType, in.Title))
}

// ToDuration converts an amount in hours, days or weeks to wall-clock time.
// An empty or unrecognised unit is read as hours.
func ToDuration(amount float64, unit string) (time.Duration, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("%w: %v %s", ErrInvalidDuration, amount, unit)
	}
	per := time.Hour
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "day", "days", "d":
		per = 24 * time.Hour
	case "week", "weeks", "w":
		per = 7 * 24 * time.Hour
	}
	return time.Duration(amount * float64(per)), nil
}

func (e *Engine) threshold() float64 {
	if e.Threshold <= 0 {
		return DefaultThreshold
	}
	return e.Threshold
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%g", v)
}
