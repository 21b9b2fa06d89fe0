package ai

import (
	"context"
	"errors"

	"github.com/civicfix/backend/internal/models"
)

var (
	ErrEmptyResponse   = errors.New("empty provider response")
	ErrSchemaViolation = errors.New("provider response failed schema validation")
)

// IssueAnalyzer turns a photo and free text into structured fields.
type IssueAnalyzer interface {
	AnalyzeIssue(ctx context.Context, image []byte, mimeType string, text string) (models.AIAnalysis, error)
}

// SLAEstimator produces a non-authoritative resolution time when no policy clause matches.
type SLAEstimator interface {
	EstimateSLA(ctx context.Context, category, issueType string) (Estimate, error)
}

// PolicyExtractor turns raw charter text into structured policy entries. Seed time only.
type PolicyExtractor interface {
	ExtractPolicyItems(ctx context.Context, rawText string) (PolicyExtraction, error)
}

type Provider interface {
	IssueAnalyzer
	SLAEstimator
	PolicyExtractor
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Estimate struct {
	DurationHours float64 `json:"duration"`
	Reasoning     string  `json:"reasoning"`
}

type SLAItem struct {
	Category         string  `json:"category" yaml:"category"`
	IssueType        string  `json:"issueType" yaml:"issueType"`
	SectionReference string  `json:"sectionReference" yaml:"sectionReference"`
	SLADuration      float64 `json:"slaDuration" yaml:"slaDuration"`
	SLAUnit          string  `json:"slaUnit" yaml:"slaUnit"`
	Text             string  `json:"text" yaml:"text"`
}

type DepartmentItem struct {
	DepartmentName string   `json:"departmentName" yaml:"departmentName"`
	HandledIssues  []string `json:"handledIssues" yaml:"handledIssues"`
	Summary        string   `json:"summary" yaml:"summary"`
	ExamplePhrases []string `json:"examplePhrases,omitempty" yaml:"examplePhrases,omitempty"`
}

type PolicyExtraction struct {
	SLAItems    []SLAItem        `json:"slaItems" yaml:"slaItems"`
	Departments []DepartmentItem `json:"departments" yaml:"departments"`
}

// DefaultAnalysis is used when image analysis is unavailable.
func DefaultAnalysis(text string) models.AIAnalysis {
	return models.AIAnalysis{
		Category:         "General",
		IssueType:        "Issue",
		Severity:         models.SeverityMedium,
		IssueDescription: text,
	}
}
