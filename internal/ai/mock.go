package ai

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/utils"
)

// MockProvider classifies by keyword so the service runs without provider keys.
type MockProvider struct{}

type keywordRule struct {
	words     []string
	category  string
	issueType string
	hours     float64
}

var mockRules = []keywordRule{
	{[]string{"pothole", "road", "asphalt", "crack"}, "Roads", "Pothole", 72},
	{[]string{"garbage", "trash", "waste", "litter", "dump"}, "Sanitation", "Garbage Overflow", 24},
	{[]string{"water", "leak", "pipe", "sewage", "drain"}, "Water Supply", "Water Leakage", 48},
	{[]string{"streetlight", "light", "lamp", "electric", "wire"}, "Electricity", "Streetlight Outage", 48},
	{[]string{"tree", "park", "bench", "playground"}, "Parks", "Park Maintenance", 120},
}

func matchRule(text string) (keywordRule, bool) {
	lower := strings.ToLower(text)
	for _, r := range mockRules {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				return r, true
			}
		}
	}
	return keywordRule{}, false
}

func (MockProvider) AnalyzeIssue(ctx context.Context, image []byte, mimeType string, text string) (models.AIAnalysis, error) {
	rule, ok := matchRule(text)
	if !ok {
		return DefaultAnalysis(text), nil
	}
	severities := []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh}
	h := utils.HashStringToUint64(text)
	return models.AIAnalysis{
		Category:         rule.category,
		IssueType:        rule.issueType,
		Severity:         severities[int(h%uint64(len(severities)))],
		IssueDescription: fmt.Sprintf("%s reported: %s", rule.issueType, strings.TrimSpace(text)),
	}, nil
}

func (MockProvider) EstimateSLA(ctx context.Context, category, issueType string) (Estimate, error) {
	if rule, ok := matchRule(category + " " + issueType); ok {
		return Estimate{DurationHours: rule.hours, Reasoning: fmt.Sprintf("Typical turnaround for %s work is %.0f hours.", rule.category, rule.hours)}, nil
	}
	return Estimate{DurationHours: 72, Reasoning: "No comparable service standard; defaulting to three days."}, nil
}

// ExtractPolicyItems returns nothing; seed from YAML when no model is configured.
func (MockProvider) ExtractPolicyItems(ctx context.Context, rawText string) (PolicyExtraction, error) {
	return PolicyExtraction{}, nil
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// HashEmbedder is a deterministic bag-of-words embedder: each token is hashed
// into one of Dimensions buckets and the result is L2-normalized. Texts that
// share vocabulary score high on cosine similarity.
type HashEmbedder struct {
	Dimensions int
}

func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := h.Dimensions
	if dims <= 0 {
		dims = 256
	}
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	vec := make([]float32, dims)
	for _, tok := range tokens {
		hv := utils.HashStringToUint64(tok)
		sign := float32(1)
		if (hv>>63)&1 == 1 {
			sign = -1
		}
		vec[hv%uint64(dims)] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
