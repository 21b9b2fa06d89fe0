// Package routing assigns a report to the department whose charter entry
// best matches its description.
package routing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/vectorindex"
)

const (
	SourceCategory = "category"
	SourceCharter  = "charter"
	SourceDefault  = "default"
)

const tieEpsilon = 1e-9

type Decision struct {
	Department    string   `json:"departmentName"`
	Confidence    float64  `json:"confidence"`
	Rationale     string   `json:"rationale"`
	Source        string   `json:"source"`
	HandledIssues []string `json:"handledIssues,omitempty"`
}

type Request struct {
	Description string
	Location    *models.GeoPoint
	// CategoryHint is the category from image analysis, when there was one.
	CategoryHint string
}

type Classifier struct {
	Index    vectorindex.Index
	Embedder ai.Embedder
	Logger   zerolog.Logger

	MinChars          int
	MinConfidence     float64
	DefaultDepartment string
}

// Route returns ok=false when the description is too short to carry signal.
// Otherwise it always produces a department, falling back to the default on
// ties, weak matches or provider errors. It has no side effects.
func (c *Classifier) Route(ctx context.Context, req Request) (Decision, bool) {
	text := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(text) < c.MinChars {
		return Decision{}, false
	}

	logger := c.Logger
	if req.Location != nil && req.Location.Valid() {
		logger = logger.With().Float64("lat", req.Location.Lat).Float64("lng", req.Location.Lng).Logger()
	}

	hint := strings.TrimSpace(req.CategoryHint)
	if strings.EqualFold(hint, c.defaultDepartment()) || strings.EqualFold(hint, ai.DefaultAnalysis("").Category) {
		hint = ""
	}

	query := text
	if hint != "" {
		query = hint + ": " + text
	}
	vec, err := c.Embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn().Err(err).Msg("routing: embedding failed")
		return c.fallback(hint, "charter lookup unavailable"), true
	}
	matches, err := c.Index.Query(ctx, vectorindex.NamespaceDepartment, vec, 3, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("routing: charter query failed")
		return c.fallback(hint, "charter lookup unavailable"), true
	}

	if hint != "" {
		return c.resolveHint(hint, matches), true
	}
	return c.classify(matches), true
}

func (c *Classifier) classify(matches []vectorindex.Match) Decision {
	if len(matches) == 0 {
		return c.fallback("", "no charter entries indexed")
	}
	top, charter, err := decodeCharter(matches[0])
	if err != nil {
		c.Logger.Warn().Err(err).Str("id", top.ID).Msg("routing: bad charter metadata")
		return c.fallback("", "charter entry unreadable")
	}
	if top.Score < c.MinConfidence {
		d := c.fallback("", fmt.Sprintf("best match %s scored %.2f, below %.2f", charter.DepartmentName, top.Score, c.MinConfidence))
		d.Confidence = top.Score
		return d
	}
	if len(matches) > 1 && math.Abs(matches[1].Score-top.Score) < tieEpsilon {
		_, runnerUp, err := decodeCharter(matches[1])
		if err == nil && !strings.EqualFold(runnerUp.DepartmentName, charter.DepartmentName) {
			d := c.fallback("", fmt.Sprintf("tie between %s and %s", charter.DepartmentName, runnerUp.DepartmentName))
			d.Confidence = top.Score
			return d
		}
	}
	return Decision{
		Department:    charter.DepartmentName,
		Confidence:    top.Score,
		Rationale:     rationale(charter),
		Source:        SourceCharter,
		HandledIssues: charter.HandledIssues,
	}
}

// resolveHint keeps the analysed category authoritative and only borrows the
// charter's department name and wording when one of the top entries covers it.
func (c *Classifier) resolveHint(hint string, matches []vectorindex.Match) Decision {
	for _, m := range matches {
		_, charter, err := decodeCharter(m)
		if err != nil {
			continue
		}
		if coversCategory(charter, hint) {
			return Decision{
				Department:    charter.DepartmentName,
				Confidence:    m.Score,
				Rationale:     rationale(charter),
				Source:        SourceCategory,
				HandledIssues: charter.HandledIssues,
			}
		}
	}
	return Decision{
		Department: hint,
		Rationale:  fmt.Sprintf("Category %q from image analysis; no charter entry names it.", hint),
		Source:     SourceCategory,
	}
}

func (c *Classifier) fallback(hint, reason string) Decision {
	if hint != "" {
		return Decision{
			Department: hint,
			Rationale:  fmt.Sprintf("Category %q from image analysis (%s).", hint, reason),
			Source:     SourceCategory,
		}
	}
	return Decision{
		Department: c.defaultDepartment(),
		Rationale:  "Routed to the default department: " + reason + ".",
		Source:     SourceDefault,
	}
}

func (c *Classifier) defaultDepartment() string {
	if c.DefaultDepartment == "" {
		return "General"
	}
	return c.DefaultDepartment
}

func decodeCharter(m vectorindex.Match) (vectorindex.Match, vectorindex.DepartmentCharter, error) {
	var charter vectorindex.DepartmentCharter
	if err := vectorindex.DecodeMetadata(m.Metadata, &charter); err != nil {
		return m, charter, err
	}
	if strings.TrimSpace(charter.DepartmentName) == "" {
		return m, charter, fmt.Errorf("charter %s has no department name", m.ID)
	}
	return m, charter, nil
}

func coversCategory(charter vectorindex.DepartmentCharter, category string) bool {
	cat := strings.ToLower(category)
	name := strings.ToLower(charter.DepartmentName)
	if strings.Contains(name, cat) || strings.Contains(cat, name) {
		return true
	}
	for _, issue := range charter.HandledIssues {
		issue = strings.ToLower(strings.TrimSpace(issue))
		if issue != "" && (strings.Contains(issue, cat) || strings.Contains(cat, issue)) {
			return true
		}
	}
	return false
}

func rationale(charter vectorindex.DepartmentCharter) string {
	if s := strings.TrimSpace(charter.Summary); s != "" {
		return fmt.Sprintf("%s: %s", charter.DepartmentName, s)
	}
	if len(charter.HandledIssues) > 0 {
		return fmt.Sprintf("%s handles %s.", charter.DepartmentName, strings.Join(charter.HandledIssues, ", "))
	}
	return charter.DepartmentName
}
