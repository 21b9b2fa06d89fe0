// Package seed loads charter policy clauses and department responsibilities
// into the vector index.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/utils"
	"github.com/civicfix/backend/internal/vectorindex"
)

const MinTextChars = 50

var ErrTextTooShort = errors.New("extracted text is too short or empty")

const (
	OnlyAll        = ""
	OnlySLA        = "sla"
	OnlyDepartment = "department"
)

type Seeder struct {
	Extractor ai.PolicyExtractor
	Embedder  ai.Embedder
	Index     vectorindex.Index
	Logger    zerolog.Logger

	Concurrency int
	// StableIDs derives record ids from each item's natural key, so seeding
	// the same document twice overwrites instead of adding a parallel set.
	StableIDs bool
	Source    string
	Only      string
}

type Result struct {
	SLAItems          int `json:"sla_items"`
	SLARecords        int `json:"sla_records"`
	DepartmentItems   int `json:"department_items"`
	DepartmentRecords int `json:"department_records"`
	Skipped           int `json:"skipped"`
}

// ExtractPDFText returns the plain text of every page.
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LoadItemsYAML reads a pre-extracted policy file with top-level slaItems
// and departments lists.
func LoadItemsYAML(path string) (ai.PolicyExtraction, error) {
	var out ai.PolicyExtraction
	b, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func (s *Seeder) SeedFromText(ctx context.Context, text string) (Result, error) {
	if len(strings.TrimSpace(text)) < MinTextChars {
		return Result{}, ErrTextTooShort
	}
	s.Logger.Info().Int("chars", len(text)).Msg("extracting policy items")
	items, err := s.Extractor.ExtractPolicyItems(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("extract policy items: %w", err)
	}
	return s.SeedItems(ctx, items)
}

func (s *Seeder) SeedItems(ctx context.Context, items ai.PolicyExtraction) (Result, error) {
	var res Result
	if s.Only == OnlyAll || s.Only == OnlySLA {
		res.SLAItems = len(items.SLAItems)
		if len(items.SLAItems) == 0 {
			s.Logger.Warn().Msg("no sla items extracted")
		} else {
			records, skipped, err := s.embedAll(ctx, len(items.SLAItems), func(i int) (vectorindex.Record, string, error) {
				return s.slaRecord(items.SLAItems[i])
			})
			if err != nil {
				return res, err
			}
			res.Skipped += skipped
			if err := s.Index.Upsert(ctx, vectorindex.NamespaceSLA, records); err != nil {
				return res, fmt.Errorf("upsert sla records: %w", err)
			}
			res.SLARecords = len(records)
			s.Logger.Info().Int("records", len(records)).Msg("sla upsert complete")
		}
	}

	if s.Only == OnlyAll || s.Only == OnlyDepartment {
		res.DepartmentItems = len(items.Departments)
		if len(items.Departments) == 0 {
			s.Logger.Warn().Msg("no department items extracted")
		} else {
			records, skipped, err := s.embedAll(ctx, len(items.Departments), func(i int) (vectorindex.Record, string, error) {
				return s.departmentRecord(items.Departments[i])
			})
			if err != nil {
				return res, err
			}
			res.Skipped += skipped
			if err := s.Index.Upsert(ctx, vectorindex.NamespaceDepartment, records); err != nil {
				return res, fmt.Errorf("upsert department records: %w", err)
			}
			res.DepartmentRecords = len(records)
			s.Logger.Info().Int("records", len(records)).Msg("department upsert complete")
		}
	}
	return res, nil
}

// Verify embeds query and returns the top matches from one namespace.
func (s *Seeder) Verify(ctx context.Context, ns vectorindex.Namespace, query string, topK int) ([]vectorindex.Match, error) {
	vec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.Index.Query(ctx, ns, vec, topK, nil)
}

// embedAll builds n records concurrently, keeping input order. Items whose
// embedding fails are skipped and counted.
func (s *Seeder) embedAll(ctx context.Context, n int, build func(i int) (vectorindex.Record, string, error)) ([]vectorindex.Record, int, error) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}
	slots := make([]*vectorindex.Record, n)
	var (
		mu      sync.Mutex
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			rec, text, err := build(i)
			if err != nil {
				return err
			}
			vec, err := s.Embedder.Embed(gctx, text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.Logger.Warn().Err(err).Str("id", rec.ID).Msg("embedding failed, skipping item")
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			rec.Values = vec
			slots[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, skipped, err
	}

	out := make([]vectorindex.Record, 0, n)
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, skipped, nil
}

func (s *Seeder) slaRecord(item ai.SLAItem) (vectorindex.Record, string, error) {
	text := SLAEmbedText(item)
	meta, err := vectorindex.EncodeMetadata(vectorindex.SLAPolicy{
		Category:         item.Category,
		IssueType:        item.IssueType,
		SectionReference: item.SectionReference,
		SLADuration:      item.SLADuration,
		SLAUnit:          item.SLAUnit,
		Text:             item.Text,
		Source:           s.Source,
	})
	if err != nil {
		return vectorindex.Record{}, "", err
	}
	id := s.recordID("SLA", item.Category, item.IssueType, item.SectionReference)
	return vectorindex.Record{ID: id, Metadata: meta}, text, nil
}

func (s *Seeder) departmentRecord(item ai.DepartmentItem) (vectorindex.Record, string, error) {
	text := DepartmentEmbedText(item)
	meta, err := vectorindex.EncodeMetadata(vectorindex.DepartmentCharter{
		DepartmentName: item.DepartmentName,
		HandledIssues:  item.HandledIssues,
		Summary:        item.Summary,
		TextVal:        text,
		Source:         s.Source,
	})
	if err != nil {
		return vectorindex.Record{}, "", err
	}
	id := s.recordID("DEPT", item.DepartmentName)
	return vectorindex.Record{ID: id, Metadata: meta}, text, nil
}

func (s *Seeder) recordID(prefix string, naturalKey ...string) string {
	if s.StableIDs {
		return utils.StableID(prefix, naturalKey...)
	}
	return prefix + "-" + uuid.NewString()
}

func SLAEmbedText(item ai.SLAItem) string {
	return fmt.Sprintf("%s - %s: %s (%s)", item.Category, item.IssueType, item.Text, item.SectionReference)
}

func DepartmentEmbedText(item ai.DepartmentItem) string {
	return fmt.Sprintf("%s handles: %s. %s. Common phrases: %s",
		item.DepartmentName,
		strings.Join(item.HandledIssues, ", "),
		item.Summary,
		strings.Join(item.ExamplePhrases, ", "))
}
