// Package dedup decides whether a new report describes an already open
// ticket nearby and, if so, folds it into that ticket as an upvote.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/utils"
	"github.com/civicfix/backend/internal/vectorindex"
)

// ErrMergeNotApplied means a duplicate was detected but the upvote could not
// be written. Callers must create the ticket normally.
var ErrMergeNotApplied = errors.New("duplicate merge not applied")

type Store interface {
	ListOpenNear(ctx context.Context, p models.GeoPoint, radiusKm float64) ([]models.Ticket, error)
	IncrementUpvote(ctx context.Context, id string, reporter models.Reporter, key string) (bool, error)
}

type Coordinator struct {
	Store    Store
	Index    vectorindex.Index
	Embedder ai.Embedder
	Logger   zerolog.Logger

	RadiusKm  float64
	Threshold float64
	MinChars  int
}

type Request struct {
	Description string
	Location    models.GeoPoint
	Reporter    models.Reporter
	// Key is a client-supplied submission id. It is only honored for
	// anonymous reports; a named reporter always merges under their own key.
	Key string
}

// Ready reports whether there is enough input to run a check at all.
func (c *Coordinator) Ready(description string, loc models.GeoPoint) bool {
	return utf8.RuneCountInString(strings.TrimSpace(description)) > c.MinChars && loc.Valid()
}

// CheckDuplicate looks for an open ticket within RadiusKm whose indexed
// description scores at least Threshold. On a match the ticket is upvoted
// once per Key. Provider failures count as "no duplicate". A failed upvote
// returns IsDuplicate=false together with an error wrapping ErrMergeNotApplied.
func (c *Coordinator) CheckDuplicate(ctx context.Context, req Request) (models.DuplicateMatch, error) {
	if !c.Ready(req.Description, req.Location) {
		return models.DuplicateMatch{}, nil
	}
	none := models.DuplicateMatch{Checked: true}

	candidates, err := c.Store.ListOpenNear(ctx, req.Location, c.RadiusKm)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("duplicate check: nearby lookup failed, treating as new")
		return none, nil
	}
	if len(candidates) == 0 {
		return none, nil
	}
	byID := make(map[string]models.Ticket, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, t := range candidates {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	vec, err := c.Embedder.Embed(ctx, req.Description)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("duplicate check: embedding failed, treating as new")
		return none, nil
	}
	matches, err := c.Index.Query(ctx, vectorindex.NamespaceTickets, vec, 1, &vectorindex.Filter{IDs: ids})
	if err != nil {
		c.Logger.Warn().Err(err).Msg("duplicate check: vector query failed, treating as new")
		return none, nil
	}
	if len(matches) == 0 {
		return none, nil
	}
	top := matches[0]
	target, ok := byID[top.ID]
	if !ok || top.Score < c.Threshold {
		none.Score = top.Score
		return none, nil
	}

	key := MergeKey(req.Reporter, req.Key, req.Description, req.Location)
	applied, err := c.Store.IncrementUpvote(ctx, target.ID, req.Reporter, key)
	if err != nil {
		c.Logger.Warn().Err(err).Str("ticket_id", target.ID).Msg("duplicate detected but upvote failed")
		none.Score = top.Score
		return none, fmt.Errorf("%w: ticket %s: %v", ErrMergeNotApplied, target.ID, err)
	}

	c.Logger.Info().
		Str("ticket_id", target.ID).
		Float64("score", top.Score).
		Bool("applied", applied).
		Msg("report merged into existing ticket")
	return models.DuplicateMatch{
		IsDuplicate:            true,
		DuplicateTicketID:      target.ID,
		ExpectedResolutionDate: target.SLA.ExpectedResolutionDate,
		Score:                  top.Score,
		Checked:                true,
		AlreadyCounted:         !applied,
	}, nil
}

// Remember indexes a newly created ticket's description so later reports can
// match it.
func (c *Coordinator) Remember(ctx context.Context, t models.Ticket) error {
	text := strings.TrimSpace(t.UserDescription)
	if text == "" {
		text = strings.TrimSpace(t.AIAnalysis.IssueDescription)
	}
	if text == "" {
		return nil
	}
	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed ticket %s: %w", t.ID, err)
	}
	meta, err := vectorindex.EncodeMetadata(vectorindex.TicketReport{TicketID: t.ID})
	if err != nil {
		return err
	}
	return c.Index.Upsert(ctx, vectorindex.NamespaceTickets, []vectorindex.Record{{ID: t.ID, Values: vec, Metadata: meta}})
}

// ReportKey is the idempotency key for one reporter on one ticket; the store
// scopes it by ticket id. Anonymous reports fall back to the report content,
// with location rounded to roughly 10 m so GPS jitter does not mint new keys.
// MergeKey picks the upvote key for a report. A named reporter counts once
// per ticket whatever clientKey says; clientKey only distinguishes anonymous
// submissions.
func MergeKey(r models.Reporter, clientKey, description string, loc models.GeoPoint) string {
	clientKey = strings.TrimSpace(clientKey)
	if r.Empty() && clientKey != "" {
		return clientKey
	}
	return ReportKey(r, description, loc)
}

func ReportKey(r models.Reporter, description string, loc models.GeoPoint) string {
	if !r.Empty() {
		return utils.IdempotencyKey("reporter", r.Email, r.Contact, r.Name)
	}
	return utils.IdempotencyKey(
		"anonymous",
		description,
		fmt.Sprintf("%.4f,%.4f", loc.Lat, loc.Lng),
	)
}
