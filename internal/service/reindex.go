package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/models"
)

type OpenTicketLister interface {
	ListOpen(ctx context.Context) ([]models.Ticket, error)
}

// ReindexService rebuilds the ticket-report vectors from the ticket store,
// e.g. after switching embedding models.
type ReindexService struct {
	Store  OpenTicketLister
	Dedup  *dedup.Coordinator
	Logger zerolog.Logger
}

type RunSummary struct {
	Events []map[string]any `json:"events"`
	Counts map[string]any   `json:"counts"`
}

// ReindexOpenTickets re-embeds every open ticket. A failing ticket is counted
// and skipped; only a failure to list tickets aborts the run.
func (s *ReindexService) ReindexOpenTickets(ctx context.Context) (RunSummary, error) {
	tickets, err := s.Store.ListOpen(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{Counts: map[string]any{}}
	start := time.Now()
	summary.Events = append(summary.Events, map[string]any{
		"type":    "load",
		"message": "Open tickets loaded",
		"count":   len(tickets),
		"time":    time.Now().UTC(),
	})

	var indexed, failed int
	var failedIDs []string
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.Dedup.Remember(ctx, t); err != nil {
			failed++
			failedIDs = append(failedIDs, t.ID)
			s.Logger.Warn().Err(err).Str("ticket_id", t.ID).Msg("reindex: ticket skipped")
			continue
		}
		indexed++
	}

	summary.Events = append(summary.Events, map[string]any{
		"type":       "index",
		"message":    "Ticket vectors written",
		"indexed":    indexed,
		"failed":     failed,
		"elapsed_ms": time.Since(start).Milliseconds(),
		"time":       time.Now().UTC(),
	})
	summary.Counts["tickets_open"] = len(tickets)
	summary.Counts["indexed"] = indexed
	summary.Counts["failed"] = failed
	if len(failedIDs) > 0 {
		summary.Counts["failed_ids"] = failedIDs
	}

	s.Logger.Info().Int("indexed", indexed).Int("failed", failed).Msg("reindex complete")
	return summary, nil
}
