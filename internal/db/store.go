package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/utils"
)

var ErrNotFound = errors.New("ticket not found")

// TicketStore is the persistence boundary used by triage and the HTTP layer.
type TicketStore interface {
	Create(ctx context.Context, t models.Ticket) error
	FindByID(ctx context.Context, id string) (models.Ticket, error)
	ListTickets(ctx context.Context, status string, limit int) ([]models.Ticket, error)
	ListOpen(ctx context.Context) ([]models.Ticket, error)
	ListOpenNear(ctx context.Context, p models.GeoPoint, radiusKm float64) ([]models.Ticket, error)
	ListHotIssues(ctx context.Context, minUpvotes int) ([]models.Ticket, error)
	// IncrementUpvote adds one upvote and records reporter under key. A key
	// that was already applied leaves the ticket untouched and returns false.
	IncrementUpvote(ctx context.Context, id string, reporter models.Reporter, key string) (bool, error)
	UpdateStatus(ctx context.Context, id string, to models.Status) (models.Ticket, error)
	Ping(ctx context.Context) error
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const ticketColumns = `id, image_ref, user_description, reporter, interested_reporters, ai_analysis,
	lat, lng, address, department_name, department_assigned_at, status, upvotes,
	sla_expected_at, sla_section, sla_explanation, created_at`

func (s *Store) Create(ctx context.Context, t models.Ticket) error {
	reporter, err := json.Marshal(t.Reporter)
	if err != nil {
		return err
	}
	interested := t.Interested
	if interested == nil {
		interested = []models.Reporter{}
	}
	interestedJSON, err := json.Marshal(interested)
	if err != nil {
		return err
	}
	analysis, err := json.Marshal(t.AIAnalysis)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, t.ID, t.ImageRef, t.UserDescription, reporter, interestedJSON, analysis,
		t.Location.Lat, t.Location.Lng, t.Location.Address, t.Department.Name, t.Department.AssignedAt,
		string(t.Status), t.Upvotes, t.SLA.ExpectedResolutionDate, t.SLA.Section, t.SLA.Explanation, t.CreatedAt)
	return err
}

func (s *Store) FindByID(ctx context.Context, id string) (models.Ticket, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListTickets(ctx context.Context, status string, limit int) ([]models.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d", len(args))
	return s.queryTickets(ctx, query, args...)
}

// ListOpen returns every open ticket, oldest first.
func (s *Store) ListOpen(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE status = $1 ORDER BY created_at ASC, id ASC`, string(models.StatusOpen))
}

// ListOpenNear prefilters with a bounding box in SQL and keeps only tickets
// whose great-circle distance is within radiusKm, nearest first.
func (s *Store) ListOpenNear(ctx context.Context, p models.GeoPoint, radiusKm float64) ([]models.Ticket, error) {
	minLat, maxLat, minLng, maxLng := utils.BoundingBox(p.Lat, p.Lng, radiusKm)
	lng := utils.LongitudeRanges(minLng, maxLng)
	west, east := lng[0], lng[len(lng)-1]
	candidates, err := s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE status = $1 AND lat BETWEEN $2 AND $3
		AND (lng BETWEEN $4 AND $5 OR lng BETWEEN $6 AND $7)`,
		string(models.StatusOpen), minLat, maxLat, west[0], west[1], east[0], east[1])
	if err != nil {
		return nil, err
	}
	return filterWithinRadius(candidates, p, radiusKm), nil
}

func (s *Store) ListHotIssues(ctx context.Context, minUpvotes int) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE status <> $1 AND upvotes > $2
		ORDER BY upvotes DESC, created_at ASC`, string(models.StatusResolved), minUpvotes)
}

func (s *Store) IncrementUpvote(ctx context.Context, id string, reporter models.Reporter, key string) (bool, error) {
	reporterJSON, err := json.Marshal(reporter)
	if err != nil {
		return false, err
	}
	applied := false
	err = s.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if models.Status(status) != models.StatusOpen {
			return ErrNotFound
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO ticket_upvotes (ticket_id, idempotency_key, reporter, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (ticket_id, idempotency_key) DO NOTHING
		`, id, key, reporterJSON)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		update := `UPDATE tickets SET upvotes = upvotes + 1`
		args := []any{id}
		if !reporter.Empty() {
			args = append(args, reporterJSON)
			update += `, interested_reporters = interested_reporters || jsonb_build_array($2::jsonb)`
		}
		if _, err := tx.Exec(ctx, update+` WHERE id = $1`, args...); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *Store) UpdateStatus(ctx context.Context, id string, to models.Status) (models.Ticket, error) {
	var out models.Ticket
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		from := models.Status(current)
		if !from.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
		}
		row := tx.QueryRow(ctx, `UPDATE tickets SET status = $1 WHERE id = $2 AND status = $3
			RETURNING `+ticketColumns, string(to), id, current)
		t, err := scanTicket(row)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t          models.Ticket
		reporter   []byte
		interested []byte
		analysis   []byte
		status     string
		expected   *time.Time
	)
	if err := row.Scan(
		&t.ID, &t.ImageRef, &t.UserDescription, &reporter, &interested, &analysis,
		&t.Location.Lat, &t.Location.Lng, &t.Location.Address, &t.Department.Name, &t.Department.AssignedAt,
		&status, &t.Upvotes, &expected, &t.SLA.Section, &t.SLA.Explanation, &t.CreatedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	t.Status = models.Status(status)
	t.SLA.ExpectedResolutionDate = expected
	if len(reporter) > 0 {
		if err := json.Unmarshal(reporter, &t.Reporter); err != nil {
			return models.Ticket{}, fmt.Errorf("decode reporter: %w", err)
		}
	}
	if len(interested) > 0 {
		if err := json.Unmarshal(interested, &t.Interested); err != nil {
			return models.Ticket{}, fmt.Errorf("decode interested reporters: %w", err)
		}
	}
	if len(analysis) > 0 {
		if err := json.Unmarshal(analysis, &t.AIAnalysis); err != nil {
			return models.Ticket{}, fmt.Errorf("decode analysis: %w", err)
		}
	}
	return t, nil
}

func filterWithinRadius(tickets []models.Ticket, p models.GeoPoint, radiusKm float64) []models.Ticket {
	dist := make(map[string]float64, len(tickets))
	out := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		d := utils.HaversineKm(p.Lat, p.Lng, t.Location.Lat, t.Location.Lng)
		if d <= radiusKm {
			dist[t.ID] = d
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if dist[out[i].ID] != dist[out[j].ID] {
			return dist[out[i].ID] < dist[out[j].ID]
		}
		return out[i].ID < out[j].ID
	})
	return out
}
