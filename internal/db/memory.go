package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/civicfix/backend/internal/models"
)

// MemoryStore is a TicketStore for tests and for running without DATABASE_URL.
// Every mutation holds one lock, so upvote increments are atomic.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]models.Ticket
	upvoted map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: map[string]models.Ticket{},
		upvoted: map[string]struct{}{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Create(ctx context.Context, t models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	m.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return models.Ticket{}, ErrNotFound
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) ListTickets(ctx context.Context, status string, limit int) ([]models.Ticket, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := m.collect(func(t models.Ticket) bool {
		return status == "" || string(t.Status) == status
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListOpen(ctx context.Context) ([]models.Ticket, error) {
	out := m.collect(func(t models.Ticket) bool { return t.Status == models.StatusOpen })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListOpenNear(ctx context.Context, p models.GeoPoint, radiusKm float64) ([]models.Ticket, error) {
	open := m.collect(func(t models.Ticket) bool { return t.Status == models.StatusOpen })
	return filterWithinRadius(open, p, radiusKm), nil
}

func (m *MemoryStore) ListHotIssues(ctx context.Context, minUpvotes int) ([]models.Ticket, error) {
	out := m.collect(func(t models.Ticket) bool {
		return t.Status != models.StatusResolved && t.Upvotes > minUpvotes
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Upvotes != out[j].Upvotes {
			return out[i].Upvotes > out[j].Upvotes
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) IncrementUpvote(ctx context.Context, id string, reporter models.Reporter, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status != models.StatusOpen {
		return false, ErrNotFound
	}
	k := id + "\x00" + key
	if _, seen := m.upvoted[k]; seen {
		return false, nil
	}
	m.upvoted[k] = struct{}{}
	t.Upvotes++
	if !reporter.Empty() {
		t.Interested = append(t.Interested, reporter)
	}
	m.tickets[id] = t
	return true, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, to models.Status) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return models.Ticket{}, ErrNotFound
	}
	if !t.Status.CanTransition(to) {
		return models.Ticket{}, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	m.tickets[id] = t
	return cloneTicket(t), nil
}

func (m *MemoryStore) collect(keep func(models.Ticket) bool) []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if keep(t) {
			out = append(out, cloneTicket(t))
		}
	}
	return out
}

func cloneTicket(t models.Ticket) models.Ticket {
	if t.Interested != nil {
		t.Interested = append([]models.Reporter(nil), t.Interested...)
	}
	if t.SLA.ExpectedResolutionDate != nil {
		d := *t.SLA.ExpectedResolutionDate
		t.SLA.ExpectedResolutionDate = &d
	}
	return t
}

var (
	_ TicketStore = (*Store)(nil)
	_ TicketStore = (*MemoryStore)(nil)
)
