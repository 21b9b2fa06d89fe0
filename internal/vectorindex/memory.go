package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an exact cosine index used in tests and when no database is
// configured.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[Namespace]map[string]Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: map[Namespace]map[string]Record{}}
}

func (m *MemoryIndex) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.records[ns]
	if !ok {
		bucket = map[string]Record{}
		m.records[ns] = bucket
	}
	for _, r := range records {
		values := make([]float32, len(r.Values))
		copy(values, r.Values)
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		bucket[r.ID] = Record{ID: r.ID, Values: values, Metadata: meta}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter *Filter) ([]Match, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 1
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if filter != nil && len(filter.IDs) > 0 {
		allowed = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			allowed[id] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.records[ns]))
	for id, r := range m.records[ns] {
		if allowed != nil && !allowed[id] {
			continue
		}
		if filter != nil && !metadataMatches(r.Metadata, filter.Equals) {
			continue
		}
		score, err := CosineSimilarity(vector, r.Values)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", id, err)
		}
		matches = append(matches, Match{ID: id, Score: score, Metadata: r.Metadata})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Len reports how many records a namespace holds.
func (m *MemoryIndex) Len(ns Namespace) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[ns])
}

func metadataMatches(meta map[string]any, equals map[string]string) bool {
	for k, want := range equals {
		got, ok := meta[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
