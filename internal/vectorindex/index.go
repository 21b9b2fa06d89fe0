// Package vectorindex stores embedding vectors in isolated namespaces and
// answers top-k similarity queries against one namespace at a time.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
)

type Namespace string

const (
	NamespaceSLA        Namespace = "sla-policy"
	NamespaceDepartment Namespace = "department-charter"
	NamespaceTickets    Namespace = "ticket-reports"
)

var (
	ErrUnknownNamespace  = errors.New("unknown vector namespace")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyID           = errors.New("vector record id is empty")
)

func (n Namespace) Validate() error {
	switch n {
	case NamespaceSLA, NamespaceDepartment, NamespaceTickets:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, string(n))
	}
}

// Record is a write-once vector with its metadata. IDs are unique per namespace;
// upserting an existing id replaces it.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Filter narrows a query. IDs restricts to the given record ids (empty means
// any); Equals requires string metadata fields to match exactly.
type Filter struct {
	IDs    []string
	Equals map[string]string
}

type Index interface {
	Upsert(ctx context.Context, ns Namespace, records []Record) error
	Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter *Filter) ([]Match, error)
}

func validateRecords(records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d: %w", i, ErrEmptyID)
		}
		if len(r.Values) == 0 {
			return fmt.Errorf("record %s: empty vector", r.ID)
		}
	}
	return nil
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
