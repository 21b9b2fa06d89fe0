package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/civicfix/backend/internal/models"
)

var ErrNotFound = errors.New("geocode not found")

// Reverser turns a coordinate into a human-readable street address.
type Reverser interface {
	Reverse(ctx context.Context, p models.GeoPoint) (string, error)
}

// NeedsAddress reports whether a report should be reverse geocoded: it has a
// usable location but the reporter left the address blank.
func NeedsAddress(address string, p models.GeoPoint) bool {
	return strings.TrimSpace(address) == "" && p.Valid()
}

// cacheKey rounds to four decimals (about 11 m) so nearby reports share a lookup.
func cacheKey(p models.GeoPoint) string {
	return fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lng)
}
