package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/civicfix/backend/internal/models"
)

// NominatimGeocoder reverse geocodes against a Nominatim instance. The public
// instance allows one request per second, which is the default limit.
type NominatimGeocoder struct {
	BaseURL     string
	UserAgent   string
	MinInterval time.Duration
	Client      *http.Client

	once    sync.Once
	limiter *rate.Limiter
	mu      sync.Mutex
	cache   map[string]string
}

type nominatimReverse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		Road        string `json:"road"`
		HouseNumber string `json:"house_number"`
		Suburb      string `json:"suburb"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		Postcode    string `json:"postcode"`
	} `json:"address"`
}

func (g *NominatimGeocoder) init() {
	g.once.Do(func() {
		if g.Client == nil {
			g.Client = &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
		}
		if g.BaseURL == "" {
			g.BaseURL = "https://nominatim.openstreetmap.org"
		}
		if g.UserAgent == "" {
			g.UserAgent = "civicfix-backend"
		}
		if g.MinInterval <= 0 {
			g.MinInterval = time.Second
		}
		g.limiter = rate.NewLimiter(rate.Every(g.MinInterval), 1)
		g.cache = map[string]string{}
	})
}

func (g *NominatimGeocoder) Reverse(ctx context.Context, p models.GeoPoint) (string, error) {
	g.init()
	if !p.Valid() {
		return "", ErrNotFound
	}
	key := cacheKey(p)

	g.mu.Lock()
	if cached, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Lng, 'f', 6, 64))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")
	endpoint := fmt.Sprintf("%s/reverse?%s", strings.TrimRight(g.BaseURL, "/"), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", g.UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("nominatim http error: %s", resp.Status)
	}

	var item nominatimReverse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", err
	}
	address, err := parseNominatimReverse(item)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.cache[key] = address
	g.mu.Unlock()
	return address, nil
}

// parseNominatimReverse prefers a short "number road, locality" form and falls
// back to the full display name.
func parseNominatimReverse(item nominatimReverse) (string, error) {
	if item.Error != "" {
		return "", ErrNotFound
	}
	a := item.Address
	street := strings.TrimSpace(strings.Join(nonEmpty(a.HouseNumber, a.Road), " "))
	locality := firstNonEmpty(a.Suburb, a.City, a.Town, a.Village)
	if street != "" {
		return strings.Join(nonEmpty(street, locality, a.Postcode), ", "), nil
	}
	if name := strings.TrimSpace(item.DisplayName); name != "" {
		return name, nil
	}
	return "", ErrNotFound
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	if v := nonEmpty(values...); len(v) > 0 {
		return v[0]
	}
	return ""
}
