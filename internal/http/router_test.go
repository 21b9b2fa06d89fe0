package httpapi

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/config"
	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/http/middleware"
	"github.com/civicfix/backend/internal/sla"
	"github.com/civicfix/backend/internal/vectorindex"
)

func testRouter(adminKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := db.NewMemoryStore()
	index := vectorindex.NewMemoryIndex()
	cfg := config.Config{AdminKey: adminKey, CORSAllowed: "*", MaxUploadSizeMB: 5, RequestTimeout: 5 * time.Second}
	return Router(cfg, Deps{
		Store: store,
		SLA: &sla.Engine{
			Index: index, Embedder: ai.HashEmbedder{Dimensions: 16}, Estimator: ai.MockProvider{}, Logger: zerolog.Nop(),
		},
	}, zerolog.Nop())
}

func TestAdminRoutesRequireKey(t *testing.T) {
	r := testRouter("s3cret")
	body := `{"category":"Roads","issueType":"Pothole"}`

	req := httptest.NewRequest(http.MethodPost, "/api/sla/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sla/resolve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AdminKeyHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestIDEchoed(t *testing.T) {
	r := testRouter("")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(middleware.RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := w.Header().Get(middleware.RequestIDHeader); !strings.HasPrefix(got, "req_") {
		t.Fatalf("expected generated request id, got %q", got)
	}
}

func TestAllowedOrigins(t *testing.T) {
	cases := map[string][]string{
		"":                                     nil,
		"*":                                    nil,
		"https://a.example, https://b.example": {"https://a.example", "https://b.example"},
	}
	for raw, want := range cases {
		if got := allowedOrigins(raw); !reflect.DeepEqual(got, want) {
			t.Fatalf("allowedOrigins(%q) = %v, want %v", raw, got, want)
		}
	}

	check := originChecker([]string{"https://a.example"})
	req := httptest.NewRequest(http.MethodGet, "/api/live", nil)
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatalf("unexpected origin accepted")
	}
	req.Header.Set("Origin", "https://A.example")
	if !check(req) {
		t.Fatalf("listed origin rejected")
	}
}
