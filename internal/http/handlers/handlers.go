package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/live"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/routing"
	"github.com/civicfix/backend/internal/service"
	"github.com/civicfix/backend/internal/sla"
)

type Handler struct {
	Store     db.TicketStore
	Triage    *service.TriageService
	Dedup     *dedup.Coordinator
	Router    *routing.Classifier
	SLA       *sla.Engine
	Live      live.Options
	Upgrader  websocket.Upgrader
	Validator *validator.Validate
	Logger    zerolog.Logger

	MaxUploadBytes  int64
	HotIssueUpvotes int
	Now             func() time.Time
}

type ReporterPayload struct {
	Name    string `json:"name" validate:"omitempty,max=120"`
	Contact string `json:"contact" validate:"omitempty,max=40"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func (r ReporterPayload) toModel() models.Reporter {
	return models.Reporter{
		Name:    strings.TrimSpace(r.Name),
		Contact: strings.TrimSpace(r.Contact),
		Email:   strings.TrimSpace(r.Email),
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.validator().Struct(dst); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) validator() *validator.Validate {
	if h.Validator == nil {
		h.Validator = validator.New()
	}
	return h.Validator
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func writeStoreError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", "Status change not allowed", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to "+what, err.Error())
	}
}

// parseCoord reads an optional coordinate; empty means absent.
func parseCoord(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func point(lat, lng *float64) (models.GeoPoint, bool) {
	if lat == nil || lng == nil {
		return models.GeoPoint{}, false
	}
	p := models.GeoPoint{Lat: *lat, Lng: *lng}
	return p, p.Valid()
}
