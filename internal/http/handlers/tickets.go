package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/models"
	"github.com/civicfix/backend/internal/service"
)

// @Summary Report an issue
// @Description Analyzes the photo, folds the report into a nearby open duplicate when one exists, otherwise creates a routed ticket with an SLA.
// @Tags tickets
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Photo of the issue"
// @Param userDescription formData string false "Reporter description"
// @Param lat formData number true "Latitude"
// @Param lng formData number true "Longitude"
// @Param address formData string false "Address"
// @Param name formData string false "Reporter name"
// @Param contact formData string false "Reporter phone"
// @Param email formData string false "Reporter email"
// @Success 201 {object} map[string]any
// @Success 200 {object} map[string]any "merged into an existing ticket"
// @Failure 400 {object} map[string]any
// @Router /api/tickets/report [post]
func (h *Handler) ReportIssue(c *gin.Context) {
	image, mimeType, ok := h.readImage(c)
	if !ok {
		return
	}
	lat, errLat := parseCoord(c.PostForm("lat"))
	lng, errLng := parseCoord(c.PostForm("lng"))
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lng must be numbers", nil)
		return
	}
	loc, _ := point(lat, lng)

	report := models.IssueReport{
		Description: c.PostForm("userDescription"),
		Location:    loc,
		Address:     c.PostForm("address"),
		Reporter: ReporterPayload{
			Name:    c.PostForm("name"),
			Contact: c.PostForm("contact"),
			Email:   c.PostForm("email"),
		}.toModel(),
		Image:    image,
		MimeType: mimeType,
	}

	out, err := h.Triage.ReportIssue(c.Request.Context(), report)
	if err != nil {
		if errors.Is(err, service.ErrInvalidReport) {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		h.Logger.Error().Err(err).Msg("report failed")
		writeError(c, http.StatusInternalServerError, "REPORT_ERROR", "Failed to create ticket", err.Error())
		return
	}
	if out.Merged {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"merged":  true,
			"data":    out.Duplicate,
			"events":  out.Events,
			"message": "A matching open ticket already exists; your report was added to it.",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    out.Ticket,
		"routing": out.Routing,
		"sla":     out.SLA,
		"events":  out.Events,
		"message": "Ticket created successfully via AI analysis.",
	})
}

// @Summary Analyze an image
// @Tags tickets
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Photo of the issue"
// @Success 200 {object} map[string]any
// @Router /api/tickets/analyze [post]
func (h *Handler) AnalyzeImage(c *gin.Context) {
	image, mimeType, ok := h.readImage(c)
	if !ok {
		return
	}
	analysis, err := h.Triage.AnalyzeImage(c.Request.Context(), image, mimeType)
	if err != nil {
		writeError(c, http.StatusBadGateway, "ANALYSIS_ERROR", "Image analysis failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": analysis})
}

type CheckDuplicateRequest struct {
	Description string          `json:"description" validate:"required"`
	Lat         *float64        `json:"lat" validate:"required"`
	Lng         *float64        `json:"lng" validate:"required"`
	Reporter    ReporterPayload `json:"reporter"`
	// Key identifies an anonymous submission, e.g. a client-generated id.
	// Ignored when reporter details are present.
	Key string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

// @Summary Duplicate pre-check
// @Description Looks for an open ticket nearby with a matching description; a match is upvoted at most once per reporter.
// @Tags tickets
// @Accept json
// @Produce json
// @Param payload body CheckDuplicateRequest true "Report draft"
// @Success 200 {object} models.DuplicateMatch
// @Router /api/tickets/check-duplicate [post]
func (h *Handler) CheckDuplicate(c *gin.Context) {
	var req CheckDuplicateRequest
	if !h.bindJSON(c, &req) {
		return
	}
	loc, ok := point(req.Lat, req.Lng)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "a valid location is required", nil)
		return
	}
	match, err := h.Dedup.CheckDuplicate(c.Request.Context(), dedup.Request{
		Description: req.Description,
		Location:    loc,
		Reporter:    req.Reporter.toModel(),
		Key:         idempotencyKey(c, req.Key),
	})
	if err != nil {
		// The draft is still submittable; report the failed merge alongside the result.
		c.JSON(http.StatusOK, gin.H{
			"isDuplicate": false,
			"checked":     match.Checked,
			"score":       match.Score,
			"mergeError":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, match)
}

type UpvoteRequest struct {
	ReporterPayload
	Description string `json:"description"`
	Key         string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

// @Summary Upvote a ticket
// @Description Adds the reporter to the ticket's interest list; repeated calls with the same reporter are no-ops.
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body UpvoteRequest true "Reporter"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id}/upvote [put]
func (h *Handler) Upvote(c *gin.Context) {
	id := c.Param("id")
	var req UpvoteRequest
	if !h.bindJSON(c, &req) {
		return
	}
	reporter := req.ReporterPayload.toModel()
	clientKey := idempotencyKey(c, req.Key)
	if reporter.Empty() && clientKey == "" && strings.TrimSpace(req.Description) == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "reporter details or an idempotency key are required", nil)
		return
	}
	key := dedup.MergeKey(reporter, clientKey, req.Description, models.GeoPoint{})

	ctx := c.Request.Context()
	applied, err := h.Store.IncrementUpvote(ctx, id, reporter, key)
	if err != nil {
		writeStoreError(c, err, "upvote ticket")
		return
	}
	t, err := h.Store.FindByID(ctx, id)
	if err != nil {
		writeStoreError(c, err, "load ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"applied":        applied,
		"alreadyCounted": !applied,
		"upvotes":        t.Upvotes,
	})
}

// @Summary List tickets
// @Tags tickets
// @Produce json
// @Param status query string false "Open, In Progress or Resolved"
// @Param limit query int false "Max results (default 50)"
// @Success 200 {object} map[string]any
// @Router /api/tickets [get]
func (h *Handler) TicketsList(c *gin.Context) {
	status := strings.TrimSpace(c.Query("status"))
	if status != "" {
		s, ok := models.ParseStatus(status)
		if !ok {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status", status)
			return
		}
		status = string(s)
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.Store.ListTickets(c.Request.Context(), status, limit)
	if err != nil {
		writeStoreError(c, err, "list tickets")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.withBreach(items), "limit": limit})
}

// @Summary Hot issues
// @Description Unresolved tickets with more upvotes than the configured floor, most upvoted first.
// @Tags tickets
// @Produce json
// @Param min query int false "Upvote floor"
// @Success 200 {object} map[string]any
// @Router /api/tickets/hot [get]
func (h *Handler) HotIssues(c *gin.Context) {
	floor := h.HotIssueUpvotes
	if raw := c.Query("min"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "min must be a non-negative integer", raw)
			return
		}
		floor = v
	}
	items, err := h.Store.ListHotIssues(c.Request.Context(), floor)
	if err != nil {
		writeStoreError(c, err, "list hot issues")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.withBreach(items), "min": floor})
}

// @Summary Ticket details
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} map[string]any
// @Router /api/tickets/{id} [get]
func (h *Handler) TicketDetails(c *gin.Context) {
	t, err := h.Store.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "get ticket")
		return
	}
	c.JSON(http.StatusOK, t.WithBreachWarning(h.now()))
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// @Summary Update ticket status
// @Description Open -> In Progress -> Resolved only.
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Param payload body StatusRequest true "New status"
// @Success 200 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/tickets/{id}/status [put]
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	to, ok := models.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status", req.Status)
		return
	}
	t, err := h.Store.UpdateStatus(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		writeStoreError(c, err, "update status")
		return
	}
	h.Logger.Info().Str("ticket_id", t.ID).Str("status", string(t.Status)).Msg("ticket status updated")
	c.JSON(http.StatusOK, gin.H{"success": true, "data": t.WithBreachWarning(h.now())})
}

func (h *Handler) withBreach(items []models.Ticket) []models.Ticket {
	now := h.now()
	out := make([]models.Ticket, 0, len(items))
	for _, t := range items {
		out = append(out, t.WithBreachWarning(now))
	}
	return out
}

func (h *Handler) readImage(c *gin.Context) ([]byte, string, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Image is required", nil)
		return nil, "", false
	}
	if h.MaxUploadBytes > 0 && file.Size > h.MaxUploadBytes {
		writeError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Image exceeds upload limit", gin.H{"max_bytes": h.MaxUploadBytes})
		return nil, "", false
	}
	f, err := file.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable image", err.Error())
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable image", err.Error())
		return nil, "", false
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Only image uploads are accepted", mimeType)
		return nil, "", false
	}
	return data, mimeType, true
}

func idempotencyKey(c *gin.Context, body string) string {
	if k := strings.TrimSpace(c.GetHeader("Idempotency-Key")); k != "" {
		return k
	}
	return strings.TrimSpace(body)
}
