package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/backend/internal/live"
	"github.com/civicfix/backend/internal/routing"
	"github.com/civicfix/backend/internal/sla"
)

type RoutingRequest struct {
	Text string   `json:"text" validate:"required"`
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
}

// @Summary Department routing hint
// @Description Advisory only; nothing is stored.
// @Tags routing
// @Accept json
// @Produce json
// @Param payload body RoutingRequest true "Draft description"
// @Success 200 {object} map[string]any
// @Router /api/routing/analyze [post]
func (h *Handler) RoutingAnalyze(c *gin.Context) {
	var req RoutingRequest
	if !h.bindJSON(c, &req) {
		return
	}
	r := routing.Request{Description: req.Text}
	if p, ok := point(req.Lat, req.Lng); ok {
		r.Location = &p
	}
	decision, ok := h.Router.Route(c.Request.Context(), r)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Description too short to analyze"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": decision})
}

type SLARequest struct {
	Category   string     `json:"category"`
	Department string     `json:"department"`
	IssueType  string     `json:"issueType"`
	Title      string     `json:"title"`
	CreatedAt  *time.Time `json:"createdAt"`
}

// @Summary Resolve an SLA
// @Description Cites the charter clause when one matches at or above the confidence gate, otherwise returns a marked estimate.
// @Tags sla
// @Accept json
// @Produce json
// @Param payload body SLARequest true "Ticket classification"
// @Success 200 {object} sla.Result
// @Router /api/sla/resolve [post]
func (h *Handler) ResolveSLA(c *gin.Context) {
	var req SLARequest
	if !h.bindJSON(c, &req) {
		return
	}
	in := sla.Input{
		Category:   req.Category,
		Department: req.Department,
		IssueType:  req.IssueType,
		Title:      req.Title,
		CreatedAt:  h.now(),
	}
	if req.CreatedAt != nil {
		in.CreatedAt = *req.CreatedAt
	}
	c.JSON(http.StatusOK, h.SLA.ResolveSLA(c.Request.Context(), in))
}

// @Summary Live preview socket
// @Description Send {description, lat, lng, reporter} on every edit; receives routing, duplicate and error frames.
// @Tags routing
// @Router /api/live [get]
func (h *Handler) Live(c *gin.Context) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("live: upgrade failed")
		return
	}
	defer conn.Close()
	live.Serve(c.Request.Context(), conn, h.Live)
}
