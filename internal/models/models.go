package models

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
)

// ParseStatus accepts the canonical names and their snake/kebab variants.
func ParseStatus(value string) (Status, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.NewReplacer("_", " ", "-", " ").Replace(v)
	switch v {
	case "open":
		return StatusOpen, true
	case "in progress":
		return StatusInProgress, true
	case "resolved":
		return StatusResolved, true
	default:
		return "", false
	}
}

// CanTransition allows only Open -> In Progress -> Resolved.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusOpen:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusResolved
	default:
		return false
	}
}

type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

func NormalizeSeverity(value string) Severity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low", "minor":
		return SeverityLow
	case "high", "critical", "severe", "urgent":
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is inside WGS84 bounds and not the null island
// placeholder that forms send before geolocation resolves.
func (p GeoPoint) Valid() bool {
	if p.Lat == 0 && p.Lng == 0 {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type Reporter struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
}

func (r Reporter) Empty() bool {
	return strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.Contact) == "" && strings.TrimSpace(r.Email) == ""
}

// IssueReport is a citizen submission before it becomes a ticket.
type IssueReport struct {
	Description string   `json:"description"`
	Location    GeoPoint `json:"location"`
	Address     string   `json:"address,omitempty"`
	Reporter    Reporter `json:"reporter"`
	Image       []byte   `json:"-"`
	MimeType    string   `json:"mime_type"`
}

type AIAnalysis struct {
	Category         string   `json:"category"`
	IssueType        string   `json:"issueType"`
	Severity         Severity `json:"severity"`
	IssueDescription string   `json:"issueDescription"`
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

func (l Location) Point() GeoPoint {
	return GeoPoint{Lat: l.Lat, Lng: l.Lng}
}

type Department struct {
	Name       string    `json:"name"`
	AssignedAt time.Time `json:"assignedAt"`
}

type SLA struct {
	ExpectedResolutionDate *time.Time `json:"expectedResolutionDate,omitempty"`
	BreachWarning          bool       `json:"breachWarning"`
	Section                string     `json:"section,omitempty"`
	Explanation            string     `json:"explanation,omitempty"`
}

type Ticket struct {
	ID              string     `json:"id"`
	ImageRef        string     `json:"imageRef"`
	UserDescription string     `json:"userDescription"`
	Reporter        Reporter   `json:"reporter"`
	Interested      []Reporter `json:"interestedReporters"`
	AIAnalysis      AIAnalysis `json:"aiAnalysis"`
	Location        Location   `json:"location"`
	Department      Department `json:"department"`
	Status          Status     `json:"status"`
	Upvotes         int        `json:"upvotes"`
	SLA             SLA        `json:"sla"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// WithBreachWarning flags unresolved tickets whose committed date has passed.
// The committed date itself is never recomputed.
func (t Ticket) WithBreachWarning(now time.Time) Ticket {
	t.SLA.BreachWarning = t.Status != StatusResolved &&
		t.SLA.ExpectedResolutionDate != nil &&
		now.After(*t.SLA.ExpectedResolutionDate)
	return t
}

// DuplicateMatch is the decision returned by duplicate detection. It is never stored.
type DuplicateMatch struct {
	IsDuplicate            bool       `json:"isDuplicate"`
	DuplicateTicketID      string     `json:"duplicateTicketId,omitempty"`
	ExpectedResolutionDate *time.Time `json:"expectedResolutionDate,omitempty"`
	Score                  float64    `json:"score,omitempty"`
	Checked                bool       `json:"checked"`
	AlreadyCounted         bool       `json:"alreadyCounted,omitempty"`
}
