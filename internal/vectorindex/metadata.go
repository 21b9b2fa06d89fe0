package vectorindex

import (
	"encoding/json"
	"fmt"
)

// SLAPolicy is the metadata stored for one resolution-time clause.
type SLAPolicy struct {
	Category         string  `json:"category"`
	IssueType        string  `json:"issueType"`
	SectionReference string  `json:"sectionReference"`
	SLADuration      float64 `json:"slaDuration"`
	SLAUnit          string  `json:"slaUnit"`
	Text             string  `json:"text"`
	Source           string  `json:"source,omitempty"`
}

// DepartmentCharter is the metadata stored for one department responsibility entry.
type DepartmentCharter struct {
	DepartmentName string   `json:"departmentName"`
	HandledIssues  []string `json:"handledIssues"`
	Summary        string   `json:"summary"`
	TextVal        string   `json:"textVal"`
	Source         string   `json:"source,omitempty"`
}

// TicketReport links an indexed report description back to its ticket.
type TicketReport struct {
	TicketID string `json:"ticketId"`
}

// EncodeMetadata flattens a typed metadata struct into the generic map form.
func EncodeMetadata(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeMetadata fills dst from a generic metadata map.
func DecodeMetadata(meta map[string]any, dst any) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}
