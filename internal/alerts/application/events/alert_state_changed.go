package events

import "time"

// AlertStateChanged is raised on every alert lifecycle transition,
// including escalation level advances.
type AlertStateChanged struct {
	EventID         string    `json:"event_id"`
	AlertID         string    `json:"alert_id"`
	UnitID          string    `json:"unit_id"`
	SiteID          string    `json:"site_id"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	Transition      string    `json:"transition"`
	EscalationLevel int       `json:"escalation_level"`
	OccurredAt      time.Time `json:"occurred_at"`
}
