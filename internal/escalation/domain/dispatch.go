package escalation

import "time"

// Dispatch results.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultDeferred  = "deferred"
)

// Dispatch is one recorded notification attempt for an escalation
// level.
type Dispatch struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Level     int       `json:"level"`
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	Result    string    `json:"result"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
