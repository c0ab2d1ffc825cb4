package org

import "time"

// Unit is the read model of a monitored enclosure from the external
// organizational store. The engine never writes these records.
type Unit struct {
	ID             string
	Name           string
	AreaID         string
	SiteID         string
	OrganizationID string
	// SensorIDs lists sensors currently assigned to the unit. An empty
	// list puts the unit on the manual-logging path.
	SensorIDs []string
	// ExpectedCheckin is how often the unit's sensors are expected to
	// report; zero falls back to the resolved offline rule intervals.
	ExpectedCheckin time.Duration
}

// HasSensors reports whether any sensor is assigned.
func (u Unit) HasSensors() bool {
	return len(u.SensorIDs) > 0
}
