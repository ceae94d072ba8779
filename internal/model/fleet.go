package model

import "time"

// AgentRole is the role a legacy user must hold to be listed as an agent
const AgentRole = "agent"

// Agent is a legacy user holding the agent role
type Agent struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// DriverAssignment is a row of the legacy car/driver assignment history.
// UnassignedAt is nil while the assignment is still open.
type DriverAssignment struct {
	TenantID     string
	CarID        string
	DriverID     string
	AssignedAt   time.Time
	UnassignedAt *time.Time
}

// Covers reports whether t falls inside the assignment window
func (a *DriverAssignment) Covers(t time.Time) bool {
	if t.Before(a.AssignedAt) {
		return false
	}
	return a.UnassignedAt == nil || !t.After(*a.UnassignedAt)
}

// AttributionSource records how an attribution was derived
type AttributionSource string

const (
	AttributionNone          AttributionSource = "none"
	AttributionVehicleOnly   AttributionSource = "vehicle"
	AttributionAssignment    AttributionSource = "assignment"
	AttributionCurrentDriver AttributionSource = "current_driver"
)

// Attribution is the vehicle and driver associated with a scan. It is derived, never persisted.
type Attribution struct {
	VehicleID *string           `json:"vehicle_id,omitempty"`
	DriverID  *string           `json:"driver_id,omitempty"`
	Source    AttributionSource `json:"source"`
}

// Empty reports whether nothing was attributed
func (a Attribution) Empty() bool {
	return a.VehicleID == nil && a.DriverID == nil
}
