package model

import (
	"encoding/json"
	"time"
)

// DefaultProspectStatus is assigned when intake does not supply a status
const DefaultProspectStatus = "new"

// Prospect is a lead captured through a QR tag or campaign.
// Updates are owned by the monolith; this service only creates and reads.
type Prospect struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	QRTagID         *string         `json:"qr_tag_id,omitempty"`
	CampaignID      *string         `json:"campaign_id,omitempty"`
	AssignedAgentID *string         `json:"assigned_agent_id,omitempty"`
	Status          string          `json:"status"`
	Payload         json.RawMessage `json:"payload"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
