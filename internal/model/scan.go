package model

import (
	"encoding/json"
	"time"
)

// QRScan is a single recorded scan of a QR tag. Scans are immutable.
type QRScan struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	QRTagID   string          `json:"qr_tag_id"`
	ScannedAt time.Time       `json:"scanned_at"`
	IP        *string         `json:"ip,omitempty"`
	UserAgent *string         `json:"user_agent,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}
