package model

import "time"

// QRTagStatus is the lifecycle state of a QR tag
type QRTagStatus string

const (
	QRTagActive   QRTagStatus = "active"
	QRTagInactive QRTagStatus = "inactive"
)

// Valid reports whether s is a known tag status
func (s QRTagStatus) Valid() bool {
	return s == QRTagActive || s == QRTagInactive
}

// QRTag represents a printed QR code owned by a tenant
type QRTag struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	CampaignID  *string     `json:"campaign_id,omitempty"`
	CarID       *string     `json:"car_id,omitempty"`
	OwnerUserID *string     `json:"owner_user_id,omitempty"`
	Code        string      `json:"code"`
	Status      QRTagStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// QRTagUpdate carries the mutable fields of a tag. Nil fields are left untouched.
type QRTagUpdate struct {
	Status      *QRTagStatus
	CampaignID  *string
	CarID       *string
	OwnerUserID *string
}
