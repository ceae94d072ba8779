package model

import "time"

// IdempotencyRecord stores the response produced for a (tenant, key) pair
type IdempotencyRecord struct {
	ID          string
	TenantID    string
	Key         string
	RequestHash string
	StatusCode  int
	Response    []byte
	CreatedAt   time.Time
}
