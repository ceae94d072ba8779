package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/google/uuid"
)

const maxCodeLength = 128

// CreateQRCodeRequest is the body of POST /qrcodes.
type CreateQRCodeRequest struct {
	Code        string  `json:"code"`
	Status      string  `json:"status,omitempty"`
	CampaignID  *string `json:"campaign_id,omitempty"`
	CarID       *string `json:"car_id,omitempty"`
	OwnerUserID *string `json:"owner_user_id,omitempty"`
}

// UpdateQRCodeRequest is the body of PATCH /qrcodes/{id}.
type UpdateQRCodeRequest struct {
	Status      *string `json:"status,omitempty"`
	CampaignID  *string `json:"campaign_id,omitempty"`
	CarID       *string `json:"car_id,omitempty"`
	OwnerUserID *string `json:"owner_user_id,omitempty"`
}

func (req *CreateQRCodeRequest) validate() (*model.QRTag, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apierrors.Validation("code is required")
	}
	if len(code) > maxCodeLength {
		return nil, apierrors.Validation("code must be at most %d characters", maxCodeLength)
	}

	status := model.QRTagActive
	if req.Status != "" {
		status = model.QRTagStatus(req.Status)
		if !status.Valid() {
			return nil, apierrors.Validation("status must be one of: active, inactive")
		}
	}

	return &model.QRTag{
		Code:        code,
		Status:      status,
		CampaignID:  nonEmpty(req.CampaignID),
		CarID:       nonEmpty(req.CarID),
		OwnerUserID: nonEmpty(req.OwnerUserID),
	}, nil
}

func (req *UpdateQRCodeRequest) validate() (model.QRTagUpdate, error) {
	var upd model.QRTagUpdate
	if req.Status != nil {
		status := model.QRTagStatus(*req.Status)
		if !status.Valid() {
			return upd, apierrors.Validation("status must be one of: active, inactive")
		}
		upd.Status = &status
	}
	upd.CampaignID = nonEmpty(req.CampaignID)
	upd.CarID = nonEmpty(req.CarID)
	upd.OwnerUserID = nonEmpty(req.OwnerUserID)

	if upd.Status == nil && upd.CampaignID == nil && upd.CarID == nil && upd.OwnerUserID == nil {
		return upd, apierrors.Validation("at least one of status, campaign_id, car_id, owner_user_id is required")
	}
	return upd, nil
}

// CreateQRCode handles POST /v1/qrcodes requests.
func (h *Handlers) CreateQRCode(w http.ResponseWriter, r *http.Request) {
	tenantID := reqctx.TenantID(r.Context())

	body, err := readBody(w, r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req CreateQRCodeRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	tag, err := req.validate()
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	h.idempotent(w, r, tenantID, body, func(ctx context.Context) envelope.Result {
		now := h.now()
		tag.ID = uuid.NewString()
		tag.TenantID = tenantID
		tag.CreatedAt = now
		tag.UpdatedAt = now

		if err := h.store.CreateQRTag(ctx, tag); err != nil {
			return envelope.Fail(storeError(err, "qr code"))
		}
		return envelope.OK(http.StatusCreated, tag)
	})
}

// ListQRCodes handles GET /v1/qrcodes requests.
func (h *Handlers) ListQRCodes(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query(), qrTagSort)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	tags, next, err := h.store.ListQRTags(r.Context(), reqctx.TenantID(r.Context()), page)
	if err != nil {
		h.writer.Error(w, r, storeError(err, "qr tag"))
		return
	}
	h.writer.Write(w, r, listResult(tags, next))
}

// GetQRCode handles GET /v1/qrcodes/{id} requests.
func (h *Handlers) GetQRCode(w http.ResponseWriter, r *http.Request) {
	tag, err := h.store.GetQRTag(r.Context(), reqctx.TenantID(r.Context()), pathID(r))
	if err != nil {
		h.writer.Error(w, r, storeError(err, "qr tag"))
		return
	}
	h.writer.Write(w, r, envelope.OK(http.StatusOK, tag))
}

// UpdateQRCode handles PATCH /v1/qrcodes/{id} requests.
func (h *Handlers) UpdateQRCode(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req UpdateQRCodeRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	upd, err := req.validate()
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	tag, err := h.store.UpdateQRTag(r.Context(), reqctx.TenantID(r.Context()), pathID(r), upd, h.now())
	if err != nil {
		h.writer.Error(w, r, storeError(err, "qr tag"))
		return
	}
	h.writer.Write(w, r, envelope.OK(http.StatusOK, tag))
}

// ListQRCodeScans handles GET /v1/qrcodes/{id}/scans requests.
func (h *Handlers) ListQRCodeScans(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query(), scanSort)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	tenantID := reqctx.TenantID(r.Context())
	tagID := pathID(r)
	if _, err := h.store.GetQRTag(r.Context(), tenantID, tagID); err != nil {
		h.writer.Error(w, r, storeError(err, "qr tag"))
		return
	}

	scans, next, err := h.store.ListScans(r.Context(), tenantID, tagID, page)
	if err != nil {
		h.writer.Error(w, r, storeError(err, "qr scan"))
		return
	}
	h.writer.Write(w, r, listResult(scans, next))
}
