package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/devrev/qrcore/internal/store"
	"github.com/google/uuid"
)

const maxStatusLength = 64

// CreateProspectRequest is the body of POST /prospects.
type CreateProspectRequest struct {
	QRTagID         *string         `json:"qr_tag_id,omitempty"`
	CampaignID      *string         `json:"campaign_id,omitempty"`
	AssignedAgentID *string         `json:"assigned_agent_id,omitempty"`
	Status          string          `json:"status,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
}

func (req *CreateProspectRequest) validate() (*model.Prospect, error) {
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = model.DefaultProspectStatus
	}
	if len(status) > maxStatusLength {
		return nil, apierrors.Validation("status must be at most %d characters", maxStatusLength)
	}

	payload := json.RawMessage(`{}`)
	if !isNull(req.Payload) {
		if !isObject(req.Payload) {
			return nil, apierrors.Validation("payload must be an object")
		}
		payload = req.Payload
	}

	p := &model.Prospect{
		QRTagID:         nonEmpty(req.QRTagID),
		CampaignID:      nonEmpty(req.CampaignID),
		AssignedAgentID: nonEmpty(req.AssignedAgentID),
		Status:          status,
		Payload:         payload,
	}
	if req.VerifiedAt != nil {
		v := req.VerifiedAt.UTC().Truncate(time.Microsecond)
		p.VerifiedAt = &v
	}
	return p, nil
}

// CreateProspect handles POST /v1/prospects requests.
func (h *Handlers) CreateProspect(w http.ResponseWriter, r *http.Request) {
	tenantID := reqctx.TenantID(r.Context())

	body, err := readBody(w, r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req CreateProspectRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	prospect, err := req.validate()
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	h.idempotent(w, r, tenantID, body, func(ctx context.Context) envelope.Result {
		if prospect.QRTagID != nil {
			if _, err := h.store.GetQRTag(ctx, tenantID, *prospect.QRTagID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return envelope.Fail(apierrors.Validation("qr_tag_id does not reference a qr tag of this tenant"))
				}
				return envelope.Fail(storeError(err, "qr tag"))
			}
		}

		prospect.ID = uuid.NewString()
		prospect.TenantID = tenantID
		prospect.CreatedAt = h.now()

		if err := h.store.CreateProspect(ctx, prospect); err != nil {
			return envelope.Fail(storeError(err, "prospect"))
		}
		return envelope.OK(http.StatusCreated, prospect)
	})
}

// ListProspects handles GET /v1/prospects requests.
func (h *Handlers) ListProspects(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query(), prospectSort)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	prospects, next, err := h.store.ListProspects(r.Context(), reqctx.TenantID(r.Context()), page)
	if err != nil {
		h.writer.Error(w, r, storeError(err, "prospect"))
		return
	}
	h.writer.Write(w, r, listResult(prospects, next))
}

// GetProspect handles GET /v1/prospects/{id} requests.
func (h *Handlers) GetProspect(w http.ResponseWriter, r *http.Request) {
	prospect, err := h.store.GetProspect(r.Context(), reqctx.TenantID(r.Context()), pathID(r))
	if err != nil {
		h.writer.Error(w, r, storeError(err, "prospect"))
		return
	}
	h.writer.Write(w, r, envelope.OK(http.StatusOK, prospect))
}
