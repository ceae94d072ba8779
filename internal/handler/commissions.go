package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/devrev/qrcore/internal/store"
	"github.com/google/uuid"
)

// CreateCommissionRequest is the body of POST /commissions.
type CreateCommissionRequest struct {
	ProspectID  string       `json:"prospect_id"`
	AgentID     string       `json:"agent_id"`
	AmountCents *json.Number `json:"amount_cents"`
	Status      string       `json:"status,omitempty"`
}

func (req *CreateCommissionRequest) validate() (*model.Commission, error) {
	prospectID := strings.TrimSpace(req.ProspectID)
	if prospectID == "" {
		return nil, apierrors.Validation("prospect_id is required")
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		return nil, apierrors.Validation("agent_id is required")
	}

	if req.AmountCents == nil {
		return nil, apierrors.Validation("amount_cents is required")
	}
	// Minor units only: 15.00 or 1.5e3 are rejected rather than rounded
	amount, err := req.AmountCents.Int64()
	if err != nil {
		return nil, apierrors.Validation("amount_cents must be an integer number of cents")
	}
	if amount < 0 {
		return nil, apierrors.Validation("amount_cents must not be negative")
	}

	status := model.CommissionPending
	if req.Status != "" {
		status = model.CommissionStatus(req.Status)
		if !status.Valid() {
			return nil, apierrors.Validation("status must be one of: pending, approved, paid")
		}
	}

	return &model.Commission{
		ProspectID:  prospectID,
		AgentID:     agentID,
		AmountCents: amount,
		Status:      status,
	}, nil
}

// CreateCommission handles POST /v1/commissions requests.
func (h *Handlers) CreateCommission(w http.ResponseWriter, r *http.Request) {
	tenantID := reqctx.TenantID(r.Context())

	body, err := readBody(w, r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req CreateCommissionRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	commission, err := req.validate()
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	h.idempotent(w, r, tenantID, body, func(ctx context.Context) envelope.Result {
		if _, err := h.store.GetProspect(ctx, tenantID, commission.ProspectID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return envelope.Fail(apierrors.Validation("prospect_id does not reference a prospect of this tenant"))
			}
			return envelope.Fail(storeError(err, "prospect"))
		}

		commission.ID = uuid.NewString()
		commission.TenantID = tenantID
		commission.CreatedAt = h.now()

		if err := h.store.CreateCommission(ctx, commission); err != nil {
			return envelope.Fail(storeError(err, "commission"))
		}
		return envelope.OK(http.StatusCreated, commission)
	})
}

// ListCommissions handles GET /v1/commissions requests.
func (h *Handlers) ListCommissions(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query(), commissionSort)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	commissions, next, err := h.store.ListCommissions(r.Context(), reqctx.TenantID(r.Context()), page)
	if err != nil {
		h.writer.Error(w, r, storeError(err, "commission"))
		return
	}
	h.writer.Write(w, r, listResult(commissions, next))
}

// GetCommission handles GET /v1/commissions/{id} requests.
func (h *Handlers) GetCommission(w http.ResponseWriter, r *http.Request) {
	commission, err := h.store.GetCommission(r.Context(), reqctx.TenantID(r.Context()), pathID(r))
	if err != nil {
		h.writer.Error(w, r, storeError(err, "commission"))
		return
	}
	h.writer.Write(w, r, envelope.OK(http.StatusOK, commission))
}
