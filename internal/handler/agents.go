package handler

import (
	"net/http"

	"github.com/devrev/qrcore/internal/pagination"
	"github.com/devrev/qrcore/internal/reqctx"
)

// ListAgents handles GET /v1/agents requests.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query(), agentSort)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}

	agents, next, err := h.store.ListAgents(r.Context(), reqctx.TenantID(r.Context()), page)
	if err != nil {
		h.writer.Error(w, r, storeError(err, "agent"))
		return
	}
	h.writer.Write(w, r, listResult(agents, next))
}
