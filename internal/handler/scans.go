package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/devrev/qrcore/internal/service"
)

// CreateScanRequest is the body of POST /scans.
type CreateScanRequest struct {
	QRTagID string          `json:"qr_tag_id"`
	IP      string          `json:"ip,omitempty"`
	UA      string          `json:"ua,omitempty"`
	Geo     json.RawMessage `json:"geo,omitempty"`
}

// CreateScan handles POST /v1/scans requests.
func (h *Handlers) CreateScan(w http.ResponseWriter, r *http.Request) {
	tenantID := reqctx.TenantID(r.Context())
	if tenantID == "" {
		h.writer.Error(w, r, apierrors.Forbidden("tenant could not be resolved"))
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req CreateScanRequest
	if err := decodeJSON(body, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}

	ip := strings.TrimSpace(req.IP)
	if ip != "" && net.ParseIP(ip) == nil {
		h.writer.Error(w, r, apierrors.Validation("ip must be a valid address"))
		return
	}
	caller := callerAddr(r)
	if ip == "" {
		ip = caller
	}

	ua := strings.TrimSpace(req.UA)
	if ua == "" {
		ua = r.UserAgent()
	}

	if !isObject(req.Geo) && !isNull(req.Geo) {
		h.writer.Error(w, r, apierrors.Validation("geo must be an object"))
		return
	}
	metadata, err := scanMetadata(req.Geo, r.Referer())
	if err != nil {
		h.writer.Error(w, r, apierrors.Internal(err))
		return
	}

	res, err := h.scans.Record(r.Context(), service.ScanInput{
		TenantID:   tenantID,
		QRTagID:    strings.TrimSpace(req.QRTagID),
		IP:         ip,
		CallerAddr: caller,
		UserAgent:  ua,
		Metadata:   metadata,
	})
	if err != nil {
		if apierrors.From(err).Kind == apierrors.KindRateLimited {
			h.collector.RateLimited("scan")
		}
		h.writer.Error(w, r, err)
		return
	}

	attr := res.Attribution
	if info := reqctx.InfoFrom(r.Context()); info != nil {
		info.SetAttribution(deref(attr.VehicleID), deref(attr.DriverID))
	}
	h.collector.Scan(attr.DriverID != nil)

	h.writer.Write(w, r, envelope.OK(http.StatusCreated, res.Scan).WithAttribution(attr))
}

// callerAddr returns the address resolved by the client address middleware,
// else the transport peer. The body ip never takes part.
func callerAddr(r *http.Request) string {
	if addr := reqctx.ClientAddr(r.Context()); addr != "" {
		return addr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// scanMetadata assembles the stored metadata object, or nil when there is nothing to keep
func scanMetadata(geo json.RawMessage, referer string) (json.RawMessage, error) {
	meta := map[string]any{}
	if !isNull(geo) {
		meta["geo"] = geo
	}
	if referer != "" {
		meta["referer"] = referer
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
