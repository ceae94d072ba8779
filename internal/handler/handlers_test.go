package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/envelope"
	"github.com/devrev/qrcore/internal/metrics"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/ratelimit"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/devrev/qrcore/internal/service"
	"github.com/devrev/qrcore/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	h     *Handlers
	mem   *store.Memory
	clock *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithScanLimit(t, 0)
}

func newTestEnvWithScanLimit(t *testing.T, scanLimit int) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewMock()
	clk.Set(testNow)
	mem := store.NewMemory()

	idem := service.NewIdempotencyService(mem, nil, 24*time.Hour, clk, logger)
	attribution := service.NewAttributionService(mem, 30*24*time.Hour, logger)
	scans := service.NewScanService(mem, mem, ratelimit.NewScanLimiter(scanLimit), attribution, clk, logger)

	h := NewHandlers(mem, idem, scans, envelope.NewWriter(logger), metrics.NewCollector(nil, nil), clk, logger)
	return &testEnv{h: h, mem: mem, clock: clk}
}

type call struct {
	method  string
	target  string
	tenant  string
	body    string
	vars    map[string]string
	headers map[string]string
}

func (e *testEnv) do(fn http.HandlerFunc, c call) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if c.body != "" {
		body = bytes.NewBufferString(c.body)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(c.method, c.target, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	ctx := reqctx.WithRequestID(req.Context(), "req-test")
	if c.tenant != "" {
		ctx = reqctx.WithTenant(ctx, c.tenant)
	}
	req = req.WithContext(ctx)
	if c.vars != nil {
		req = mux.SetURLVars(req, c.vars)
	}

	w := httptest.NewRecorder()
	fn(w, req)
	return w
}

type response struct {
	Code        int             `json:"code"`
	Status      string          `json:"status"`
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data"`
	NextCursor  string          `json:"next_cursor"`
	Attribution json.RawMessage `json:"attribution"`
	RequestID   string          `json:"request_id"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return r
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &v))
	return v
}

func (e *testEnv) createTag(t *testing.T, tenant, body string) model.QRTag {
	t.Helper()
	w := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: tenant, body: body})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[model.QRTag](t, w)
}

func TestCreateQRCode(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: "t1", body: `{"code":" PROMO-1 ","car_id":"car-1"}`})
	require.Equal(t, http.StatusCreated, w.Code)

	res := decode(t, w)
	assert.True(t, res.Success)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 201, res.Code)

	tag := decodeData[model.QRTag](t, w)
	assert.NotEmpty(t, tag.ID)
	assert.Equal(t, "t1", tag.TenantID)
	assert.Equal(t, "PROMO-1", tag.Code)
	assert.Equal(t, model.QRTagActive, tag.Status)
	assert.Equal(t, "car-1", *tag.CarID)
	assert.True(t, tag.CreatedAt.Equal(testNow))
}

func TestCreateQRCode_Validation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"malformed json", `{"code":`},
		{"missing code", `{"status":"active"}`},
		{"unknown status", `{"code":"A","status":"archived"}`},
		{"code too long", fmt.Sprintf(`{"code":%q}`, strings.Repeat("x", maxCodeLength+1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: "t1", body: tt.body})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			res := decode(t, w)
			assert.Equal(t, "INVALID_REQUEST", res.Error.Code)
			assert.Equal(t, "req-test", res.RequestID)
		})
	}
}

func TestCreateQRCode_DuplicateCodePerTenant(t *testing.T) {
	e := newTestEnv(t)
	e.createTag(t, "t1", `{"code":"A"}`)

	w := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: "t1", body: `{"code":"A"}`})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_EXISTS", decode(t, w).Error.Code)

	// The same code is free in another tenant
	e.createTag(t, "t2", `{"code":"A"}`)
}

func TestCreateQRCode_Idempotent(t *testing.T) {
	e := newTestEnv(t)
	post := func(key, header, body string) *httptest.ResponseRecorder {
		return e.do(e.h.CreateQRCode, call{
			method:  http.MethodPost,
			target:  "/v1/qrcodes",
			tenant:  "t1",
			body:    body,
			headers: map[string]string{header: key},
		})
	}

	first := post("k1", IdempotencyKeyHeader, `{"code":"PROMO-1","status":"active"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	// Same payload with reordered keys and extra whitespace replays
	second := post("k1", IdempotencyKeyHeader, `{ "status": "active", "code": "PROMO-1" }`)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())
	// The stored body is replayed verbatim, so it keeps the original code
	assert.Equal(t, http.StatusCreated, decode(t, second).Code)

	// The alternate header names the same key
	third := post("k1", AltIdempotencyKeyHeader, `{"code":"PROMO-1","status":"active"}`)
	assert.Equal(t, http.StatusOK, third.Code)

	conflict := post("k1", IdempotencyKeyHeader, `{"code":"PROMO-2"}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_CONFLICT", decode(t, conflict).Error.Code)

	tooLong := post(strings.Repeat("k", service.MaxIdempotencyKeyLength+1), IdempotencyKeyHeader, `{"code":"PROMO-3"}`)
	assert.Equal(t, http.StatusBadRequest, tooLong.Code)

	w := e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: "/v1/qrcodes", tenant: "t1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeData[[]model.QRTag](t, w), 1)
}

func TestCreateQRCode_KeyScopedPerTenant(t *testing.T) {
	e := newTestEnv(t)
	headers := map[string]string{IdempotencyKeyHeader: "shared"}

	w1 := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: "t1", body: `{"code":"A"}`, headers: headers})
	w2 := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: "t2", body: `{"code":"B"}`, headers: headers})

	assert.Equal(t, http.StatusCreated, w1.Code)
	assert.Equal(t, http.StatusCreated, w2.Code)
}

func TestCreateQRCode_FailuresAreNotStored(t *testing.T) {
	e := newTestEnv(t)
	e.createTag(t, "t1", `{"code":"A"}`)
	headers := map[string]string{IdempotencyKeyHeader: "retry-me"}

	w := e.do(e.h.CreateQRCode, call{method: http.MethodPost, target: "/v1/qrcodes", tenant: "t1", body: `{"code":"A"}`, headers: headers})
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := e.mem.GetIdempotencyRecord(t.Context(), "t1", "retry-me", testNow.Add(-time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetQRCode_TenantIsolation(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"PROMO-1"}`)

	w := e.do(e.h.GetQRCode, call{method: http.MethodGet, target: "/v1/qrcodes/" + tag.ID, tenant: "t1", vars: map[string]string{"id": tag.ID}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tag.ID, decodeData[model.QRTag](t, w).ID)

	w = e.do(e.h.GetQRCode, call{method: http.MethodGet, target: "/v1/qrcodes/" + tag.ID, tenant: "t2", vars: map[string]string{"id": tag.ID}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w).Error.Code)

	w = e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: "/v1/qrcodes", tenant: "t2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[[]model.QRTag](t, w))
}

func TestUpdateQRCode(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"A"}`)
	vars := map[string]string{"id": tag.ID}

	e.clock.Add(time.Minute)
	w := e.do(e.h.UpdateQRCode, call{method: http.MethodPatch, target: "/v1/qrcodes/" + tag.ID, tenant: "t1", body: `{"status":"inactive","car_id":"car-9"}`, vars: vars})
	require.Equal(t, http.StatusOK, w.Code)

	updated := decodeData[model.QRTag](t, w)
	assert.Equal(t, model.QRTagInactive, updated.Status)
	assert.Equal(t, "car-9", *updated.CarID)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	w = e.do(e.h.UpdateQRCode, call{method: http.MethodPatch, target: "/v1/qrcodes/" + tag.ID, tenant: "t1", body: `{}`, vars: vars})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(e.h.UpdateQRCode, call{method: http.MethodPatch, target: "/v1/qrcodes/" + tag.ID, tenant: "t1", body: `{"status":"deleted"}`, vars: vars})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(e.h.UpdateQRCode, call{method: http.MethodPatch, target: "/v1/qrcodes/" + tag.ID, tenant: "t2", body: `{"status":"inactive"}`, vars: vars})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListQRCodes_CursorWalk(t *testing.T) {
	e := newTestEnv(t)
	want := map[string]bool{}
	for i := 0; i < 7; i++ {
		tag := e.createTag(t, "t1", fmt.Sprintf(`{"code":"C-%d"}`, i))
		want[tag.ID] = true
		// Every other tag shares a timestamp to exercise the id tie-break
		if i%2 == 1 {
			e.clock.Add(time.Second)
		}
	}

	for _, sort := range []string{"created_at:desc", "created_at:asc", "code:asc", "code:desc"} {
		t.Run(sort, func(t *testing.T) {
			seen := map[string]bool{}
			cursor := ""
			for pages := 0; pages < 10; pages++ {
				target := "/v1/qrcodes?limit=3&sort=" + sort
				if cursor != "" {
					target += "&cursor=" + cursor
				}
				w := e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: target, tenant: "t1"})
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())

				res := decode(t, w)
				var tags []model.QRTag
				require.NoError(t, json.Unmarshal(res.Data, &tags))
				for _, tag := range tags {
					assert.False(t, seen[tag.ID], "duplicate %s", tag.ID)
					seen[tag.ID] = true
				}
				if res.NextCursor == "" {
					break
				}
				cursor = res.NextCursor
			}
			assert.Equal(t, want, seen)
		})
	}
}

func TestListQRCodes_InvalidParams(t *testing.T) {
	e := newTestEnv(t)

	for _, target := range []string{
		"/v1/qrcodes?limit=0",
		"/v1/qrcodes?limit=abc",
		"/v1/qrcodes?cursor=***",
		"/v1/qrcodes?cursor=bm90LWpzb24",
	} {
		w := e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: target, tenant: "t1"})
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	w := e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: "/v1/qrcodes?limit=5000&sort=bogus:sideways", tenant: "t1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListQRCodes_CursorBoundToSort(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		e.createTag(t, "t1", fmt.Sprintf(`{"code":"C-%d"}`, i))
	}

	w := e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: "/v1/qrcodes?limit=1&sort=code:asc", tenant: "t1"})
	require.Equal(t, http.StatusOK, w.Code)
	cursor := decode(t, w).NextCursor
	require.NotEmpty(t, cursor)

	w = e.do(e.h.ListQRCodes, call{method: http.MethodGet, target: "/v1/qrcodes?limit=1&sort=code:desc&cursor=" + cursor, tenant: "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateScan(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"CAR","car_id":"car-1"}`)
	e.mem.AddAssignment(model.DriverAssignment{TenantID: "t1", CarID: "car-1", DriverID: "d-1", AssignedAt: testNow.Add(-time.Hour)})

	w := e.do(e.h.CreateScan, call{
		method: http.MethodPost,
		target: "/v1/scans",
		tenant: "t1",
		body:   fmt.Sprintf(`{"qr_tag_id":%q,"geo":{"lat":52.1,"lng":4.3}}`, tag.ID),
		headers: map[string]string{
			"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
			"User-Agent":      "Mozilla/5.0",
			"Referer":         "https://promo.example.com",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	scan := decodeData[model.QRScan](t, w)
	assert.Equal(t, "t1", scan.TenantID)
	assert.Equal(t, tag.ID, scan.QRTagID)
	// X-Forwarded-For is only honored behind a trusted proxy
	assert.Equal(t, "192.0.2.1", *scan.IP)
	assert.Equal(t, "Mozilla/5.0", *scan.UserAgent)
	assert.JSONEq(t, `{"geo":{"lat":52.1,"lng":4.3},"referer":"https://promo.example.com"}`, string(scan.Metadata))

	var attr model.Attribution
	require.NoError(t, json.Unmarshal(decode(t, w).Attribution, &attr))
	assert.Equal(t, "car-1", *attr.VehicleID)
	assert.Equal(t, "d-1", *attr.DriverID)
	assert.Equal(t, model.AttributionAssignment, attr.Source)

	// Attribution is never written to the stored row
	assert.NotContains(t, string(decode(t, w).Data), "driver")
}

func TestCreateScan_BodyOverridesCaller(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"A"}`)

	w := e.do(e.h.CreateScan, call{
		method:  http.MethodPost,
		target:  "/v1/scans",
		tenant:  "t1",
		body:    fmt.Sprintf(`{"qr_tag_id":%q,"ip":"198.51.100.4","ua":"kiosk/1.0"}`, tag.ID),
		headers: map[string]string{"User-Agent": "curl/8"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	scan := decodeData[model.QRScan](t, w)
	assert.Equal(t, "198.51.100.4", *scan.IP)
	assert.Equal(t, "kiosk/1.0", *scan.UserAgent)
	assert.Empty(t, scan.Metadata)

	var attr model.Attribution
	require.NoError(t, json.Unmarshal(decode(t, w).Attribution, &attr))
	assert.Equal(t, model.AttributionNone, attr.Source)
}

func TestCreateScan_LimitedPerCaller(t *testing.T) {
	e := newTestEnvWithScanLimit(t, 2)
	tag := e.createTag(t, "t1", `{"code":"A"}`)

	scan := func(ip string) *httptest.ResponseRecorder {
		return e.do(e.h.CreateScan, call{
			method:  http.MethodPost,
			target:  "/v1/scans",
			tenant:  "t1",
			body:    fmt.Sprintf(`{"qr_tag_id":%q,"ip":%q}`, tag.ID, ip),
			headers: map[string]string{"X-Forwarded-For": ip},
		})
	}

	require.Equal(t, http.StatusCreated, scan("198.51.100.1").Code)
	require.Equal(t, http.StatusCreated, scan("198.51.100.2").Code)

	w := scan("198.51.100.3")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	res := decode(t, w)
	require.NotNil(t, res.Error)
	assert.Equal(t, "RATE_LIMITED", res.Error.Code)

	// Another tenant behind the same address has its own budget
	other := e.createTag(t, "t2", `{"code":"A"}`)
	w = e.do(e.h.CreateScan, call{method: http.MethodPost, target: "/v1/scans", tenant: "t2", body: fmt.Sprintf(`{"qr_tag_id":%q}`, other.ID)})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateScan_Rejects(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"A"}`)

	tests := []struct {
		name   string
		tenant string
		body   string
		status int
	}{
		{"no tenant", "", fmt.Sprintf(`{"qr_tag_id":%q}`, tag.ID), http.StatusForbidden},
		{"missing tag", "t1", `{}`, http.StatusBadRequest},
		{"bad ip", "t1", fmt.Sprintf(`{"qr_tag_id":%q,"ip":"not-an-ip"}`, tag.ID), http.StatusBadRequest},
		{"geo not an object", "t1", fmt.Sprintf(`{"qr_tag_id":%q,"geo":[1,2]}`, tag.ID), http.StatusBadRequest},
		{"foreign tag", "t2", fmt.Sprintf(`{"qr_tag_id":%q}`, tag.ID), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(e.h.CreateScan, call{method: http.MethodPost, target: "/v1/scans", tenant: tt.tenant, body: tt.body})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestListQRCodeScans(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"A"}`)
	for i := 0; i < 3; i++ {
		w := e.do(e.h.CreateScan, call{method: http.MethodPost, target: "/v1/scans", tenant: "t1", body: fmt.Sprintf(`{"qr_tag_id":%q}`, tag.ID)})
		require.Equal(t, http.StatusCreated, w.Code)
		e.clock.Add(time.Second)
	}

	vars := map[string]string{"id": tag.ID}
	w := e.do(e.h.ListQRCodeScans, call{method: http.MethodGet, target: "/v1/qrcodes/" + tag.ID + "/scans?limit=2", tenant: "t1", vars: vars})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.NotEmpty(t, res.NextCursor)

	var scans []model.QRScan
	require.NoError(t, json.Unmarshal(res.Data, &scans))
	require.Len(t, scans, 2)
	assert.True(t, scans[0].ScannedAt.After(scans[1].ScannedAt))

	w = e.do(e.h.ListQRCodeScans, call{method: http.MethodGet, target: "/v1/qrcodes/" + tag.ID + "/scans", tenant: "t2", vars: vars})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProspect(t *testing.T) {
	e := newTestEnv(t)
	tag := e.createTag(t, "t1", `{"code":"A"}`)

	w := e.do(e.h.CreateProspect, call{
		method: http.MethodPost,
		target: "/v1/prospects",
		tenant: "t1",
		body:   fmt.Sprintf(`{"qr_tag_id":%q,"payload":{"name":"Ada","phone":"+31 6 1234"},"verified_at":"2024-04-30T10:00:00Z"}`, tag.ID),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	p := decodeData[model.Prospect](t, w)
	assert.Equal(t, model.DefaultProspectStatus, p.Status)
	assert.Equal(t, tag.ID, *p.QRTagID)
	assert.JSONEq(t, `{"name":"Ada","phone":"+31 6 1234"}`, string(p.Payload))
	require.NotNil(t, p.VerifiedAt)

	w = e.do(e.h.GetProspect, call{method: http.MethodGet, target: "/v1/prospects/" + p.ID, tenant: "t1", vars: map[string]string{"id": p.ID}})
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeData[model.Prospect](t, w)
	assert.JSONEq(t, string(p.Payload), string(got.Payload))

	w = e.do(e.h.GetProspect, call{method: http.MethodGet, target: "/v1/prospects/" + p.ID, tenant: "t2", vars: map[string]string{"id": p.ID}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProspect_Validation(t *testing.T) {
	e := newTestEnv(t)
	foreign := e.createTag(t, "t2", `{"code":"A"}`)

	w := e.do(e.h.CreateProspect, call{method: http.MethodPost, target: "/v1/prospects", tenant: "t1", body: `{"payload":"nope"}`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(e.h.CreateProspect, call{method: http.MethodPost, target: "/v1/prospects", tenant: "t1", body: fmt.Sprintf(`{"qr_tag_id":%q}`, foreign.ID)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(e.h.CreateProspect, call{method: http.MethodPost, target: "/v1/prospects", tenant: "t1", body: `{}`})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{}`, string(decodeData[model.Prospect](t, w).Payload))
}

func (e *testEnv) createProspect(t *testing.T, tenant string) model.Prospect {
	t.Helper()
	w := e.do(e.h.CreateProspect, call{method: http.MethodPost, target: "/v1/prospects", tenant: tenant, body: `{"payload":{"name":"Ada"}}`})
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeData[model.Prospect](t, w)
}

func TestCreateCommission_AmountRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	p := e.createProspect(t, "t1")

	w := e.do(e.h.CreateCommission, call{
		method: http.MethodPost,
		target: "/v1/commissions",
		tenant: "t1",
		body:   fmt.Sprintf(`{"prospect_id":%q,"agent_id":"agent-1","amount_cents":1500,"status":"pending"}`, p.ID),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeData[model.Commission](t, w)

	w = e.do(e.h.GetCommission, call{method: http.MethodGet, target: "/v1/commissions/" + created.ID, tenant: "t1", vars: map[string]string{"id": created.ID}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), `"amount_cents":1500`)
	assert.Equal(t, int64(1500), decodeData[model.Commission](t, w).AmountCents)
	assert.Equal(t, model.CommissionPending, decodeData[model.Commission](t, w).Status)
}

func TestCreateCommission_Validation(t *testing.T) {
	e := newTestEnv(t)
	p := e.createProspect(t, "t1")
	other := e.createProspect(t, "t2")

	tests := []struct {
		name string
		body string
	}{
		{"missing prospect", `{"agent_id":"a","amount_cents":1}`},
		{"missing agent", fmt.Sprintf(`{"prospect_id":%q,"amount_cents":1}`, p.ID)},
		{"missing amount", fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a"}`, p.ID)},
		{"fractional amount", fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a","amount_cents":15.5}`, p.ID)},
		{"negative amount", fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a","amount_cents":-1}`, p.ID)},
		{"amount overflow", fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a","amount_cents":99999999999999999999}`, p.ID)},
		{"unknown status", fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a","amount_cents":1,"status":"void"}`, p.ID)},
		{"prospect of another tenant", fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a","amount_cents":1}`, other.ID)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(e.h.CreateCommission, call{method: http.MethodPost, target: "/v1/commissions", tenant: "t1", body: tt.body})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestListCommissions_SortByAmount(t *testing.T) {
	e := newTestEnv(t)
	p := e.createProspect(t, "t1")
	for _, amount := range []int{300, 100, 200} {
		w := e.do(e.h.CreateCommission, call{
			method: http.MethodPost,
			target: "/v1/commissions",
			tenant: "t1",
			body:   fmt.Sprintf(`{"prospect_id":%q,"agent_id":"a","amount_cents":%d}`, p.ID, amount),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := e.do(e.h.ListCommissions, call{method: http.MethodGet, target: "/v1/commissions?sort=amount_cents:asc", tenant: "t1"})
	require.Equal(t, http.StatusOK, w.Code)

	rows := decodeData[[]model.Commission](t, w)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{rows[0].AmountCents, rows[1].AmountCents, rows[2].AmountCents})
}

func TestListAgents(t *testing.T) {
	e := newTestEnv(t)
	e.mem.AddAgent(model.Agent{ID: "a2", TenantID: "t1", Name: "Zed", Email: "zed@example.com", Roles: []string{model.AgentRole}})
	e.mem.AddAgent(model.Agent{ID: "a1", TenantID: "t1", Name: "Ada", Email: "ada@example.com", Roles: []string{model.AgentRole}})
	e.mem.AddAgent(model.Agent{ID: "a3", TenantID: "t2", Name: "Bob", Email: "bob@example.com", Roles: []string{model.AgentRole}})

	w := e.do(e.h.ListAgents, call{method: http.MethodGet, target: "/v1/agents?sort=name:asc", tenant: "t1"})
	require.Equal(t, http.StatusOK, w.Code)

	agents := decodeData[[]model.Agent](t, w)
	require.Len(t, agents, 2)
	assert.Equal(t, "Ada", agents[0].Name)
	assert.Equal(t, "Zed", agents[1].Name)
}
