package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/devrev/qrcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type denyAll struct{}

func (denyAll) Allow(string, string) bool { return false }

func newScanFixture(t *testing.T, fleet store.FleetStore, limiter ScanAllower) (*ScanService, *store.Memory) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(scanTime)
	mem := store.NewMemory()
	if fleet == nil {
		fleet = mem
	}
	attribution := NewAttributionService(fleet, 30*24*time.Hour, zap.NewNop())
	return NewScanService(mem, mem, limiter, attribution, clk, zap.NewNop()), mem
}

func TestScanService_RequiresTag(t *testing.T) {
	svc, _ := newScanFixture(t, nil, nil)

	_, err := svc.Record(context.Background(), ScanInput{TenantID: "t1"})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindValidation, apierrors.From(err).Kind)
}

func TestScanService_RateLimited(t *testing.T) {
	svc, _ := newScanFixture(t, nil, denyAll{})

	_, err := svc.Record(context.Background(), ScanInput{TenantID: "t1", QRTagID: "q1", IP: "10.0.0.1"})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindRateLimited, apierrors.From(err).Kind)
}

type recordingAllower struct {
	keys []string
}

func (a *recordingAllower) Allow(tenantID, ip string) bool {
	a.keys = append(a.keys, tenantID+"|"+ip)
	return true
}

func TestScanService_LimiterKeyedOnCaller(t *testing.T) {
	ctx := context.Background()
	limiter := &recordingAllower{}
	svc, mem := newScanFixture(t, nil, limiter)
	require.NoError(t, mem.CreateQRTag(ctx, &model.QRTag{ID: "q1", TenantID: "t1", Code: "A", Status: model.QRTagActive}))

	res, err := svc.Record(ctx, ScanInput{TenantID: "t1", QRTagID: "q1", IP: "198.51.100.4", CallerAddr: "192.0.2.1"})
	require.NoError(t, err)
	require.NotNil(t, res.Scan.IP)
	assert.Equal(t, "198.51.100.4", *res.Scan.IP)

	_, err = svc.Record(ctx, ScanInput{TenantID: "t1", QRTagID: "q1", IP: "10.0.0.9"})
	require.NoError(t, err)

	assert.Equal(t, []string{"t1|192.0.2.1", "t1|10.0.0.9"}, limiter.keys)
}

func TestScanService_UnknownOrForeignTag(t *testing.T) {
	ctx := context.Background()
	svc, mem := newScanFixture(t, nil, nil)
	require.NoError(t, mem.CreateQRTag(ctx, &model.QRTag{ID: "q1", TenantID: "t1", Code: "A", Status: model.QRTagActive}))

	_, err := svc.Record(ctx, ScanInput{TenantID: "t2", QRTagID: "q1"})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindNotFound, apierrors.From(err).Kind)
}

func TestScanService_RecordsScanWithoutVehicle(t *testing.T) {
	ctx := context.Background()
	svc, mem := newScanFixture(t, nil, nil)
	require.NoError(t, mem.CreateQRTag(ctx, &model.QRTag{ID: "q1", TenantID: "t1", Code: "PROMO-1", Status: model.QRTagActive}))

	res, err := svc.Record(ctx, ScanInput{
		TenantID:  "t1",
		QRTagID:   "q1",
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0",
		Metadata:  json.RawMessage(`{"geo":{"lat":1.5,"lng":2.5}}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "t1", res.Scan.TenantID)
	assert.Equal(t, scanTime, res.Scan.ScannedAt)
	assert.Equal(t, "203.0.113.7", *res.Scan.IP)
	assert.Equal(t, "Mozilla/5.0", *res.Scan.UserAgent)
	assert.True(t, res.Attribution.Empty())

	page := pagination.Page{Limit: 10, Field: pagination.Field{Name: "scanned_at", Type: pagination.TypeTime}, Dir: pagination.Desc}
	scans, _, err := mem.ListScans(ctx, "t1", "q1", page)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, res.Scan.ID, scans[0].ID)
}

func TestScanService_AttributesFromAssignment(t *testing.T) {
	ctx := context.Background()
	svc, mem := newScanFixture(t, nil, nil)
	require.NoError(t, mem.CreateQRTag(ctx, &model.QRTag{ID: "q1", TenantID: "t1", Code: "CAR", CarID: strPtr("car-1"), Status: model.QRTagActive}))
	mem.AddAssignment(model.DriverAssignment{TenantID: "t1", CarID: "car-1", DriverID: "d-1", AssignedAt: scanTime.Add(-time.Hour)})

	res, err := svc.Record(ctx, ScanInput{TenantID: "t1", QRTagID: "q1"})
	require.NoError(t, err)

	assert.Equal(t, "car-1", *res.Attribution.VehicleID)
	assert.Equal(t, "d-1", *res.Attribution.DriverID)
	assert.Equal(t, model.AttributionAssignment, res.Attribution.Source)
}

func TestScanService_AttributionFailureDoesNotFailScan(t *testing.T) {
	ctx := context.Background()
	fleet := new(MockFleetStore)
	fleet.On("FindAssignment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("legacy view unavailable"))

	svc, mem := newScanFixture(t, fleet, nil)
	require.NoError(t, mem.CreateQRTag(ctx, &model.QRTag{ID: "q1", TenantID: "t1", Code: "CAR", CarID: strPtr("car-1"), Status: model.QRTagActive}))

	res, err := svc.Record(ctx, ScanInput{TenantID: "t1", QRTagID: "q1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Scan.ID)
	assert.Nil(t, res.Attribution.DriverID)
}

func TestScanService_WriteSurvivesCanceledContext(t *testing.T) {
	svc, mem := newScanFixture(t, nil, nil)
	require.NoError(t, mem.CreateQRTag(context.Background(), &model.QRTag{ID: "q1", TenantID: "t1", Code: "A", Status: model.QRTagActive}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.Record(ctx, ScanInput{TenantID: "t1", QRTagID: "q1"})
	require.NoError(t, err)
	assert.NotNil(t, res.Scan)
}
