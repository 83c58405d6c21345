package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/hospital-backoffice/backoffice/internal/jobs"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/cache"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
	"github.com/hospital-backoffice/backoffice/jobs"
)

type fixture struct {
	store    *memory.Store
	stock    *inventory.Service
	vendors  *vendors.Service
	registry *prometheus.Registry
	redis    *miniredis.Miniredis
	logs     *bytes.Buffer
	job      *jobs.ReconcileJob
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := shared.SlogAudit{Logger: quiet}
	stock := inventory.NewService(store.Inventory(), audit, quiet)
	vendorLedger := vendors.NewService(store.Vendors(), audit, quiet)

	registry := prometheus.NewRegistry()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	job := jobs.NewReconcileJob(stock, vendorLedger, cache.NewLocker(rdb, time.Minute), logger, jobmetrics.NewMetrics(registry))
	return fixture{store: store, stock: stock, vendors: vendorLedger, registry: registry, redis: mr, logs: logs, job: job}
}

func (f fixture) seed(t *testing.T) (inventory.Item, vendors.Vendor) {
	t.Helper()
	ctx := context.Background()
	item, err := f.stock.CreateItem(ctx, inventory.NewItemInput{
		Kind:          inventory.KindFrame,
		Name:          "Titan Round",
		PurchasePrice: decimal.NewFromInt(100),
		SellingPrice:  decimal.NewFromInt(250),
		OpeningStock:  5,
	})
	require.NoError(t, err)
	vendor, err := f.vendors.Create(ctx, vendors.NewVendorInput{Name: "Lensa Prima"})
	require.NoError(t, err)
	_, err = f.vendors.AddPurchaseDue(ctx, vendors.PostingInput{
		VendorID: vendor.ID,
		Amount:   decimal.NewFromInt(400),
		Source:   shared.SourceRef{Type: shared.SourceManual, ID: 1},
	})
	require.NoError(t, err)
	return item, vendor
}

func reconcileTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := jobs.NewReconcileTask(jobs.ReconcilePayload{RequestedBy: "test"})
	require.NoError(t, err)
	return task
}

func TestReconcileCleanLedgers(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	report, err := f.job.Run(context.Background(), jobs.ReconcilePayload{RequestedBy: "test"})
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.NotContains(t, f.logs.String(), "drift detected")
	series, err := testutil.GatherAndCount(f.registry, "backoffice_ledger_discrepancies_total")
	require.NoError(t, err)
	assert.Zero(t, series)
}

func TestReconcileReportsDriftWithoutRepair(t *testing.T) {
	f := newFixture(t)
	item, vendor := f.seed(t)
	ctx := context.Background()

	_, err := f.store.Inventory().ApplyStockDelta(ctx, item.Ref, 3, nil)
	require.NoError(t, err)
	drifted := vendors.Position{Balance: decimal.NewFromInt(50), Type: vendors.BalanceDue}
	require.NoError(t, f.store.Vendors().SetPosition(ctx, vendor.ID, drifted))

	require.NoError(t, f.job.Handle(ctx, reconcileTask(t)))

	logs := f.logs.String()
	assert.Contains(t, logs, "stock drift detected")
	assert.Contains(t, logs, "vendor balance drift detected")

	expected := `
# HELP backoffice_ledger_discrepancies_total Positions found out of step with their ledger history, by ledger.
# TYPE backoffice_ledger_discrepancies_total counter
backoffice_ledger_discrepancies_total{ledger="inventory"} 1
backoffice_ledger_discrepancies_total{ledger="vendors"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "backoffice_ledger_discrepancies_total"))

	// Reporting only: stored positions are untouched.
	resolved, err := f.stock.Resolve(ctx, item.Ref)
	require.NoError(t, err)
	assert.Equal(t, int64(8), resolved.Stock)
	v, err := f.vendors.Get(ctx, vendor.ID)
	require.NoError(t, err)
	assert.True(t, v.Position.Balance.Equal(decimal.NewFromInt(50)))
}

func TestReconcileSkipsWhileLocked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.redis.Set(shared.ReconcileLockKey, "other-worker"))

	_, err := f.job.Run(context.Background(), jobs.ReconcilePayload{})
	require.ErrorIs(t, err, cache.ErrLocked)

	require.NoError(t, f.job.Handle(context.Background(), reconcileTask(t)))
	assert.Contains(t, f.logs.String(), "reconcile already running")
}

func TestReconcileRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	err := f.job.Handle(context.Background(), asynq.NewTask(jobs.TaskLedgerReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewReconcileTaskStampsRequestTime(t *testing.T) {
	task := reconcileTask(t)
	assert.Equal(t, jobs.TaskLedgerReconcile, task.Type())

	var payload jobs.ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "test", payload.RequestedBy)
	assert.False(t, payload.RequestedAt.IsZero())
}
