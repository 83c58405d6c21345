package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/hospital-backoffice/backoffice/internal/jobs"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/store/memory"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
	"github.com/hospital-backoffice/backoffice/jobs"
)

func memoryJob(t *testing.T) (*memory.Store, *inventory.Service, *jobs.ReconcileJob) {
	t.Helper()
	store := memory.New()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := shared.SlogAudit{Logger: quiet}
	stock := inventory.NewService(store.Inventory(), audit, quiet)
	vendorSvc := vendors.NewService(store.Vendors(), audit, quiet)
	job := jobs.NewReconcileJob(stock, vendorSvc, nil, quiet, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	return store, stock, job
}

func TestRunReconcileCleanExitsZero(t *testing.T) {
	_, _, job := memoryJob(t)
	var out bytes.Buffer
	require.NoError(t, runReconcile(context.Background(), job, &out))
	assert.Equal(t, "stock drift: 0\nvendor drift: 0\n", out.String())
}

func TestRunReconcileDriftExitsNonZero(t *testing.T) {
	store, stock, job := memoryJob(t)
	ctx := context.Background()
	item, err := stock.CreateItem(ctx, inventory.NewItemInput{
		Kind:          inventory.KindLens,
		Name:          "Blue Cut 1.56",
		PurchasePrice: decimal.NewFromInt(80),
		SellingPrice:  decimal.NewFromInt(150),
		OpeningStock:  4,
	})
	require.NoError(t, err)
	_, err = store.Inventory().ApplyStockDelta(ctx, item.Ref, -1, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	err = runReconcile(ctx, job, &out)
	require.ErrorIs(t, err, ErrDriftFound)
	assert.Contains(t, out.String(), "stock drift: 1")
	assert.Contains(t, out.String(), `"Blue Cut 1.56" stock=3 ledger=4`)
}

type failingReconciler struct{}

func (failingReconciler) Run(context.Context, jobs.ReconcilePayload) (jobs.ReconcileReport, error) {
	return jobs.ReconcileReport{}, errors.New("store offline")
}

func TestRunReconcilePropagatesErrors(t *testing.T) {
	var out bytes.Buffer
	err := runReconcile(context.Background(), failingReconciler{}, &out)
	assert.EqualError(t, err, "store offline")
	assert.Empty(t, out.String())
}

func TestJobsTriggerRequiresClient(t *testing.T) {
	c := &JobsCLI{}
	_, err := c.Trigger(context.Background(), "reconcile")
	assert.ErrorContains(t, err, "client not configured")
}
