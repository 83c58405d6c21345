package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hospital-backoffice/backoffice/internal/jobs"
	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/cache"
	"github.com/hospital-backoffice/backoffice/internal/shared"
	"github.com/hospital-backoffice/backoffice/internal/vendors"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StockVerifier replays item stock against the movement ledger.
type StockVerifier interface {
	VerifyAll(ctx context.Context) ([]inventory.Discrepancy, error)
}

// VendorVerifier replays vendor balances against their statements.
type VendorVerifier interface {
	VerifyAll(ctx context.Context) ([]vendors.Discrepancy, error)
}

// Locker serialises runs across worker processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ReconcileReport summarises one run.
type ReconcileReport struct {
	Stock    []inventory.Discrepancy `json:"stock"`
	Vendors  []vendors.Discrepancy   `json:"vendors"`
	Duration time.Duration           `json:"duration"`
}

// Clean reports whether every ledger matched its stored position.
func (r ReconcileReport) Clean() bool {
	return len(r.Stock) == 0 && len(r.Vendors) == 0
}

// ReconcileJob checks ledgers and reports drift. It never repairs.
type ReconcileJob struct {
	Stock   StockVerifier
	Vendors VendorVerifier
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler. locker may be nil when a
// single process runs the job.
func NewReconcileJob(stock StockVerifier, vendorLedger VendorVerifier, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Stock: stock, Vendors: vendorLedger, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle executes a queued run. A run skipped because another holds the lock
// succeeds.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, cache.ErrLocked) {
		j.logger().Info("reconcile already running, skipped")
		j.metrics().Skipped(TaskLedgerReconcile)
		return nil
	}
	return err
}

// Run performs one reconciliation under the ledger lock.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (ReconcileReport, error) {
	var report ReconcileReport
	if j.Stock == nil || j.Vendors == nil {
		return report, errors.New("reconcile: verifiers not configured")
	}
	run := func(ctx context.Context) error {
		var err error
		report, err = j.reconcile(ctx, payload)
		return err
	}
	if j.Locker == nil {
		return report, run(ctx)
	}
	return report, j.Locker.WithLock(ctx, shared.ReconcileLockKey, run)
}

func (j *ReconcileJob) reconcile(ctx context.Context, payload ReconcilePayload) (report ReconcileReport, resultErr error) {
	start := time.Now()
	tracker := j.metrics().Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("requested_by", payload.RequestedBy))
	logger.Info("starting reconcile")

	stock, err := j.Stock.VerifyAll(ctx)
	if err != nil {
		logger.Error("stock verify failed", slog.Any("error", err))
		return report, err
	}
	for _, d := range stock {
		logger.Warn("stock drift detected",
			slog.String("kind", string(d.Item.Kind)),
			slog.Int64("item_id", d.Item.ID),
			slog.String("name", d.Name),
			slog.Int64("stock", d.Stock),
			slog.Int64("ledger_sum", d.LedgerSum),
		)
	}
	j.metrics().AddDiscrepancies("inventory", len(stock))

	vendorDrift, err := j.Vendors.VerifyAll(ctx)
	if err != nil {
		logger.Error("vendor verify failed", slog.Any("error", err))
		return report, err
	}
	for _, d := range vendorDrift {
		logger.Warn("vendor balance drift detected",
			slog.Int64("vendor_id", d.VendorID),
			slog.String("name", d.Name),
			slog.String("stored", d.Stored.Balance.StringFixed(2)+" "+string(d.Stored.Type)),
			slog.String("replayed", d.Replayed.Balance.StringFixed(2)+" "+string(d.Replayed.Type)),
		)
	}
	j.metrics().AddDiscrepancies("vendors", len(vendorDrift))

	report = ReconcileReport{Stock: stock, Vendors: vendorDrift, Duration: time.Since(start)}
	logger.Info("completed reconcile",
		slog.Int("stock_discrepancies", len(stock)),
		slog.Int("vendor_discrepancies", len(vendorDrift)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
