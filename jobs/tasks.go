package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueLedger carries ledger maintenance tasks.
	QueueLedger = "ledger"
	// TaskLedgerReconcile replays every stock and vendor ledger against its stored position.
	TaskLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload records who asked for a run and when.
type ReconcilePayload struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask constructs a reconcile task. A run that overlaps another
// is skipped, so the task is never retried.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data, asynq.MaxRetry(0), asynq.Queue(QueueLedger)), nil
}
