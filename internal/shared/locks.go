package shared

// ReconcileLockKey is the redis key guarding ledger reconciliation runs.
const ReconcileLockKey = "reconcile:ledger"
