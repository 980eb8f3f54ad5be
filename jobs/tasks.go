package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconScan recomputes purchase-order statuses from receipts and
	// reports drift.
	TaskReconScan = "procurement:recon_scan"
	// TaskSerialWatch inspects the active serial book's remaining capacity.
	TaskSerialWatch = "sequence:serial_watch"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconScanPayload tunes the reconciliation sweep.
type ReconScanPayload struct {
	// Concurrency bounds parallel order verification. Zero means default.
	Concurrency int `json:"concurrency"`
}

// NewReconScanTask constructs an Asynq task for the reconciliation sweep.
func NewReconScanTask(payload ReconScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconScan, data), nil
}

// SerialWatchPayload tunes the depletion watch.
type SerialWatchPayload struct {
	// WarnRemaining triggers a warning once the active book holds this
	// many serials or fewer. Zero means default.
	WarnRemaining int64 `json:"warn_remaining"`
}

// NewSerialWatchTask constructs an Asynq task for the serial book watch.
func NewSerialWatchTask(payload SerialWatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSerialWatch, data), nil
}

// CleanupPayload tunes the idempotency-key retention sweep.
type CleanupPayload struct {
	// RetentionHours keeps keys younger than this. Zero means default.
	RetentionHours int `json:"retention_hours"`
}

// NewCleanupTask constructs an Asynq task for idempotency cleanup.
func NewCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
