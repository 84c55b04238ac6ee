// Package jobs holds the background tasks run by cmd/worker: scheduled
// penalty accrual and the archive safety sweep.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPenaltyAccrual applies the penalty policy to unpaid debt on the
	// latest published sheets, writing adjustment rows on the in_progress
	// successors.
	TaskPenaltyAccrual = "sheet:penalty_accrual"
	// TaskArchiveSweep archives published sheets strictly older than the
	// association's latest published month.
	TaskArchiveSweep = "sheet:archive_sweep"
)

// PenaltyAccrualPayload scopes an accrual run. A zero AssociationID means
// every association.
type PenaltyAccrualPayload struct {
	AssociationID int64 `json:"association_id"`
}

// NewPenaltyAccrualTask constructs an Asynq task.
func NewPenaltyAccrualTask(payload PenaltyAccrualPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPenaltyAccrual, data), nil
}

// NewArchiveSweepTask constructs an Asynq task.
func NewArchiveSweepTask() *asynq.Task {
	return asynq.NewTask(TaskArchiveSweep, nil)
}
