package jobqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSyncCatalog           JobType = "sync_catalog"
	JobTypeReconcileSubscription JobType = "reconcile_subscription"
	JobTypeRecordPayment         JobType = "record_payment"
	JobTypeSyncUser              JobType = "sync_user"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// JobTypeForAction maps a webhook action to the job that executes it.
func JobTypeForAction(kind billing.ActionKind) (JobType, error) {
	switch kind {
	case billing.ActionSyncCatalog:
		return JobTypeSyncCatalog, nil
	case billing.ActionReconcile:
		return JobTypeReconcileSubscription, nil
	case billing.ActionRecordPayment:
		return JobTypeRecordPayment, nil
	default:
		return "", fmt.Errorf("no job for action %q", kind)
	}
}

// ActionJobPayload carries a webhook-derived action and the stored event it
// came from. WebhookEventID is 0 for actions not triggered by a webhook, such
// as the periodic catalog refresh.
type ActionJobPayload struct {
	WebhookEventID uint                `json:"webhook_event_id"`
	Action         billing.EventAction `json:"action"`
}

// ToMap converts the payload to a map for storage
func (p ActionJobPayload) ToMap() map[string]interface{} {
	m, _ := toMap(p)
	return m
}

// ActionJobPayloadFromMap creates a payload from a map
func ActionJobPayloadFromMap(data map[string]interface{}) (*ActionJobPayload, error) {
	var payload ActionJobPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SyncUserJobPayload asks for a full subscription sweep of one user.
type SyncUserJobPayload struct {
	UserID uint `json:"user_id"`
}

func (p SyncUserJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
	}
}

func SyncUserJobPayloadFromMap(data map[string]interface{}) (*SyncUserJobPayload, error) {
	var payload SyncUserJobPayload
	if err := fromMap(data, &payload); err != nil {
		return nil, err
	}
	if payload.UserID == 0 {
		return nil, fmt.Errorf("user_id is required")
	}
	return &payload, nil
}

func toMap(v any) (map[string]interface{}, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	err = json.Unmarshal(jsonData, &out)
	return out, err
}

func fromMap(data map[string]interface{}, v any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, v)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
