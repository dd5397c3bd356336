package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MemberVault/internal/pkg/billing"
)

// TestBasicJobTypes tests the job type constants
func TestBasicJobTypes(t *testing.T) {
	assert.Equal(t, "sync_catalog", string(JobTypeSyncCatalog))
	assert.Equal(t, "reconcile_subscription", string(JobTypeReconcileSubscription))
	assert.Equal(t, "record_payment", string(JobTypeRecordPayment))
	assert.Equal(t, "sync_user", string(JobTypeSyncUser))
}

// TestBasicJobStatus tests the basic job status constants
func TestBasicJobStatus(t *testing.T) {
	assert.Equal(t, "pending", string(JobStatusPending))
	assert.Equal(t, "processing", string(JobStatusProcessing))
	assert.Equal(t, "completed", string(JobStatusCompleted))
	assert.Equal(t, "failed", string(JobStatusFailed))
	assert.Equal(t, "retrying", string(JobStatusRetrying))
}

// TestJob_BasicMethods tests basic job methods
func TestJob_BasicMethods(t *testing.T) {
	job := &Job{
		Status:     JobStatusFailed,
		RetryCount: 1,
		MaxRetries: 3,
	}

	assert.True(t, job.IsRetryable())

	job.RetryCount = 3
	assert.False(t, job.IsRetryable())

	beforeTime := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(beforeTime))

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)

	job.MarkAsFailed("test error")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "test error", job.ErrorMsg)
	assert.Equal(t, 4, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
}

func TestJobTypeForAction(t *testing.T) {
	tests := []struct {
		kind    billing.ActionKind
		want    JobType
		wantErr bool
	}{
		{billing.ActionSyncCatalog, JobTypeSyncCatalog, false},
		{billing.ActionReconcile, JobTypeReconcileSubscription, false},
		{billing.ActionRecordPayment, JobTypeRecordPayment, false},
		{billing.ActionNone, "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := JobTypeForAction(tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The payload must survive the Redis round trip, where numbers come back as
// float64 inside the generic map.
func TestActionJobPayloadSurvivesJobEncoding(t *testing.T) {
	payload := ActionJobPayload{
		WebhookEventID: 12,
		Action: billing.EventAction{
			Kind:       billing.ActionRecordPayment,
			EventID:    "evt_1",
			CustomerID: "cus_1",
			Payment: &billing.PaymentInput{
				PaymentIntentID: "pi_1",
				CustomerID:      "cus_1",
				Amount:          1999,
				Currency:        "usd",
				Status:          "succeeded",
			},
		},
	}
	job := Job{ID: "j1", Type: JobTypeRecordPayment, Payload: payload.ToMap()}

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var decoded Job
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, err := ActionJobPayloadFromMap(decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, payload, *got)
}

func TestSyncUserJobPayload(t *testing.T) {
	got, err := SyncUserJobPayloadFromMap(SyncUserJobPayload{UserID: 5}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, uint(5), got.UserID)

	_, err = SyncUserJobPayloadFromMap(map[string]interface{}{})
	assert.Error(t, err)

	_, err = SyncUserJobPayloadFromMap(map[string]interface{}{"invalid": make(chan int)})
	assert.Error(t, err)
}

// TestBasicConstants tests package constants
func TestBasicConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)
	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}
