package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobagent/orchestrator/internal/domain"
)

func submittingApp(apps *fakeApplications, id, profileID, roleID int64) *domain.Application {
	a := &domain.Application{ID: id, ProfileID: profileID, RoleID: roleID, Status: domain.StatusSubmitting, UpdatedAt: time.Now()}
	apps.apps[id] = a
	return a
}

func TestDrain_HandleUpdateJobStatus_AppliedSetsSubmittedAtAndClearsTaskID(t *testing.T) {
	apps := newFakeApplications()
	q := newFakeQueue()
	taskID := "t1"
	a := submittingApp(apps, 7, 1, 42)
	a.QueueTaskID = &taskID

	d := NewDrain(apps, q, time.Second)
	payload := domain.NewUpdateJobStatusTask(domain.UpdateJobStatusPayload{JobID: "7", ApplicationID: 7, Status: "applied"})

	err := d.handleUpdateJobStatus(context.Background(), payload)
	require.NoError(t, err)

	stored, err := apps.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	assert.NotNil(t, stored.SubmittedAt)
	assert.Nil(t, stored.QueueTaskID)

	assert.Len(t, q.published, 1)
	assert.Equal(t, domain.QueueSendNotification, q.published[0].Queue)
}

func TestDrain_HandleUpdateJobStatus_IgnoresRedeliveryAfterTerminalTransition(t *testing.T) {
	apps := newFakeApplications()
	q := newFakeQueue()
	submittingApp(apps, 7, 1, 42)

	d := NewDrain(apps, q, time.Second)
	payload := domain.NewUpdateJobStatusTask(domain.UpdateJobStatusPayload{JobID: "7", ApplicationID: 7, Status: "applied"})

	require.NoError(t, d.handleUpdateJobStatus(context.Background(), payload))
	require.NoError(t, d.handleUpdateJobStatus(context.Background(), payload))

	stored, err := apps.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
	assert.Len(t, q.published, 1, "a redelivered update_job_status must not re-apply the transition or double-notify")
}

func TestDrain_HandleUpdateJobStatus_UnknownApplicationIsDroppedNotErrored(t *testing.T) {
	apps := newFakeApplications()
	q := newFakeQueue()
	d := NewDrain(apps, q, time.Second)

	payload := domain.NewUpdateJobStatusTask(domain.UpdateJobStatusPayload{JobID: "999", ApplicationID: 999, Status: "applied"})
	err := d.handleUpdateJobStatus(context.Background(), payload)
	assert.NoError(t, err)
}

func TestDrain_HandleApprovalRequest_RecordsContextOnSubmitting(t *testing.T) {
	apps := newFakeApplications()
	q := newFakeQueue()
	submittingApp(apps, 7, 1, 42)

	d := NewDrain(apps, q, time.Second)
	payload := domain.NewApprovalRequestTask(domain.ApprovalRequestPayload{
		JobID:         "7",
		ApplicationID: 7,
		Question:      "Expected salary?",
		CurrentState:  "opaque-blob",
	})

	require.NoError(t, d.handleApprovalRequest(context.Background(), payload))

	stored, err := apps.Get(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, stored.ApprovalContext)
	assert.Equal(t, "Expected salary?", stored.ApprovalContext.Question)
}
