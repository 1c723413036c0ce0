package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobagent/orchestrator/internal/crypto"
	"github.com/jobagent/orchestrator/internal/domain"
)

func newTestMaintenance(t *testing.T) (*Maintenance, *fakeApplications, *fakeQueue) {
	t.Helper()
	var key [32]byte
	cipher, err := crypto.NewCredentialCipher(key)
	require.NoError(t, err)

	apps := newFakeApplications()
	q := newFakeQueue()
	roles := newFakeRoles()
	profiles := newFakeProfiles()
	creds := newFakeCredentials()
	roles.roles[42] = &domain.Role{ID: 42, Title: "Staff Engineer", CompanyName: "Acme", PostingURL: "https://jobs.acme.test/42"}
	profiles.profiles[1] = &domain.Profile{ID: 1}
	profiles.prefs[1] = map[string]string{}

	intake := NewIntake(apps, roles, profiles, creds, q, cipher)
	m := NewMaintenance(apps, q, intake, 10*time.Minute, time.Minute, 3)
	return m, apps, q
}

func stuckApp(apps *fakeApplications, id, profileID, roleID int64, attempts int) *domain.Application {
	taskID := "stale-task"
	a := &domain.Application{
		ID: id, ProfileID: profileID, RoleID: roleID,
		Status: domain.StatusSubmitting, Attempts: attempts,
		QueueTaskID: &taskID,
		UpdatedAt:   time.Now().Add(-20 * time.Minute),
	}
	apps.apps[id] = a
	return a
}

func TestMaintenance_SweepOnce_SkipsRecoveryWhenHeartbeatAlive(t *testing.T) {
	m, apps, q := newTestMaintenance(t)
	stuckApp(apps, 7, 1, 42, 1)
	require.NoError(t, q.Heartbeat(context.Background(), "automation", []byte("ok")))

	m.sweepOnce(context.Background())

	stored, err := apps.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitting, stored.Status, "a live heartbeat must leave stuck applications untouched")
}

func TestMaintenance_SweepOnce_RecoversAndRepublishesWhenHeartbeatDead(t *testing.T) {
	m, apps, q := newTestMaintenance(t)
	stuckApp(apps, 7, 1, 42, 1)

	m.sweepOnce(context.Background())

	stored, err := apps.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitting, stored.Status, "successful recovery republishes and ends up back in submitting")
	assert.Equal(t, 2, stored.Attempts)
	assert.Len(t, q.published, 1)
	assert.Equal(t, domain.QueueJobApplication, q.published[0].Queue)
}

func TestMaintenance_SweepOnce_StopsRetryingWhenAttemptBudgetExhausted(t *testing.T) {
	m, apps, q := newTestMaintenance(t)
	stuckApp(apps, 7, 1, 42, 3)

	m.sweepOnce(context.Background())

	stored, err := apps.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stored.Status, "worker_lost with exhausted attempt budget must not retry")
	assert.Empty(t, q.published)
}

func TestMaintenance_SweepOnce_NoStuckApplicationsIsNoop(t *testing.T) {
	m, _, q := newTestMaintenance(t)
	m.sweepOnce(context.Background())
	assert.Empty(t, q.published)
}
