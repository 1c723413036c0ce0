package hitl

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobagent/orchestrator/internal/domain"
)

const testSecret = "test-signing-secret"

func signedRequest(t *testing.T, from, body string) *http.Request {
	t.Helper()
	form := url.Values{}
	form.Set("From", from)
	form.Set("Body", body)
	raw := []byte(form.Encode())

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(raw)
	sig := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, "/webhooks/sms", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set(signatureHeader, sig)
	return req
}

func newTestController() (*Controller, *fakeApplications, *fakeRoles, *fakeProfiles, *fakeQueue, *fakeTrigger) {
	apps := newFakeApplications()
	roles := newFakeRoles()
	profiles := newFakeProfiles()
	q := newFakeQueue()
	trigger := &fakeTrigger{}
	c := NewController(apps, roles, profiles, q, trigger, testSecret)
	return c, apps, roles, profiles, q, trigger
}

func TestController_Process_RejectsBadSignature(t *testing.T) {
	c, _, _, _, _, _ := newTestController()
	req := signedRequest(t, "+15551234567", "help")
	req.Header.Set(signatureHeader, "deadbeef")

	err := c.Process(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSecurity)
}

func TestController_Process_URLIntentCreatesRoleAndReplies(t *testing.T) {
	c, _, roles, _, q, _ := newTestController()
	req := signedRequest(t, "+15551234567", "https://jobs.acme.test/staff-engineer")

	err := c.Process(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, roles.roles, 1)
	var role *domain.Role
	for _, r := range roles.roles {
		role = r
	}
	assert.Equal(t, "jobs.acme.test", role.CompanyName)
	assert.Equal(t, "staff engineer", role.Title)
	assert.Equal(t, domain.RoleSourced, role.Status)

	require.Len(t, q.published, 1)
	assert.Equal(t, domain.QueueSendNotification, q.published[0].Queue)
}

func TestController_Process_HelpCommandReplies(t *testing.T) {
	c, _, _, _, q, _ := newTestController()
	req := signedRequest(t, "+15551234567", "  HELP  ")

	err := c.Process(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, q.published, 1)
	assert.Contains(t, q.published[0].Payload.SendNotification.Body, "Commands:")
}

func TestController_Process_StatusCommandSummarizesCounts(t *testing.T) {
	c, apps, _, _, q, _ := newTestController()
	apps.apps[1] = &domain.Application{ID: 1, ProfileID: singletonProfileID, Status: domain.StatusSubmitted}
	apps.apps[2] = &domain.Application{ID: 2, ProfileID: singletonProfileID, Status: domain.StatusWaitingApproval}
	apps.apps[3] = &domain.Application{ID: 3, ProfileID: singletonProfileID, Status: domain.StatusError}

	req := signedRequest(t, "+15551234567", "status")
	err := c.Process(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, q.published, 1)
	body := q.published[0].Payload.SendNotification.Body
	assert.Contains(t, body, "3 applications total")
}

func TestController_Process_StopThenStartPersistsPreference(t *testing.T) {
	c, _, _, profiles, _, _ := newTestController()

	req := signedRequest(t, "+15551234567", "stop")
	require.NoError(t, c.Process(context.Background(), req))
	prefs, err := profiles.GetPreferences(context.Background(), singletonProfileID)
	require.NoError(t, err)
	assert.Equal(t, "true", prefs["automation_paused"])

	req = signedRequest(t, "+15551234567", "start")
	require.NoError(t, c.Process(context.Background(), req))
	prefs, err = profiles.GetPreferences(context.Background(), singletonProfileID)
	require.NoError(t, err)
	assert.Equal(t, "false", prefs["automation_paused"])
}

func TestController_Process_FreeTextWithOpenApprovalMergesAndTriggers(t *testing.T) {
	c, apps, _, _, q, trigger := newTestController()
	apps.apps[7] = &domain.Application{
		ID: 7, ProfileID: singletonProfileID, RoleID: 42,
		Status:          domain.StatusWaitingApproval,
		ApprovalContext: &domain.ApprovalContext{Question: "Expected salary?", StateBlob: "blob-7"},
		UpdatedAt:       time.Now(),
	}

	req := signedRequest(t, "+15551234567", "120k")
	err := c.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "120k", apps.apps[7].CustomAnswers["Expected salary?"])
	assert.Equal(t, domain.StatusSubmitting, apps.apps[7].Status)
	assert.Nil(t, apps.apps[7].QueueTaskID)

	require.Len(t, trigger.calls, 1)
	assert.Equal(t, int64(42), trigger.calls[0].RoleID)

	require.Len(t, q.published, 1)
	assert.Contains(t, q.published[0].Payload.SendNotification.Body, "#7")
}

func TestController_Process_FreeTextSanitizesHTML(t *testing.T) {
	c, apps, _, _, _, _ := newTestController()
	apps.apps[9] = &domain.Application{
		ID: 9, ProfileID: singletonProfileID, RoleID: 1,
		Status:          domain.StatusWaitingApproval,
		ApprovalContext: &domain.ApprovalContext{Question: "Why this role?"},
		UpdatedAt:       time.Now(),
	}

	req := signedRequest(t, "+15551234567", "<script>alert(1)</script>Because growth")
	err := c.Process(context.Background(), req)
	require.NoError(t, err)

	assert.NotContains(t, apps.apps[9].CustomAnswers["Why this role?"], "<script>")
	assert.Contains(t, apps.apps[9].CustomAnswers["Why this role?"], "Because growth")
}

func TestController_Process_FreeTextWithNoOpenApprovalRepliesUnmatched(t *testing.T) {
	c, _, _, _, q, trigger := newTestController()

	req := signedRequest(t, "+15551234567", "sure thing")
	err := c.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, trigger.calls)
	require.Len(t, q.published, 1)
	assert.Contains(t, q.published[0].Payload.SendNotification.Body, "don't have an open question")
}
