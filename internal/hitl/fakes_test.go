package hitl

import (
	"sync"
	"time"

	"github.com/jobagent/orchestrator/internal/domain"
)

type fakeQueue struct {
	mu        sync.Mutex
	published []publishedTask
	inbox     map[domain.QueueName][]*domain.QueueTask
	nextID    int
}

type publishedTask struct {
	Queue   domain.QueueName
	Payload domain.TaskPayload
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{inbox: map[domain.QueueName][]*domain.QueueTask{}}
}

func (q *fakeQueue) Publish(_ domain.Context, queueType domain.QueueName, payload domain.TaskPayload, _ int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := "notif-" + string(rune('0'+q.nextID))
	q.published = append(q.published, publishedTask{Queue: queueType, Payload: payload})
	q.inbox[queueType] = append(q.inbox[queueType], &domain.QueueTask{ID: id, Type: queueType, Payload: payload})
	return id, nil
}
func (q *fakeQueue) Consume(_ domain.Context, queueType domain.QueueName, _ time.Duration) (*domain.QueueTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.inbox[queueType]
	if len(tasks) == 0 {
		return nil, nil
	}
	t := tasks[0]
	q.inbox[queueType] = tasks[1:]
	return t, nil
}
func (q *fakeQueue) PublishResult(_ domain.Context, _ string, _ []byte) error  { return nil }
func (q *fakeQueue) PublishChannel(_ domain.Context, _ string, _ []byte) error { return nil }
func (q *fakeQueue) Heartbeat(_ domain.Context, _ string, _ []byte) error      { return nil }
func (q *fakeQueue) Stat(_ domain.Context, queueType domain.QueueName) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.inbox[queueType])), nil
}
func (q *fakeQueue) LastHeartbeat(_ domain.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

var _ domain.Queue = (*fakeQueue)(nil)

type fakeApplications struct {
	mu   sync.Mutex
	apps map[int64]*domain.Application
	next int64
}

func newFakeApplications() *fakeApplications {
	return &fakeApplications{apps: map[int64]*domain.Application{}}
}

func (f *fakeApplications) GetActiveByRole(_ domain.Context, profileID, roleID int64) (*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.apps {
		if a.ProfileID == profileID && a.RoleID == roleID && !a.Status.IsTerminal() {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeApplications) Create(_ domain.Context, a *domain.Application) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	a.ID = f.next
	cp := *a
	f.apps[a.ID] = &cp
	return a.ID, nil
}

func (f *fakeApplications) Get(_ domain.Context, id int64) (*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeApplications) List(_ domain.Context, status domain.ApplicationStatus) ([]*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Application
	for _, a := range f.apps {
		if status == "" || a.Status == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeApplications) ApplyTransition(_ domain.Context, id int64, event domain.Event, mutate func(*domain.Application) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return domain.ErrNotFound
	}
	next, err := domain.Transition(a.Status, event)
	if err != nil {
		return err
	}
	a.Status = next
	if mutate != nil {
		if err := mutate(a); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeApplications) ListStuckSubmitting(_ domain.Context, olderThan time.Time) ([]*domain.Application, error) {
	return nil, nil
}

func (f *fakeApplications) OldestWaitingApproval(_ domain.Context, profileID int64) (*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *domain.Application
	for _, a := range f.apps {
		if a.ProfileID == profileID && a.Status == domain.StatusWaitingApproval {
			if oldest == nil || a.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = a
			}
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (f *fakeApplications) SetApprovalContext(_ domain.Context, id int64, approvalCtx *domain.ApprovalContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.ApprovalContext = approvalCtx
	return nil
}

var _ domain.ApplicationRepository = (*fakeApplications)(nil)

type fakeRoles struct {
	mu    sync.Mutex
	roles map[int64]*domain.Role
	next  int64
}

func newFakeRoles() *fakeRoles { return &fakeRoles{roles: map[int64]*domain.Role{}} }

func (f *fakeRoles) UpsertByHash(_ domain.Context, r *domain.Role) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.roles {
		if existing.CompanyName == r.CompanyName && existing.Title == r.Title {
			return existing, nil
		}
	}
	f.next++
	r.ID = f.next
	f.roles[r.ID] = r
	return r, nil
}
func (f *fakeRoles) Get(_ domain.Context, id int64) (*domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}
func (f *fakeRoles) UpdateStatus(_ domain.Context, id int64, status domain.RoleStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[id]; ok {
		r.Status = status
	}
	return nil
}

var _ domain.RoleRepository = (*fakeRoles)(nil)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[int64]*domain.Profile
	prefs    map[int64]map[string]string
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[int64]*domain.Profile{}, prefs: map[int64]map[string]string{}}
}
func (f *fakeProfiles) Create(_ domain.Context, p *domain.Profile) (int64, error) {
	f.profiles[p.ID] = p
	return p.ID, nil
}
func (f *fakeProfiles) Get(_ domain.Context, id int64) (*domain.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}
func (f *fakeProfiles) Update(_ domain.Context, p *domain.Profile) error {
	f.profiles[p.ID] = p
	return nil
}
func (f *fakeProfiles) UpsertPreferences(_ domain.Context, profileID int64, prefs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefs[profileID] == nil {
		f.prefs[profileID] = map[string]string{}
	}
	for k, v := range prefs {
		f.prefs[profileID][k] = v
	}
	return nil
}
func (f *fakeProfiles) GetPreferences(_ domain.Context, profileID int64) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[profileID], nil
}

var _ domain.ProfileRepository = (*fakeProfiles)(nil)

// fakeTrigger records Trigger calls, shaped like dispatcher.Intake.Trigger.
type fakeTrigger struct {
	mu      sync.Mutex
	calls   []triggerCall
	err     error
	returns *domain.Application
}

type triggerCall struct {
	ProfileID int64
	RoleID    int64
}

func (t *fakeTrigger) Trigger(_ domain.Context, profileID, roleID int64) (*domain.Application, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, triggerCall{ProfileID: profileID, RoleID: roleID})
	if t.err != nil {
		return nil, t.err
	}
	return t.returns, nil
}

var _ ApplicationTrigger = (*fakeTrigger)(nil)

type fakeSMSGateway struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

type sentSMS struct {
	To   string
	Body string
}

func (g *fakeSMSGateway) Send(_ domain.Context, toPhone, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, sentSMS{To: toPhone, Body: body})
	return nil
}

var _ domain.SMSGateway = (*fakeSMSGateway)(nil)
