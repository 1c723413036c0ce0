package worker

import (
	"sync"
	"time"

	"github.com/jobagent/orchestrator/internal/domain"
)

// fakeSession is a scripted domain.BrowserSession driven entirely by test
// cases, distinct from internal/worker/stub's production-shaped determinism.
type fakeSession struct {
	pages        []domain.PageKind
	idx          int
	fields       []string
	failClassify error // when set, Classify always fails with this error
	closed       bool
}

func (s *fakeSession) Classify(_ domain.Context) (domain.PageKind, error) {
	if s.failClassify != nil {
		return "", s.failClassify
	}
	if s.idx >= len(s.pages) {
		return domain.PageConfirmation, nil
	}
	return s.pages[s.idx], nil
}

func (s *fakeSession) Fields(_ domain.Context) ([]string, error) { return s.fields, nil }
func (s *fakeSession) Fill(_ domain.Context, _, _ string) error  { return nil }
func (s *fakeSession) Click(_ domain.Context, _ string) error {
	s.idx++
	return nil
}
func (s *fakeSession) Authenticate(_ domain.Context, _, _ string) error {
	s.idx++
	return nil
}
func (s *fakeSession) Screenshot(_ domain.Context) (string, error) { return "https://shots.test/1.png", nil }
func (s *fakeSession) ExtractConfirmation(_ domain.Context) (string, error) {
	return "conf-123", nil
}
func (s *fakeSession) Close(_ domain.Context) error {
	s.closed = true
	return nil
}

var _ domain.BrowserSession = (*fakeSession)(nil)

type fakeWorkerQueue struct {
	mu        sync.Mutex
	published []publishedWorkerTask
	results   [][]byte
}

type publishedWorkerTask struct {
	Queue   domain.QueueName
	Payload domain.TaskPayload
}

func (q *fakeWorkerQueue) Publish(_ domain.Context, queueType domain.QueueName, payload domain.TaskPayload, _ int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedWorkerTask{Queue: queueType, Payload: payload})
	return "task-1", nil
}
func (q *fakeWorkerQueue) Consume(_ domain.Context, _ domain.QueueName, _ time.Duration) (*domain.QueueTask, error) {
	return nil, nil
}
func (q *fakeWorkerQueue) PublishResult(_ domain.Context, _ string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, payload)
	return nil
}
func (q *fakeWorkerQueue) PublishChannel(_ domain.Context, _ string, _ []byte) error { return nil }
func (q *fakeWorkerQueue) Heartbeat(_ domain.Context, _ string, _ []byte) error     { return nil }
func (q *fakeWorkerQueue) Stat(_ domain.Context, _ domain.QueueName) (int64, error) { return 0, nil }
func (q *fakeWorkerQueue) LastHeartbeat(_ domain.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

var _ domain.Queue = (*fakeWorkerQueue)(nil)
