package broker

import (
	"encoding/json"
	"fmt"

	"github.com/jobagent/orchestrator/internal/domain"
)

// wireTask is the on-the-wire shape of a domain.QueueTask, stored as one
// sorted-set member so a single ZPOPMAX yields everything Consume needs.
type wireTask struct {
	ID        string              `json:"id"`
	Type      domain.QueueName    `json:"type"`
	Payload   domain.TaskPayload  `json:"payload"`
	Retries   int                 `json:"retries"`
	CreatedAt int64               `json:"created_at"`
	Priority  int                 `json:"priority"`
}

func marshalTask(t domain.QueueTask) (string, error) {
	w := wireTask{
		ID:        t.ID,
		Type:      t.Type,
		Payload:   t.Payload,
		Retries:   t.Retries,
		CreatedAt: t.CreatedAt,
		Priority:  t.Priority,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	return string(data), nil
}

func unmarshalTask(data []byte) (*domain.QueueTask, error) {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &domain.QueueTask{
		ID:        w.ID,
		Type:      w.Type,
		Payload:   w.Payload,
		Retries:   w.Retries,
		CreatedAt: w.CreatedAt,
		Priority:  w.Priority,
	}, nil
}
