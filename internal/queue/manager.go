package queue

import (
	"context"

	"reportd/internal/models"
)

// Manager routes operations to queues by name.
type Manager struct {
	queues map[string]*Queue
	order  []string
}

func NewManager(queues ...*Queue) *Manager {
	m := &Manager{queues: make(map[string]*Queue, len(queues))}
	for _, q := range queues {
		name := q.Name()
		if _, dup := m.queues[name]; !dup {
			m.order = append(m.order, name)
		}
		m.queues[name] = q
	}
	return m
}

// Queue returns the named queue or a NotFoundError.
func (m *Manager) Queue(name string) (*Queue, error) {
	q, ok := m.queues[name]
	if !ok {
		return nil, models.NewNotFoundError("Queue", name)
	}
	return q, nil
}

// Names lists the queues in registration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.order...)
}

// Start launches the workers of every queue that has a processor.
func (m *Manager) Start(ctx context.Context) error {
	for _, name := range m.order {
		q := m.queues[name]
		q.mu.Lock()
		ready := q.processor != nil
		q.mu.Unlock()
		if !ready {
			continue
		}
		if err := q.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until all workers have returned.
func (m *Manager) Wait() {
	for _, name := range m.order {
		m.queues[name].Wait()
	}
}

func (m *Manager) Enqueue(ctx context.Context, name string, data interface{}) (*JobSummary, error) {
	q, err := m.Queue(name)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, data)
}

func (m *Manager) Pause(ctx context.Context, name string) error {
	q, err := m.Queue(name)
	if err != nil {
		return err
	}
	return q.Pause(ctx)
}

func (m *Manager) Resume(ctx context.Context, name string) error {
	q, err := m.Queue(name)
	if err != nil {
		return err
	}
	return q.Resume(ctx)
}

func (m *Manager) ListJobs(ctx context.Context, name string, statuses []models.JobStatus) ([]JobSummary, error) {
	q, err := m.Queue(name)
	if err != nil {
		return nil, err
	}
	return q.ListJobs(ctx, statuses)
}

func (m *Manager) GetJob(ctx context.Context, name, id string) (*JobSummary, error) {
	q, err := m.Queue(name)
	if err != nil {
		return nil, err
	}
	return q.GetJob(ctx, id)
}

func (m *Manager) RetryJob(ctx context.Context, name, id string) (*JobSummary, error) {
	q, err := m.Queue(name)
	if err != nil {
		return nil, err
	}
	return q.RetryJob(ctx, id)
}
