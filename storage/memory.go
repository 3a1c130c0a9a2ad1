package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"task-api/domain"
)

type record struct {
	task domain.Task
	seq  uint64
}

// Memory is the authoritative in-process task store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	tasks   map[string]record
	nextSeq uint64
	now     func() time.Time
	newID   func() string
}

// MemoryOption customizes a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces the clock used for created_at and updated_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(m *Memory) { m.newID = gen }
}

// NewMemory creates an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tasks: make(map[string]record),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) CreateTask(_ context.Context, in domain.NewTask) (domain.Task, error) {
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	for {
		if _, taken := m.tasks[id]; !taken {
			break
		}
		id = m.newID()
	}

	now := m.now()
	task := domain.Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.nextSeq++
	m.tasks[id] = record{task: task, seq: m.nextSeq}
	return task, nil
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	rec, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Task{}, &domain.NotFoundError{ID: id}
	}
	return rec.task, nil
}

// ListTasks returns a snapshot in insertion order. A nil filter returns every task.
func (m *Memory) ListTasks(_ context.Context, status *domain.Status) ([]domain.Task, error) {
	m.mu.RLock()
	recs := make([]record, 0, len(m.tasks))
	for _, rec := range m.tasks {
		if status != nil && rec.task.Status != *status {
			continue
		}
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	tasks := make([]domain.Task, len(recs))
	for i, rec := range recs {
		tasks[i] = rec.task
	}
	return tasks, nil
}

func (m *Memory) UpdateTask(_ context.Context, id string, upd domain.TaskUpdate) (domain.Task, error) {
	if err := upd.Validate(); err != nil {
		return domain.Task{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, &domain.NotFoundError{ID: id}
	}
	rec.task.Apply(upd, m.now())
	m.tasks[id] = rec
	return rec.task, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return &domain.NotFoundError{ID: id}
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Summarize(_ context.Context) (domain.Summary, error) {
	sum := domain.NewSummary()
	m.mu.RLock()
	for _, rec := range m.tasks {
		sum.Add(rec.task)
	}
	m.mu.RUnlock()
	return sum, nil
}
