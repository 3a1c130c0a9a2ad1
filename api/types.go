package api

import (
	"context"

	"task-api/domain"
)

// Storage abstracts the task store for handlers.
type Storage interface {
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	// ListTasks returns every task when status is nil.
	ListTasks(ctx context.Context, status *domain.Status) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Summarize(ctx context.Context) (domain.Summary, error)
}

// GET / response body
type healthResponse struct {
	Message string `json:"message"`
}

// Error body for 404, 405 and 500 responses.
type detailResponse struct {
	Detail string `json:"detail"`
}

// Error body for 422 responses.
type validationResponse struct {
	Detail []validationDetail `json:"detail"`
}

type validationDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}
