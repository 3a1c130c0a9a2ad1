package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task. Any status may move to any other.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}

var ErrUnknownStatus = errors.New("unknown task status")

// ParseStatus converts raw input into a Status, rejecting anything outside the four known values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Task is a single tracked item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewTask carries the caller supplied fields of a task about to be created.
type NewTask struct {
	Title       string
	Description string
}

func (n NewTask) Validate() error {
	var fields []FieldError
	if fe := ValidateTitle(n.Title); fe != nil {
		fields = append(fields, *fe)
	}
	if fe := ValidateDescription(n.Description); fe != nil {
		fields = append(fields, *fe)
	}
	return newValidationError(fields)
}

// TaskUpdate is a partial update; nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *Status
}

func (u TaskUpdate) Validate() error {
	var fields []FieldError
	if u.Title != nil {
		if fe := ValidateTitle(*u.Title); fe != nil {
			fields = append(fields, *fe)
		}
	}
	if u.Description != nil {
		if fe := ValidateDescription(*u.Description); fe != nil {
			fields = append(fields, *fe)
		}
	}
	if u.Status != nil && !u.Status.Valid() {
		fields = append(fields, StatusFieldError("status"))
	}
	return newValidationError(fields)
}

// IsEmpty reports whether the update supplies no fields at all.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil
}

// Apply overwrites the supplied fields and stamps UpdatedAt, even when no field is supplied.
// now is clamped so UpdatedAt never moves backwards.
func (t *Task) Apply(u TaskUpdate, now time.Time) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if now.Before(t.UpdatedAt) {
		now = t.UpdatedAt
	}
	t.UpdatedAt = now
}

// Summary aggregates live tasks. ByStatus always holds all four statuses.
type Summary struct {
	Total    int            `json:"total_tasks"`
	ByStatus map[Status]int `json:"by_status"`
}

func NewSummary() Summary {
	by := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		by[s] = 0
	}
	return Summary{ByStatus: by}
}

// Add counts one task.
func (s *Summary) Add(t Task) {
	s.Total++
	s.ByStatus[t.Status]++
}
