// Package client is a typed HTTP client for the task API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"task-api/domain"
)

// Client wraps http.Client with helpers for JSON requests.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	// Detail holds the string detail of 404/405/500 bodies.
	Detail string
	// Fields holds the entries of a 422 body.
	Fields []FieldError
	Body   []byte
}

// FieldError is one entry of a 422 response.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("task api: %d: %s", e.StatusCode, e.Detail)
	case len(e.Fields) > 0:
		f := e.Fields[0]
		return fmt.Sprintf("task api: %d: %s: %s", e.StatusCode, strings.Join(f.Loc, "."), f.Msg)
	default:
		return fmt.Sprintf("task api: %d", e.StatusCode)
	}
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// UpdateRequest is the PATCH body. Nil fields are left untouched.
type UpdateRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Status      *domain.Status `json:"status,omitempty"`
}

// Health calls GET / and returns the service message.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) CreateTask(ctx context.Context, title, description string) (domain.Task, error) {
	var task domain.Task
	body := map[string]string{"title": title, "description": description}
	err := c.do(ctx, http.MethodPost, "/tasks", body, &task)
	return task, err
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &task)
	return task, err
}

// ListTasks lists tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status *domain.Status) ([]domain.Task, error) {
	path := "/tasks"
	if status != nil {
		path += "?" + url.Values{"status": {string(*status)}}.Encode()
	}
	var tasks []domain.Task
	err := c.do(ctx, http.MethodGet, path, nil, &tasks)
	return tasks, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, upd UpdateRequest) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), upd, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	var sum domain.Summary
	err := c.do(ctx, http.MethodGet, "/tasks/stats/summary", nil, &sum)
	return sum, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	ae := &APIError{StatusCode: status, Body: data}
	var probe struct {
		Detail any `json:"detail"`
	}
	if sonic.Unmarshal(data, &probe) != nil {
		return ae
	}
	switch d := probe.Detail.(type) {
	case string:
		ae.Detail = d
	case []any:
		var fields struct {
			Detail []FieldError `json:"detail"`
		}
		if sonic.Unmarshal(data, &fields) == nil {
			ae.Fields = fields.Detail
		}
	}
	return ae
}
