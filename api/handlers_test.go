package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"task-api/domain"
	"task-api/storage"
)

type failingStore struct {
	err error
}

func (f failingStore) CreateTask(context.Context, domain.NewTask) (domain.Task, error) {
	return domain.Task{}, f.err
}

func (f failingStore) GetTask(context.Context, string) (domain.Task, error) {
	return domain.Task{}, f.err
}

func (f failingStore) ListTasks(context.Context, *domain.Status) ([]domain.Task, error) {
	return nil, f.err
}

func (f failingStore) UpdateTask(context.Context, string, domain.TaskUpdate) (domain.Task, error) {
	return domain.Task{}, f.err
}

func (f failingStore) DeleteTask(context.Context, string) error { return f.err }

func (f failingStore) Summarize(context.Context) (domain.Summary, error) {
	return domain.Summary{}, f.err
}

func newTestServer(t *testing.T, store Storage) (*echo.Echo, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	e := echo.New()
	e.Use(Observability(logger))
	Register(e, store, logger)
	return e, hook
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func createViaAPI(t *testing.T, e *echo.Echo, title, description string) domain.Task {
	t.Helper()
	body, err := sonic.MarshalString(map[string]string{"title": title, "description": description})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := doRequest(e, http.MethodPost, "/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[domain.Task](t, rec)
}

func TestRootAndHealthz(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	rec := doRequest(e, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := decode[healthResponse](t, rec); got.Message != "Task Management API is running" {
		t.Fatalf("unexpected message: %q", got.Message)
	}

	rec = doRequest(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestTaskLifecycle(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	created := createViaAPI(t, e, "Fix bug", "desc")
	if created.Status != domain.StatusPending || created.ID == "" {
		t.Fatalf("unexpected created task: %#v", created)
	}
	if !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected created_at == updated_at, got %v %v", created.CreatedAt, created.UpdatedAt)
	}

	rec := doRequest(e, http.MethodPatch, "/tasks/"+created.ID, `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decode[domain.Task](t, rec)
	if updated.Status != domain.StatusCompleted || updated.Title != "Fix bug" || updated.Description != "desc" {
		t.Fatalf("unexpected updated task: %#v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) || updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Fatalf("unexpected timestamps after update: %#v", updated)
	}

	rec = doRequest(e, http.MethodGet, "/tasks/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := decode[domain.Task](t, rec); got.Status != domain.StatusCompleted {
		t.Fatalf("expected stored status completed, got %q", got.Status)
	}

	rec = doRequest(e, http.MethodDelete, "/tasks/"+created.ID, "")
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("unexpected delete response: %d %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(e, http.MethodGet, "/tasks/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodDelete, "/tasks/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected second delete to 404, got %d", rec.Code)
	}
}

func TestGetTaskNotFoundDetail(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := doRequest(e, method, "/tasks/xyz", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected status 404 got %d", method, rec.Code)
		}
		if got := decode[detailResponse](t, rec); got.Detail != "Task with ID 'xyz' not found" {
			t.Fatalf("%s: unexpected detail: %q", method, got.Detail)
		}
	}

	rec := doRequest(e, http.MethodPatch, "/tasks/xyz", `{"title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected patch on missing task to 404, got %d", rec.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	long := strings.Repeat("a", domain.MaxTitleLength+1)
	tests := []struct {
		name     string
		body     string
		wantLoc  []string
		wantType string
		wantMsg  string
	}{
		{name: "empty title", body: `{"title":"","description":"d"}`, wantLoc: []string{"body", "title"}, wantType: domain.CodeTooShort, wantMsg: "String should have at least 1 character"},
		{name: "long title", body: `{"title":"` + long + `","description":"d"}`, wantLoc: []string{"body", "title"}, wantType: domain.CodeTooLong, wantMsg: "String should have at most 255 characters"},
		{name: "missing title", body: `{"description":"d"}`, wantLoc: []string{"body", "title"}, wantType: domain.CodeMissing, wantMsg: "Field required"},
		{name: "missing description", body: `{"title":"t"}`, wantLoc: []string{"body", "description"}, wantType: domain.CodeMissing, wantMsg: "Field required"},
		{name: "null description", body: `{"title":"t","description":null}`, wantLoc: []string{"body", "description"}, wantType: domain.CodeStringType, wantMsg: "Input should be a valid string"},
		{name: "numeric title", body: `{"title":5,"description":"d"}`, wantLoc: []string{"body", "title"}, wantType: domain.CodeStringType, wantMsg: "Input should be a valid string"},
		{name: "empty body", body: "", wantLoc: []string{"body"}, wantType: domain.CodeMissing, wantMsg: "Field required"},
		{name: "invalid json", body: `{"title":`, wantLoc: []string{"body"}, wantType: domain.CodeJSONInvalid, wantMsg: "JSON decode error"},
		{name: "invalid utf-8", body: "{\"title\":\"\xff\xfe\",\"description\":\"d\"}", wantLoc: []string{"body"}, wantType: domain.CodeJSONInvalid, wantMsg: "JSON decode error"},
		{name: "array body", body: `[1,2]`, wantLoc: []string{"body"}, wantType: domain.CodeNotAnObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			e, _ := newTestServer(t, store)

			rec := doRequest(e, http.MethodPost, "/tasks", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422 got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[validationResponse](t, rec)
			if len(resp.Detail) != 1 {
				t.Fatalf("expected one detail, got %#v", resp.Detail)
			}
			d := resp.Detail[0]
			if strings.Join(d.Loc, ".") != strings.Join(tt.wantLoc, ".") || d.Type != tt.wantType {
				t.Fatalf("unexpected detail: %#v", d)
			}
			if tt.wantMsg != "" && d.Msg != tt.wantMsg {
				t.Fatalf("unexpected message: %q", d.Msg)
			}

			tasks, err := store.ListTasks(context.Background(), nil)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(tasks) != 0 {
				t.Fatalf("expected no task to be stored, got %d", len(tasks))
			}
		})
	}
}

func TestCreateTaskReportsEveryInvalidField(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	rec := doRequest(e, http.MethodPost, "/tasks", `{"title":"","description":`+`"`+strings.Repeat("d", domain.MaxDescriptionLength+1)+`"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 got %d", rec.Code)
	}
	resp := decode[validationResponse](t, rec)
	if len(resp.Detail) != 2 {
		t.Fatalf("expected two details, got %#v", resp.Detail)
	}
	if resp.Detail[0].Loc[1] != "title" || resp.Detail[1].Loc[1] != "description" {
		t.Fatalf("unexpected detail order: %#v", resp.Detail)
	}
}

func TestCreateTaskIgnoresClientSuppliedFields(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	rec := doRequest(e, http.MethodPost, "/tasks", `{"title":"t","description":"d","id":"mine","status":"completed"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	task := decode[domain.Task](t, rec)
	if task.ID == "mine" || task.Status != domain.StatusPending {
		t.Fatalf("client fields leaked into task: %#v", task)
	}
}

func TestCreateTaskRejectsOversizedBody(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	rec := doRequest(e, http.MethodPost, "/tasks", `{"title":"`+strings.Repeat("a", maxBodySize)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413 got %d", rec.Code)
	}
	if got := decode[detailResponse](t, rec); got.Detail != "Request Entity Too Large" {
		t.Fatalf("unexpected detail: %q", got.Detail)
	}
}

func TestUpdateTaskPartialAndValidation(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())
	task := createViaAPI(t, e, "title", "desc")

	rec := doRequest(e, http.MethodPatch, "/tasks/"+task.ID, `{"title":"renamed","description":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[domain.Task](t, rec)
	if got.Title != "renamed" || got.Description != "desc" || got.Status != domain.StatusPending {
		t.Fatalf("unexpected partial update: %#v", got)
	}

	rec = doRequest(e, http.MethodPatch, "/tasks/"+task.ID, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected empty update to succeed, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPatch, "/tasks/"+task.ID, `{"status":"done","title":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 got %d", rec.Code)
	}
	resp := decode[validationResponse](t, rec)
	if len(resp.Detail) != 2 {
		t.Fatalf("expected two details, got %#v", resp.Detail)
	}
	var enum *validationDetail
	for i := range resp.Detail {
		if resp.Detail[i].Loc[1] == "status" {
			enum = &resp.Detail[i]
		}
	}
	if enum == nil || enum.Type != domain.CodeEnum {
		t.Fatalf("expected enum detail, got %#v", resp.Detail)
	}
	if enum.Msg != "Input should be 'pending', 'in_progress', 'completed' or 'failed'" {
		t.Fatalf("unexpected enum message: %q", enum.Msg)
	}

	rec = doRequest(e, http.MethodGet, "/tasks/"+task.ID, "")
	if got := decode[domain.Task](t, rec); got.Title != "renamed" || got.Status != domain.StatusPending {
		t.Fatalf("rejected update mutated task: %#v", got)
	}
}

func TestListTasksFilter(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	rec := doRequest(e, http.MethodGet, "/tasks", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}

	first := createViaAPI(t, e, "one", "d")
	second := createViaAPI(t, e, "two", "d")
	third := createViaAPI(t, e, "three", "d")
	doRequest(e, http.MethodPatch, "/tasks/"+second.ID, `{"status":"failed"}`)

	all := decode[[]domain.Task](t, doRequest(e, http.MethodGet, "/tasks", ""))
	if len(all) != 3 || all[0].ID != first.ID || all[1].ID != second.ID || all[2].ID != third.ID {
		t.Fatalf("unexpected list order: %#v", all)
	}

	pending := decode[[]domain.Task](t, doRequest(e, http.MethodGet, "/tasks?status=pending", ""))
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != third.ID {
		t.Fatalf("unexpected pending list: %#v", pending)
	}

	rec = doRequest(e, http.MethodGet, "/tasks?status=archived", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 got %d", rec.Code)
	}
	resp := decode[validationResponse](t, rec)
	if len(resp.Detail) != 1 || strings.Join(resp.Detail[0].Loc, ".") != "query.status" {
		t.Fatalf("unexpected detail: %#v", resp.Detail)
	}
}

func TestSummary(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	empty := decode[domain.Summary](t, doRequest(e, http.MethodGet, "/tasks/stats/summary", ""))
	if empty.Total != 0 || len(empty.ByStatus) != len(domain.Statuses) {
		t.Fatalf("unexpected empty summary: %#v", empty)
	}

	a := createViaAPI(t, e, "a", "d")
	createViaAPI(t, e, "b", "d")
	doRequest(e, http.MethodPatch, "/tasks/"+a.ID, `{"status":"in_progress"}`)

	rec := doRequest(e, http.MethodGet, "/tasks/stats/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"total_tasks":2`) {
		t.Fatalf("unexpected summary body: %s", rec.Body.String())
	}
	sum := decode[domain.Summary](t, rec)
	want := map[domain.Status]int{
		domain.StatusPending:    1,
		domain.StatusInProgress: 1,
		domain.StatusCompleted:  0,
		domain.StatusFailed:     0,
	}
	for st, n := range want {
		if sum.ByStatus[st] != n {
			t.Fatalf("unexpected %s count: %d", st, sum.ByStatus[st])
		}
	}
}

func TestRoutingErrors(t *testing.T) {
	e, _ := newTestServer(t, storage.NewMemory())

	rec := doRequest(e, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
	if got := decode[detailResponse](t, rec); got.Detail != "Not Found" {
		t.Fatalf("unexpected detail: %q", got.Detail)
	}

	rec = doRequest(e, http.MethodPut, "/tasks", `{}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405 got %d", rec.Code)
	}
	if got := decode[detailResponse](t, rec); got.Detail != "Method Not Allowed" {
		t.Fatalf("unexpected detail: %q", got.Detail)
	}
}

func TestStorageFailureIsNotExposed(t *testing.T) {
	e, hook := newTestServer(t, failingStore{err: errors.New("disk on fire")})

	rec := doRequest(e, http.MethodGet, "/tasks", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
	if got := decode[detailResponse](t, rec); got.Detail != "Internal Server Error" {
		t.Fatalf("unexpected detail: %q", got.Detail)
	}
	if strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}

	var sawFailure bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "request failed" && entry.Level == log.ErrorLevel {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected request failure to be logged")
	}
}

func TestStoreValidationErrorMapsTo422(t *testing.T) {
	verr := &domain.ValidationError{Fields: []domain.FieldError{{Field: "title", Message: "String should have at least 1 character", Code: domain.CodeTooShort}}}
	e, _ := newTestServer(t, failingStore{err: verr})

	rec := doRequest(e, http.MethodPost, "/tasks", `{"title":"t","description":"d"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 got %d", rec.Code)
	}
	resp := decode[validationResponse](t, rec)
	if len(resp.Detail) != 1 || strings.Join(resp.Detail[0].Loc, ".") != "body.title" {
		t.Fatalf("unexpected detail: %#v", resp.Detail)
	}
}

func TestHandlersWorkWithoutObservability(t *testing.T) {
	e := echo.New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/tasks/missing", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/tasks/:id")
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := getTask(storage.NewMemory())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}
