// Command smoke exercises a running task API end to end and exits non-zero
// when any check fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"task-api/client"
	"task-api/domain"
)

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

var seedTasks = []struct{ title, description string }{
	{"Implement user authentication", "Add JWT-based authentication to the API with role-based access control"},
	{"Fix database connection timeout", "Resolve timeout issues occurring during peak hours"},
	{"Write API documentation", "Create comprehensive API documentation with examples"},
	{"Deploy to production", "Set up CI/CD pipeline and deploy application to production server"},
}

type result struct {
	name string
	err  error
}

type runner struct {
	c       *client.Client
	logger  *log.Logger
	pause   time.Duration
	results []result
}

func (r *runner) check(name string, err error) {
	r.results = append(r.results, result{name: name, err: err})
	entry := r.logger.WithField("check", name)
	if err != nil {
		entry.WithError(err).Error("check failed")
	} else {
		entry.Info("check passed")
	}
	if r.pause > 0 {
		time.Sleep(r.pause)
	}
}

func expect(ok bool, format string, args ...any) error {
	if ok {
		return nil
	}
	return fmt.Errorf(format, args...)
}

func (r *runner) run(ctx context.Context) {
	msg, err := r.c.Health(ctx)
	r.check("Health Check", firstErr(err, expect(msg != "", "empty health message")))

	var created []domain.Task
	for _, seed := range seedTasks {
		task, err := r.c.CreateTask(ctx, seed.title, seed.description)
		if err != nil {
			r.logger.WithError(err).WithField("title", seed.title).Warn("create task")
			continue
		}
		created = append(created, task)
	}
	r.check("Create Tasks", expect(len(created) == len(seedTasks), "created %d of %d tasks", len(created), len(seedTasks)))

	if len(created) > 0 {
		id := created[0].ID

		got, err := r.c.GetTask(ctx, id)
		r.check("Get Task by ID", firstErr(err, expect(got.ID == id, "got task %q, want %q", got.ID, id)))

		all, err := r.c.ListTasks(ctx, nil)
		r.check("List All Tasks", firstErr(err, expect(len(all) >= len(created), "listed %d tasks", len(all))))

		inProgress := domain.StatusInProgress
		upd, err := r.c.UpdateTask(ctx, id, client.UpdateRequest{Status: &inProgress})
		r.check("Update Task", firstErr(err, expect(upd.Status == inProgress, "status %q after update", upd.Status)))

		pending := domain.StatusPending
		_, err = r.c.ListTasks(ctx, &pending)
		r.check("List Pending Tasks", err)

		_, err = r.c.Summary(ctx)
		r.check("Get Statistics", err)

		completed := domain.StatusCompleted
		if _, err := r.c.UpdateTask(ctx, id, client.UpdateRequest{Status: &completed}); err != nil {
			r.logger.WithError(err).Warn("update task to completed")
		}

		done, err := r.c.ListTasks(ctx, &completed)
		r.check("List Completed Tasks", firstErr(err, expect(containsTask(done, id), "task %s missing from completed list", id)))

		r.check("Delete Task", r.c.DeleteTask(ctx, id))
	}

	_, err = r.c.GetTask(ctx, "invalid-task-id-12345")
	r.check("Invalid Task ID", expect(client.IsNotFound(err), "expected 404, got %v", err))

	_, err = r.c.CreateTask(ctx, "", "This should fail")
	r.check("Validation Error", expectStatus(err, 422))
}

func (r *runner) failed() int {
	n := 0
	for _, res := range r.results {
		if res.err != nil {
			n++
		}
	}
	return n
}

func (r *runner) report(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, res := range r.results {
		status := "PASSED"
		if res.err != nil {
			status = "FAILED"
		}
		name := res.name + " "
		fmt.Fprintf(w, "  %s%s %s\n", name, strings.Repeat(".", max(0, 40-len(name))), status)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	failed := r.failed()
	fmt.Fprintf(w, "Total: %d tests | Passed: %d | Failed: %d\n", len(r.results), len(r.results)-failed, failed)
}

func containsTask(tasks []domain.Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func expectStatus(err error, code int) error {
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.StatusCode != code {
		return fmt.Errorf("expected status %d, got %v", code, err)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	baseURL := getenv("TASK_API_URL", "http://localhost:8000")
	pause := time.Duration(getenvInt("SMOKE_PAUSE_MS", 0)) * time.Millisecond

	logger := log.New()
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{c: client.New(baseURL), logger: logger, pause: pause}
	r.run(ctx)
	r.report(os.Stdout)

	if r.failed() > 0 {
		logger.WithField("url", baseURL).Errorf("%d check(s) failed", r.failed())
		stop()
		os.Exit(1)
	}
}
