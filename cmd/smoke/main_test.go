package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"task-api/api"
	"task-api/client"
	"task-api/storage"
)

func TestRunAgainstLiveServer(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := echo.New()
	api.Register(e, storage.NewMemory(), logger)
	srv := httptest.NewServer(e)
	defer srv.Close()

	r := &runner{c: client.New(srv.URL), logger: logger}
	r.run(context.Background())

	if r.failed() != 0 {
		for _, res := range r.results {
			if res.err != nil {
				t.Errorf("%s: %v", res.name, res.err)
			}
		}
		t.Fatalf("expected every check to pass")
	}
	if len(r.results) != 11 {
		t.Fatalf("expected 11 checks, got %d", len(r.results))
	}

	var out bytes.Buffer
	r.report(&out)
	if !strings.Contains(out.String(), "Total: 11 tests | Passed: 11 | Failed: 0") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestRunReportsUnreachableServer(t *testing.T) {
	logger, hook := test.NewNullLogger()
	srv := httptest.NewServer(echo.New())
	url := srv.URL
	srv.Close()

	r := &runner{c: client.New(url), logger: logger}
	r.run(context.Background())

	if r.failed() == 0 {
		t.Fatalf("expected failures against a closed server")
	}
	var sawError bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected failed checks to be logged at error level")
	}
}
