package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, logger *log.Logger) {
	e.HTTPErrorHandler = httpErrorHandler(logger)

	e.GET("/", root())
	e.GET("/healthz", healthz())
	e.POST("/tasks", createTask(store))
	e.GET("/tasks", listTasks(store))
	// static segments win over :id
	e.GET("/tasks/stats/summary", getSummary(store))
	e.GET("/tasks/:id", getTask(store))
	e.PATCH("/tasks/:id", updateTask(store))
	e.DELETE("/tasks/:id", deleteTask(store))
}

func root() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, healthResponse{Message: "Task Management API is running"})
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func createTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		body, err := readBody(c)
		if err != nil {
			metrics.SetErrorStage("decode")
			return err
		}
		req, err := parseCreateTask(body)
		if err != nil {
			return writeRequestError(c, err)
		}

		task, err := store.CreateTask(c.Request().Context(), domain.NewTask{Title: req.Title, Description: req.Description})
		if err != nil {
			return writeStoreError(c, err)
		}
		metrics.SetTaskID(task.ID)
		return c.JSON(http.StatusCreated, task)
	}
}

func listTasks(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		status, err := parseStatusFilter(c)
		if err != nil {
			return writeRequestError(c, err)
		}

		tasks, err := store.ListTasks(c.Request().Context(), status)
		if err != nil {
			return writeStoreError(c, err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metrics.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasks)
	}
}

func getTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		metricsFrom(c).SetTaskID(id)

		task, err := store.GetTask(c.Request().Context(), id)
		if err != nil {
			return writeStoreError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics := metricsFrom(c)
		id := c.Param("id")
		metrics.SetTaskID(id)

		body, err := readBody(c)
		if err != nil {
			metrics.SetErrorStage("decode")
			return err
		}
		upd, err := parseUpdateTask(body)
		if err != nil {
			return writeRequestError(c, err)
		}
		metrics.SetEmptyUpdate(upd.IsEmpty())

		task, err := store.UpdateTask(c.Request().Context(), id, upd)
		if err != nil {
			return writeStoreError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		metricsFrom(c).SetTaskID(id)

		if err := store.DeleteTask(c.Request().Context(), id); err != nil {
			return writeStoreError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getSummary(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		sum, err := store.Summarize(c.Request().Context())
		if err != nil {
			return writeStoreError(c, err)
		}
		return c.JSON(http.StatusOK, sum)
	}
}

func writeRequestError(c echo.Context, err error) error {
	re, ok := asRequestError(err)
	if !ok {
		metricsFrom(c).SetErrorStage("decode")
		return err
	}
	metricsFrom(c).SetErrorStage("validation")
	return c.JSON(http.StatusUnprocessableEntity, validationResponse{Detail: re.details})
}

func writeStoreError(c echo.Context, err error) error {
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &nf):
		metricsFrom(c).SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, detailResponse{Detail: nf.Error()})
	case errors.Is(err, domain.ErrNotFound):
		metricsFrom(c).SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, detailResponse{Detail: fmt.Sprintf("Task with ID '%s' not found", c.Param("id"))})
	}
	if _, ok := asRequestError(err); ok {
		return writeRequestError(c, err)
	}
	metricsFrom(c).SetErrorStage("storage")
	return fmt.Errorf("storage: %w", err)
}

// httpErrorHandler renders every error as a {"detail": ...} body. Messages
// of 5xx errors are never exposed.
func httpErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		detail := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			detail = http.StatusText(code)
			if msg, ok := he.Message.(string); ok && msg != "" && code < http.StatusInternalServerError {
				detail = msg
			}
		}

		if code >= http.StatusInternalServerError && logger != nil {
			logger.WithError(err).WithFields(log.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
			}).Error("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, detailResponse{Detail: detail})
		}
		if writeErr != nil && logger != nil {
			logger.WithError(writeErr).Warn("write error response")
		}
	}
}
