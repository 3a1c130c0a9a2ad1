package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const metricsContextKey = "task-api.metrics"

// Observability opens a span per request and logs its outcome once the
// response is written. Handler errors are rendered here so the logged
// status matches what the client received. A panicking handler is
// reported as a 500 and the panic is not propagated.
func Observability(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			metrics, spanCtx := newRequestMetrics(req.Context(), logger, req.Method)
			c.SetRequest(req.WithContext(spanCtx))
			c.Set(metricsContextKey, metrics)

			err := callHandler(next, c)
			if err != nil {
				if errors.Is(err, errHandlerPanic) {
					metrics.SetErrorStage("panic")
				}
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.SetRoute(route)
			metrics.Log(c.Response().Status, err)
			return nil
		}
	}
}

var errHandlerPanic = errors.New("handler panic")

func callHandler(next echo.HandlerFunc, c echo.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if r == http.ErrAbortHandler {
				panic(r)
			}
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return next(c)
}

// metricsFrom returns the request metrics, or nil outside Observability.
func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
