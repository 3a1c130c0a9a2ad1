package main

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	requestEventName   = "task-api.request.completed"
	requestEventDomain = "task-api"

	attrHTTPMethod    = "http.method"
	attrHTTPRoute     = "http.route"
	attrHTTPStatus    = "http.status_code"
	attrTotalMillis   = "task_api.total_ms"
	attrTasksReturned = "task_api.tasks_returned"
	attrEmptyUpdate   = "task_api.empty_update"
	attrErrorStage    = "task_api.error_stage"
)

// logLine is one JSON formatted logrus entry written by the server.
type logLine struct {
	Msg          string         `json:"msg"`
	EventName    string         `json:"event.name"`
	EventDomain  string         `json:"event.domain"`
	SeverityText string         `json:"severity_text"`
	Attributes   map[string]any `json:"attributes"`
}

type stats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

func newStats() *stats {
	return &stats{Min: math.MaxFloat64}
}

func (s *stats) add(v float64) {
	s.Count++
	s.Sum += v
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
}

func (s *stats) summary() numericSummary {
	if s == nil || s.Count == 0 {
		return numericSummary{}
	}
	return numericSummary{Count: s.Count, Min: s.Min, Max: s.Max, Avg: s.Sum / float64(s.Count)}
}

type numericSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type routeSummary struct {
	Route      string         `json:"route"`
	Requests   int            `json:"requests"`
	DurationMs numericSummary `json:"duration_ms"`
}

type report struct {
	EventName      string         `json:"event_name"`
	TotalEvents    int            `json:"total_events"`
	SeverityCounts map[string]int `json:"severity_counts"`
	StatusCounts   map[string]int `json:"status_counts"`
	Routes         []routeSummary `json:"routes"`
	DurationMs     numericSummary `json:"duration_ms"`
	TasksReturned  numericSummary `json:"tasks_returned"`
	EmptyUpdates   int            `json:"empty_updates"`
	ErrorStages    map[string]int `json:"error_stages,omitempty"`
	SkippedLines   int            `json:"skipped_lines"`
}

type collector struct {
	eventName string
	domain    string

	total        int
	severity     map[string]int
	statuses     map[int]int
	routes       map[string]*stats
	duration     *stats
	tasks        *stats
	emptyUpdates int
	errorStages  map[string]int
	skipped      int
}

func newCollector(eventName, domain string) *collector {
	return &collector{
		eventName:   eventName,
		domain:      domain,
		severity:    make(map[string]int),
		statuses:    make(map[int]int),
		routes:      make(map[string]*stats),
		duration:    newStats(),
		tasks:       newStats(),
		errorStages: make(map[string]int),
	}
}

// ingest consumes one log line. Lines that are not JSON are counted as skipped.
func (c *collector) ingest(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	// strip a leading "name | " prefix
	if pipe := strings.Index(line, "|"); pipe >= 0 && !strings.HasPrefix(line, "{") {
		line = strings.TrimSpace(line[pipe+1:])
	}

	var rec logLine
	if err := sonic.ConfigStd.UnmarshalFromString(line, &rec); err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName || (c.domain != "" && rec.EventDomain != c.domain) {
		return
	}
	c.add(rec)
}

func (c *collector) add(rec logLine) {
	c.total++
	sev := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if sev == "" {
		sev = "UNSPECIFIED"
	}
	c.severity[sev]++

	attrs := rec.Attributes
	if status, ok := asFloat(attrs[attrHTTPStatus]); ok {
		c.statuses[int(status)]++
	}
	total, hasTotal := asFloat(attrs[attrTotalMillis])
	if hasTotal {
		c.duration.add(total)
	}
	if route, _ := attrs[attrHTTPRoute].(string); route != "" {
		key := route
		if method, _ := attrs[attrHTTPMethod].(string); method != "" {
			key = method + " " + route
		}
		rs, ok := c.routes[key]
		if !ok {
			rs = newStats()
			c.routes[key] = rs
		}
		if hasTotal {
			rs.add(total)
		} else {
			rs.Count++
		}
	}
	if n, ok := asFloat(attrs[attrTasksReturned]); ok {
		c.tasks.add(n)
	}
	if empty, _ := attrs[attrEmptyUpdate].(bool); empty {
		c.emptyUpdates++
	}
	if stage, _ := attrs[attrErrorStage].(string); stage != "" {
		c.errorStages[stage]++
	}
}

func (c *collector) report() report {
	statuses := make(map[string]int, len(c.statuses))
	for code, n := range c.statuses {
		statuses[strconv.Itoa(code)] = n
	}
	routes := make([]routeSummary, 0, len(c.routes))
	for key, rs := range c.routes {
		routes = append(routes, routeSummary{Route: key, Requests: rs.Count, DurationMs: rs.summary()})
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Requests != routes[j].Requests {
			return routes[i].Requests > routes[j].Requests
		}
		return routes[i].Route < routes[j].Route
	})

	var stages map[string]int
	if len(c.errorStages) > 0 {
		stages = c.errorStages
	}
	return report{
		EventName:      c.eventName,
		TotalEvents:    c.total,
		SeverityCounts: c.severity,
		StatusCounts:   statuses,
		Routes:         routes,
		DurationMs:     c.duration.summary(),
		TasksReturned:  c.tasks.summary(),
		EmptyUpdates:   c.emptyUpdates,
		ErrorStages:    stages,
		SkippedLines:   c.skipped,
	}
}

// oneLine renders the headline numbers for terminal output.
func (r report) oneLine() string {
	return strings.Join([]string{
		"event=" + r.EventName,
		"total=" + strconv.Itoa(r.TotalEvents),
		"info=" + strconv.Itoa(r.SeverityCounts["INFO"]),
		"warn=" + strconv.Itoa(r.SeverityCounts["WARN"]),
		"error=" + strconv.Itoa(r.SeverityCounts["ERROR"]),
		"avg_ms=" + strconv.FormatFloat(r.DurationMs.Avg, 'f', 2, 64),
		"max_ms=" + strconv.FormatFloat(r.DurationMs.Max, 'f', 2, 64),
	}, " ")
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
