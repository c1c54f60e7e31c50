// Package metrics collects counters and stage timings during a run and
// renders the final report.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics collects counters and per-stage durations.
// Counters use atomic operations.
type Metrics struct {
	mu sync.RWMutex

	pollAttempts     int64 // checks performed by the delivery verifiers
	objectsFound     int64 // log objects listed by the successful check
	messagesReceived int64 // messages in the successful receive
	warnings         int64 // best-effort failures

	stages    []StageTiming
	startTime time.Time
	now       func() time.Time
}

// StageTiming records how long one stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
}

// NewMetrics creates a new Metrics instance with initialized counters
func NewMetrics() *Metrics {
	return newMetricsWithClock(time.Now)
}

func newMetricsWithClock(now func() time.Time) *Metrics {
	return &Metrics{startTime: now(), now: now}
}

// RecordPollAttempts adds n checks.
func (m *Metrics) RecordPollAttempts(n int) {
	atomic.AddInt64(&m.pollAttempts, int64(n))
}

// RecordObjectsFound adds n listed log objects.
func (m *Metrics) RecordObjectsFound(n int) {
	atomic.AddInt64(&m.objectsFound, int64(n))
}

// RecordMessagesReceived adds n received messages.
func (m *Metrics) RecordMessagesReceived(n int) {
	atomic.AddInt64(&m.messagesReceived, int64(n))
}

// RecordWarnings adds n warnings.
func (m *Metrics) RecordWarnings(n int) {
	atomic.AddInt64(&m.warnings, int64(n))
}

// RecordStage appends the timing of a finished stage.
func (m *Metrics) RecordStage(stage string, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, StageTiming{Stage: stage, Duration: d, OK: ok})
}

// Report is the end-of-run summary.
type Report struct {
	StartTime        time.Time     `json:"startTime"`
	EndTime          time.Time     `json:"endTime"`
	Duration         time.Duration `json:"duration"`
	Outcome          string        `json:"outcome"`
	FailedStage      string        `json:"failedStage,omitempty"`
	Stages           []StageTiming `json:"stages"`
	PollAttempts     int64         `json:"pollAttempts"`
	ObjectsFound     int64         `json:"objectsFound"`
	MessagesReceived int64         `json:"messagesReceived"`
	Warnings         int64         `json:"warnings"`
}

// GenerateReport builds the report for a run that ended with outcome.
// failedStage is empty for a successful run.
func (m *Metrics) GenerateReport(outcome, failedStage string) Report {
	endTime := m.now()

	m.mu.RLock()
	stages := make([]StageTiming, len(m.stages))
	copy(stages, m.stages)
	m.mu.RUnlock()

	return Report{
		StartTime:        m.startTime,
		EndTime:          endTime,
		Duration:         endTime.Sub(m.startTime),
		Outcome:          outcome,
		FailedStage:      failedStage,
		Stages:           stages,
		PollAttempts:     atomic.LoadInt64(&m.pollAttempts),
		ObjectsFound:     atomic.LoadInt64(&m.objectsFound),
		MessagesReceived: atomic.LoadInt64(&m.messagesReceived),
		Warnings:         atomic.LoadInt64(&m.warnings),
	}
}

// MarshalJSON renders durations as strings.
func (r Report) MarshalJSON() ([]byte, error) {
	type stage struct {
		Stage    string `json:"stage"`
		Duration string `json:"duration"`
		OK       bool   `json:"ok"`
	}
	stages := make([]stage, 0, len(r.Stages))
	for _, s := range r.Stages {
		stages = append(stages, stage{Stage: s.Stage, Duration: s.Duration.String(), OK: s.OK})
	}

	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string  `json:"duration"`
		Stages   []stage `json:"stages"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
		Stages:   stages,
	})
}

// String returns a human-readable summary.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s in %s", r.Outcome, r.Duration.Round(time.Millisecond))
	if r.FailedStage != "" {
		fmt.Fprintf(&sb, " (failed at %s)", r.FailedStage)
	}
	for _, s := range r.Stages {
		status := "ok"
		if !s.OK {
			status = "failed"
		}
		fmt.Fprintf(&sb, "\n  %-22s %-7s %s", s.Stage, status, s.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(&sb, "\nPoll attempts: %d\nLog objects found: %d\nMessages received: %d\nWarnings: %d",
		r.PollAttempts, r.ObjectsFound, r.MessagesReceived, r.Warnings)
	return sb.String()
}
