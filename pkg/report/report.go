// Package report collects scenario results of one run and renders them as
// styled text, JSON or JUnit XML.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of one scenario.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ScenarioResult is the record of one scenario.
type ScenarioResult struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	// Error is set for failed and skipped scenarios.
	Error      string   `json:"error,omitempty"`
	Notes      []string `json:"notes,omitempty"`
	Verified   int      `json:"verified"`
	Screenshot string   `json:"screenshot,omitempty"`
}

func (s ScenarioResult) MarshalJSON() ([]byte, error) {
	type alias ScenarioResult
	return json.Marshal(struct {
		alias
		Duration string `json:"duration"`
	}{alias(s), s.Duration.Round(time.Millisecond).String()})
}

// Report is the outcome of one run.
type Report struct {
	RunID    string           `json:"run_id"`
	Driver   string           `json:"driver"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Results  []ScenarioResult `json:"results"`
	// LogPath is the run's debug log, if one was written.
	LogPath string `json:"log_path,omitempty"`
	// LogTail is the end of the debug log, kept for failed runs.
	LogTail string `json:"log_tail,omitempty"`
}

// New starts a report for a run.
func New(runID, driver string) *Report {
	return &Report{RunID: runID, Driver: driver, Started: time.Now()}
}

// Add appends a result.
func (r *Report) Add(res ScenarioResult) {
	r.Results = append(r.Results, res)
}

// Finish stamps the end of the run.
func (r *Report) Finish() {
	r.Finished = time.Now()
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// Summary counts results by status.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (s Summary) String() string {
	noun := "scenarios"
	if s.Total == 1 {
		noun = "scenario"
	}
	return fmt.Sprintf("%d %s: %d passed, %d failed, %d skipped", s.Total, noun, s.Passed, s.Failed, s.Skipped)
}

// Summary counts the results.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Passed reports whether every scenario ran and passed. A run with
// skipped scenarios (e.g. interrupted) has not passed.
func (r *Report) Passed() bool {
	s := r.Summary()
	return s.Failed == 0 && s.Skipped == 0
}

// Failures returns the failed results in run order.
func (r *Report) Failures() []ScenarioResult {
	var out []ScenarioResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Format selects a renderer.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatJUnit Format = "junit"
)

// ParseFormat accepts "text", "json" and "junit" (also "xml").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "junit", "xml":
		return FormatJUnit, nil
	}
	return "", fmt.Errorf("unknown report format %q (want text, json or junit)", s)
}
