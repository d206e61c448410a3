package types

import (
	"fmt"
	"time"
)

// CaseStatus represents the possible states of a single executed test case
type CaseStatus string

const (
	CaseStatusPassed  CaseStatus = "passed"
	CaseStatusFailed  CaseStatus = "failed"
	CaseStatusSkipped CaseStatus = "skipped"
	CaseStatusTodo    CaseStatus = "todo"
)

// NormalizeCaseStatus maps the raw status strings emitted by the test
// execution engine onto the closed CaseStatus set. "pending" and "skipped"
// both collapse to skipped; unknown strings also collapse to skipped rather
// than failing the whole run.
func NormalizeCaseStatus(raw string) CaseStatus {
	switch raw {
	case "passed", "pass":
		return CaseStatusPassed
	case "failed", "fail":
		return CaseStatusFailed
	case "todo":
		return CaseStatusTodo
	default:
		return CaseStatusSkipped
	}
}

// RawCase is a single test case as reported by the external execution
// engine. It is treated as read-only input.
type RawCase struct {
	Title           string        `json:"title"`
	AncestorTitles  []string      `json:"ancestorTitles,omitempty"`
	Status          string        `json:"status"`
	Duration        time.Duration `json:"duration"`
	FailureMessages []string      `json:"failureMessages,omitempty"`
}

// RawSuite is an ordered collection of cases with timing bounds, as
// reported by the external execution engine.
type RawSuite struct {
	FilePath  string    `json:"filePath"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Cases     []RawCase `json:"cases"`
}

// RawCoverage carries optional coverage totals from the execution engine.
type RawCoverage struct {
	Statements float64 `json:"statements"`
	Branches   float64 `json:"branches"`
	Functions  float64 `json:"functions"`
	Lines      float64 `json:"lines"`
}

// RawRun is the complete output of one run of the external test execution
// engine. The aggregator never mutates it.
type RawRun struct {
	Suites   []RawSuite   `json:"suites"`
	Coverage *RawCoverage `json:"coverage,omitempty"`
}

// Validate rejects structurally invalid raw runs before aggregation.
// A nil suite list is valid (empty run); a suite without a file path or a
// case without a title is not.
func (r *RawRun) Validate() error {
	if r == nil {
		return fmt.Errorf("raw run cannot be nil")
	}
	for i, suite := range r.Suites {
		if suite.FilePath == "" {
			return fmt.Errorf("suite %d has no file path", i)
		}
		for j, c := range suite.Cases {
			if c.Title == "" {
				return fmt.Errorf("suite %s case %d has no title", suite.FilePath, j)
			}
			if c.Duration < 0 {
				return fmt.Errorf("suite %s case %q has negative duration", suite.FilePath, c.Title)
			}
		}
	}
	return nil
}
