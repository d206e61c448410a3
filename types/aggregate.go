package types

import "time"

// Category is the closed classification bucket assigned to each suite.
type Category string

const (
	CategoryUnit        Category = "unit"
	CategoryIntegration Category = "integration"
	CategoryEndToEnd    Category = "end-to-end"
	CategoryPerformance Category = "performance"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryUnit,
	CategoryIntegration,
	CategoryEndToEnd,
	CategoryPerformance,
}

// SuiteStatus is the derived status of a whole suite.
type SuiteStatus string

const (
	SuiteStatusPassed  SuiteStatus = "passed"
	SuiteStatusFailed  SuiteStatus = "failed"
	SuiteStatusSkipped SuiteStatus = "skipped"
)

// CaseData is a normalized test case inside the aggregate. Every CaseData
// belongs to exactly one SuiteData and inherits its suite's category.
type CaseData struct {
	Name        string        `json:"name"`
	FullName    string        `json:"fullName"`
	SuitePath   string        `json:"suitePath"`
	Category    Category      `json:"category"`
	Status      CaseStatus    `json:"status"`
	Duration    time.Duration `json:"duration"`
	FailureText string        `json:"failureText,omitempty"`
}

// SuiteData is a normalized suite inside the aggregate.
type SuiteData struct {
	FilePath  string        `json:"filePath"`
	Category  Category      `json:"category"`
	Status    SuiteStatus   `json:"status"`
	Duration  time.Duration `json:"duration"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Tests     []CaseData    `json:"tests"`
}

// SummaryStats holds running counters for a set of cases.
type SummaryStats struct {
	TotalTests    int           `json:"totalTests"`
	Passed        int           `json:"passed"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Todo          int           `json:"todo"`
	PassRate      float64       `json:"passRate"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// Record folds one case into the counters. FinishPassRate must be called
// once all cases have been recorded.
func (s *SummaryStats) Record(status CaseStatus, duration time.Duration) {
	s.TotalTests++
	s.ExecutionTime += duration
	switch status {
	case CaseStatusPassed:
		s.Passed++
	case CaseStatusFailed:
		s.Failed++
	case CaseStatusTodo:
		s.Todo++
	default:
		s.Skipped++
	}
}

// FinishPassRate computes the pass rate percentage. An empty set yields 0,
// never NaN.
func (s *SummaryStats) FinishPassRate() {
	if s.TotalTests == 0 {
		s.PassRate = 0
		return
	}
	s.PassRate = float64(s.Passed) / float64(s.TotalTests) * 100
}

// Summary extends SummaryStats with suite-level counts for the whole run.
type Summary struct {
	SummaryStats
	TotalSuites  int `json:"totalSuites"`
	PassedSuites int `json:"passedSuites"`
	FailedSuites int `json:"failedSuites"`
}

// CoverageData is the coverage roll-up carried from the raw run.
type CoverageData struct {
	Statements float64 `json:"statements"`
	Branches   float64 `json:"branches"`
	Functions  float64 `json:"functions"`
	Lines      float64 `json:"lines"`
	Available  bool    `json:"available"`
}

// PerformanceMetrics is derived from case durations during aggregation.
type PerformanceMetrics struct {
	AverageDuration time.Duration `json:"averageDuration"`
	P95Duration     time.Duration `json:"p95Duration"`
	MaxDuration     time.Duration `json:"maxDuration"`
	SlowestSuite    string        `json:"slowestSuite,omitempty"`
}

// BuildMetadata records where and when the aggregate was produced.
type BuildMetadata struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Hostname    string    `json:"hostname,omitempty"`
	Version     string    `json:"version,omitempty"`
	RunID       string    `json:"runId"`
}

// AggregatedTestData is the canonical output of the aggregator. It is
// created once per aggregation call and never mutated afterwards, so it is
// safe to share across concurrent render jobs without locking.
type AggregatedTestData struct {
	Summary            Summary                   `json:"summary"`
	SuiteResults       []SuiteData               `json:"suiteResults"`
	CategoryBreakdown  map[Category]SummaryStats `json:"categoryBreakdown"`
	CoverageData       CoverageData              `json:"coverageData"`
	PerformanceMetrics *PerformanceMetrics       `json:"performanceMetrics,omitempty"`
	BuildMetadata      BuildMetadata             `json:"buildMetadata"`
	FailedTests        []CaseData                `json:"failedTests"`
	SlowestTests       []CaseData                `json:"slowestTests"`
}
