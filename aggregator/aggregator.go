// Package aggregator turns a raw test-execution run into the normalized
// aggregate consumed by the render pipeline. The transform is pure and
// synchronous: no I/O, no concurrency, deterministic for a given input.
package aggregator

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/types"
	"github.com/google/uuid"
)

// SlowestTestCount is the K for the top-K slowest test selection.
const SlowestTestCount = 10

// Aggregate builds an AggregatedTestData from a raw run. The only failure
// path is malformed input; a valid run always produces a complete
// aggregate. Summary and category counters are accumulated in a single
// pass over all cases.
func Aggregate(run *types.RawRun, version string) (*types.AggregatedTestData, error) {
	if err := run.Validate(); err != nil {
		return nil, err
	}

	data := &types.AggregatedTestData{
		SuiteResults:      make([]types.SuiteData, 0, len(run.Suites)),
		CategoryBreakdown: make(map[types.Category]types.SummaryStats, len(types.Categories)),
		FailedTests:       make([]types.CaseData, 0),
		SlowestTests:      make([]types.CaseData, 0, SlowestTestCount),
	}

	// Every category appears in the breakdown even when empty.
	for _, cat := range types.Categories {
		data.CategoryBreakdown[cat] = types.SummaryStats{}
	}

	var allCases []types.CaseData
	var slowestSuite string
	var slowestSuiteDuration time.Duration

	for _, rawSuite := range run.Suites {
		category := ClassifySuite(rawSuite.FilePath)
		suite := types.SuiteData{
			FilePath:  rawSuite.FilePath,
			Category:  category,
			StartTime: rawSuite.StartTime,
			EndTime:   rawSuite.EndTime,
			Tests:     make([]types.CaseData, 0, len(rawSuite.Cases)),
		}

		catStats := data.CategoryBreakdown[category]

		for _, rawCase := range rawSuite.Cases {
			status := types.NormalizeCaseStatus(rawCase.Status)
			c := types.CaseData{
				Name:        rawCase.Title,
				FullName:    fullCaseName(rawCase),
				SuitePath:   rawSuite.FilePath,
				Category:    category,
				Status:      status,
				Duration:    rawCase.Duration,
				FailureText: strings.Join(rawCase.FailureMessages, "\n"),
			}
			suite.Tests = append(suite.Tests, c)
			suite.Duration += c.Duration

			data.Summary.Record(status, c.Duration)
			catStats.Record(status, c.Duration)

			if status == types.CaseStatusFailed {
				data.FailedTests = append(data.FailedTests, c)
			}
			allCases = append(allCases, c)
		}

		data.CategoryBreakdown[category] = catStats

		suite.Status = deriveSuiteStatus(suite.Tests)
		data.Summary.TotalSuites++
		if suite.Status == types.SuiteStatusFailed {
			data.Summary.FailedSuites++
		} else if suite.Status == types.SuiteStatusPassed {
			data.Summary.PassedSuites++
		}
		if suite.Duration > slowestSuiteDuration {
			slowestSuiteDuration = suite.Duration
			slowestSuite = suite.FilePath
		}

		data.SuiteResults = append(data.SuiteResults, suite)
	}

	data.Summary.FinishPassRate()
	for cat, stats := range data.CategoryBreakdown {
		stats.FinishPassRate()
		data.CategoryBreakdown[cat] = stats
	}

	data.SlowestTests = selectSlowest(allCases, SlowestTestCount)
	data.PerformanceMetrics = derivePerformance(allCases, slowestSuite)
	data.CoverageData = deriveCoverage(run.Coverage)
	data.BuildMetadata = buildMetadata(version)

	return data, nil
}

// deriveSuiteStatus collapses case statuses into a suite status: any
// failing case fails the suite; else any passing case passes it; else any
// skipped case marks it skipped. An empty suite defaults to passed, matching
// the behavior of the upstream execution engine.
func deriveSuiteStatus(cases []types.CaseData) types.SuiteStatus {
	var anyPassed, anySkipped bool
	for _, c := range cases {
		switch c.Status {
		case types.CaseStatusFailed:
			return types.SuiteStatusFailed
		case types.CaseStatusPassed:
			anyPassed = true
		default:
			anySkipped = true
		}
	}
	if anyPassed {
		return types.SuiteStatusPassed
	}
	if anySkipped {
		return types.SuiteStatusSkipped
	}
	return types.SuiteStatusPassed
}

// selectSlowest returns the top-k cases by duration, descending. Ties keep
// input order so the selection is deterministic.
func selectSlowest(cases []types.CaseData, k int) []types.CaseData {
	sorted := make([]types.CaseData, len(cases))
	copy(sorted, cases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func derivePerformance(cases []types.CaseData, slowestSuite string) *types.PerformanceMetrics {
	if len(cases) == 0 {
		return nil
	}

	durations := make([]time.Duration, len(cases))
	var total time.Duration
	for i, c := range cases {
		durations[i] = c.Duration
		total += c.Duration
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	p95Index := (len(durations) * 95) / 100
	if p95Index >= len(durations) {
		p95Index = len(durations) - 1
	}

	return &types.PerformanceMetrics{
		AverageDuration: total / time.Duration(len(cases)),
		P95Duration:     durations[p95Index],
		MaxDuration:     durations[len(durations)-1],
		SlowestSuite:    slowestSuite,
	}
}

func deriveCoverage(raw *types.RawCoverage) types.CoverageData {
	if raw == nil {
		return types.CoverageData{}
	}
	return types.CoverageData{
		Statements: raw.Statements,
		Branches:   raw.Branches,
		Functions:  raw.Functions,
		Lines:      raw.Lines,
		Available:  true,
	}
}

func buildMetadata(version string) types.BuildMetadata {
	hostname, _ := os.Hostname()
	return types.BuildMetadata{
		GeneratedAt: time.Now().UTC(),
		Hostname:    hostname,
		Version:     version,
		RunID:       uuid.New().String(),
	}
}

func fullCaseName(c types.RawCase) string {
	if len(c.AncestorTitles) == 0 {
		return c.Title
	}
	return strings.Join(append(append([]string{}, c.AncestorTitles...), c.Title), " > ")
}
