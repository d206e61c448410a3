package render

import (
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// MarkdownRenderer produces the structured text report.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Format() types.Format { return types.FormatMarkdown }

func (r *MarkdownRenderer) Render(data *types.AggregatedTestData, cfg types.FormatConfig) (string, error) {
	mdCfg, ok := cfg.(types.MarkdownConfig)
	if !ok {
		return "", fmt.Errorf("markdown renderer received %T config", cfg)
	}

	var b strings.Builder
	b.WriteString("# Test Results\n\n")
	fmt.Fprintf(&b, "Run `%s`", data.BuildMetadata.RunID)
	if !data.BuildMetadata.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, " · generated %s", data.BuildMetadata.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	}
	b.WriteString("\n\n")

	r.writeSummary(&b, data, mdCfg)
	r.writeCategories(&b, data)
	if data.CoverageData.Available {
		r.writeCoverage(&b, data)
	}
	if len(data.FailedTests) > 0 {
		r.writeFailed(&b, data, mdCfg)
	}
	if mdCfg.IncludeSlowest && len(data.SlowestTests) > 0 {
		r.writeSlowest(&b, data)
	}
	r.writeSuites(&b, data, mdCfg)

	return b.String(), nil
}

func (r *MarkdownRenderer) writeSummary(b *strings.Builder, data *types.AggregatedTestData, cfg types.MarkdownConfig) {
	b.WriteString("## Summary\n\n")
	b.WriteString("| Total | Passed | Failed | Skipped | Todo | Pass rate | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	fmt.Fprintf(b, "| %d | %d | %d | %d | %d | %.1f%% | %s |\n\n",
		data.Summary.TotalTests,
		data.Summary.Passed,
		data.Summary.Failed,
		data.Summary.Skipped,
		data.Summary.Todo,
		data.Summary.PassRate,
		formatDuration(data.Summary.ExecutionTime))

	if cfg.IncludeEmoji {
		if data.Summary.Failed > 0 {
			fmt.Fprintf(b, "❌ %d of %d tests failed across %d suites.\n\n",
				data.Summary.Failed, data.Summary.TotalTests, data.Summary.FailedSuites)
		} else {
			fmt.Fprintf(b, "✅ All %d tests passed across %d suites.\n\n",
				data.Summary.TotalTests, data.Summary.TotalSuites)
		}
	}
}

func (r *MarkdownRenderer) writeCategories(b *strings.Builder, data *types.AggregatedTestData) {
	b.WriteString("## Categories\n\n")
	b.WriteString("| Category | Total | Passed | Failed | Skipped | Pass rate |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, cat := range types.Categories {
		stats := data.CategoryBreakdown[cat]
		fmt.Fprintf(b, "| %s | %d | %d | %d | %d | %.1f%% |\n",
			cat, stats.TotalTests, stats.Passed, stats.Failed, stats.Skipped, stats.PassRate)
	}
	b.WriteString("\n")
}

func (r *MarkdownRenderer) writeCoverage(b *strings.Builder, data *types.AggregatedTestData) {
	b.WriteString("## Coverage\n\n")
	b.WriteString("| Statements | Branches | Functions | Lines |\n")
	b.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(b, "| %.1f%% | %.1f%% | %.1f%% | %.1f%% |\n\n",
		data.CoverageData.Statements,
		data.CoverageData.Branches,
		data.CoverageData.Functions,
		data.CoverageData.Lines)
}

func (r *MarkdownRenderer) writeFailed(b *strings.Builder, data *types.AggregatedTestData, cfg types.MarkdownConfig) {
	b.WriteString("## Failed tests\n\n")
	for _, c := range data.FailedTests {
		fmt.Fprintf(b, "### %s\n\n", c.FullName)
		fmt.Fprintf(b, "Suite: `%s` · %s\n\n", c.SuitePath, formatDuration(c.Duration))
		if c.FailureText != "" {
			fmt.Fprintf(b, "```\n%s\n```\n\n", cleanFailureText(c.FailureText))
		}
	}
}

func (r *MarkdownRenderer) writeSlowest(b *strings.Builder, data *types.AggregatedTestData) {
	b.WriteString("## Slowest tests\n\n")
	b.WriteString("| Test | Suite | Duration |\n")
	b.WriteString("|---|---|---|\n")
	for _, c := range data.SlowestTests {
		fmt.Fprintf(b, "| %s | %s | %s |\n", c.FullName, c.SuitePath, formatDuration(c.Duration))
	}
	b.WriteString("\n")
}

func (r *MarkdownRenderer) writeSuites(b *strings.Builder, data *types.AggregatedTestData, cfg types.MarkdownConfig) {
	b.WriteString("## Suites\n\n")
	for _, suite := range data.SuiteResults {
		marker := ""
		if cfg.IncludeEmoji {
			switch suite.Status {
			case types.SuiteStatusFailed:
				marker = "❌ "
			case types.SuiteStatusSkipped:
				marker = "⏭️ "
			default:
				marker = "✅ "
			}
		}
		fmt.Fprintf(b, "### %s%s\n\n", marker, suite.FilePath)
		fmt.Fprintf(b, "%s · %d tests · %s\n\n", suite.Status, len(suite.Tests), formatDuration(suite.Duration))
		for _, c := range suite.Tests {
			fmt.Fprintf(b, "- %s %s (%s)\n", statusSymbol(c.Status), c.FullName, formatDuration(c.Duration))
		}
		b.WriteString("\n")
	}
}
