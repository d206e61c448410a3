package reporter

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// printGenerationTable prints the per-artifact outcome of a generation to
// the console.
func (r *reporter) printGenerationTable(result *GenerationResult) {
	r.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Report Generation Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Format", "File", "Size", "Tests", "Duration", "Status", "Error",
	})

	// Set column configurations for better readability
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "File", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Size", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	totalTests := 0
	if result.Data != nil {
		totalTests = result.Data.Summary.TotalTests
	}

	var totalBytes int64
	for _, a := range result.Artifacts {
		t.AppendRow(table.Row{
			string(a.Format),
			displayPath(a.Path),
			formatBytes(a.SizeBytes),
			totalTests,
			formatDuration(a.Duration),
			getResultString(a.Err == nil),
			extractKeyErrorMessage(a.Err),
		})
		totalBytes += a.SizeBytes
	}

	if result.FlushErr != nil {
		t.AppendRow(table.Row{
			"-", "(flush)", "-", "-", "-", getResultString(false), extractKeyErrorMessage(result.FlushErr),
		})
	}

	// Update the table style setting based on result status
	if result.FailedCount() == 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if result.FailedCount() < len(result.Artifacts) {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatBytes(totalBytes),
		totalTests,
		formatDuration(result.Duration),
		getResultString(result.FailedCount() == 0),
		"",
	})

	t.Render()
}

func displayPath(path string) string {
	if path == "" {
		return "-"
	}
	return path
}

// extractKeyErrorMessage extracts the most pertinent part of the error message for display
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	if idx := strings.Index(errStr, "\n"); idx != -1 {
		errStr = errStr[:idx]
	}
	if len(errStr) > 80 {
		return errStr[:70] + "..."
	}
	return errStr
}

// getResultString returns a string representing an artifact outcome
func getResultString(ok bool) string {
	if ok {
		return "✓ ok"
	}
	return "✗ fail"
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatBytes(n int64) string {
	switch {
	case n <= 0:
		return "-"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	}
}
