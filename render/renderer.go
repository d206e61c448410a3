// Package render holds the per-format report renderers. Every renderer is
// a pure formatter: it receives the shared read-only aggregate plus its
// format config and returns textual content. All renderers are safe to
// call concurrently on the same aggregate.
package render

import (
	"fmt"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-reporter/artifacts"
	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// Renderer produces one output format's textual artifact.
type Renderer interface {
	Format() types.Format
	Render(data *types.AggregatedTestData, cfg types.FormatConfig) (string, error)
}

// NewRenderer returns the renderer for a format. The artifact cache is
// shared across renderers and owned by the caller.
func NewRenderer(format types.Format, cache *artifacts.Cache) (Renderer, error) {
	switch format {
	case types.FormatHTML:
		return NewHTMLRenderer(cache), nil
	case types.FormatMarkdown:
		return &MarkdownRenderer{}, nil
	case types.FormatJSON:
		return &JSONRenderer{}, nil
	default:
		return nil, fmt.Errorf("no renderer for format %q", format)
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// cleanFailureText strips ANSI escape codes that test runners embed in
// failure output.
func cleanFailureText(s string) string {
	return stripansi.Strip(s)
}

func statusSymbol(status types.CaseStatus) string {
	switch status {
	case types.CaseStatusPassed:
		return "✓"
	case types.CaseStatusFailed:
		return "✗"
	case types.CaseStatusTodo:
		return "…"
	default:
		return "-"
	}
}
