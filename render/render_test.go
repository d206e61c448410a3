package render

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/aggregator"
	"github.com/ethereum-optimism/infra/op-reporter/artifacts"
	"github.com/ethereum-optimism/infra/op-reporter/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAggregate(t *testing.T) *types.AggregatedTestData {
	t.Helper()
	run := &types.RawRun{
		Suites: []types.RawSuite{
			{
				FilePath: "tests/unit/parser.test.ts",
				Cases: []types.RawCase{
					{Title: "parses empty input", Status: "passed", Duration: 12 * time.Millisecond},
					{Title: "rejects garbage", Status: "failed", Duration: 40 * time.Millisecond,
						FailureMessages: []string{"\x1b[31mexpected token\x1b[0m"}},
				},
			},
			{
				FilePath: "tests/e2e/checkout.e2e.test.ts",
				Cases: []types.RawCase{
					{Title: "completes checkout", Status: "passed", Duration: 2 * time.Second},
					{Title: "legacy flow", Status: "skipped"},
				},
			},
		},
		Coverage: &types.RawCoverage{Statements: 81.5, Branches: 70.2, Functions: 88.0, Lines: 80.9},
	}
	data, err := aggregator.Aggregate(run, "v0.1.0")
	require.NoError(t, err)
	return data
}

func newHTMLTestRenderer(t *testing.T) *HTMLRenderer {
	t.Helper()
	cache := artifacts.NewCache(artifacts.Config{SweepInterval: time.Hour})
	t.Cleanup(cache.Close)
	return NewHTMLRenderer(cache)
}

func TestHTMLRenderer(t *testing.T) {
	data := sampleAggregate(t)
	r := newHTMLTestRenderer(t)

	out, err := r.Render(data, types.HTMLConfig{Title: "Nightly Run"})
	require.NoError(t, err)

	assert.Contains(t, out, "<title>Nightly Run</title>")
	assert.Contains(t, out, "rejects garbage")
	assert.Contains(t, out, "tests/e2e/checkout.e2e.test.ts")
	assert.NotContains(t, out, "\x1b[31m", "ANSI escapes are stripped from failure text")
	assert.Contains(t, out, "50.0%", "pass rate rendered")
}

func TestHTMLRenderer_TemplateCompiledOnce(t *testing.T) {
	data := sampleAggregate(t)
	cache := artifacts.NewCache(artifacts.Config{SweepInterval: time.Hour})
	t.Cleanup(cache.Close)
	r := NewHTMLRenderer(cache)

	_, err := r.Render(data, types.HTMLConfig{})
	require.NoError(t, err)
	_, err = r.Render(data, types.HTMLConfig{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), cache.UseCount("html:"+htmlTemplateName))
}

func TestMarkdownRenderer(t *testing.T) {
	data := sampleAggregate(t)
	r := &MarkdownRenderer{}

	out, err := r.Render(data, types.MarkdownConfig{IncludeSlowest: true, IncludeEmoji: true})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "# Test Results"))
	assert.Contains(t, out, "## Categories")
	assert.Contains(t, out, "## Failed tests")
	assert.Contains(t, out, "## Slowest tests")
	assert.Contains(t, out, "expected token")
	assert.NotContains(t, out, "\x1b[31m")
	assert.Contains(t, out, "❌")
}

func TestMarkdownRenderer_NoSlowestSection(t *testing.T) {
	data := sampleAggregate(t)
	r := &MarkdownRenderer{}

	out, err := r.Render(data, types.MarkdownConfig{IncludeSlowest: false})
	require.NoError(t, err)
	assert.NotContains(t, out, "## Slowest tests")
}

func TestJSONRenderer_RoundTrips(t *testing.T) {
	data := sampleAggregate(t)
	r := &JSONRenderer{}

	out, err := r.Render(data, types.JSONConfig{Indent: true})
	require.NoError(t, err)

	var decoded types.AggregatedTestData
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, data.Summary.TotalTests, decoded.Summary.TotalTests)
	assert.Len(t, decoded.SuiteResults, 2)
}

func TestRenderers_ConfigTypeMismatch(t *testing.T) {
	data := sampleAggregate(t)

	_, err := (&JSONRenderer{}).Render(data, types.HTMLConfig{})
	require.Error(t, err)
	_, err = (&MarkdownRenderer{}).Render(data, types.JSONConfig{})
	require.Error(t, err)
	_, err = newHTMLTestRenderer(t).Render(data, types.MarkdownConfig{})
	require.Error(t, err)
}

func TestNewRenderer_ClosedFormatSet(t *testing.T) {
	cache := artifacts.NewCache(artifacts.Config{SweepInterval: time.Hour})
	t.Cleanup(cache.Close)

	for _, format := range types.Formats {
		r, err := NewRenderer(format, cache)
		require.NoError(t, err)
		assert.Equal(t, format, r.Format())
	}

	_, err := NewRenderer(types.Format("pdf"), cache)
	require.Error(t, err)
}

func TestRenderers_ConcurrentOnSharedAggregate(t *testing.T) {
	data := sampleAggregate(t)
	html := newHTMLTestRenderer(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := html.Render(data, types.HTMLConfig{})
			assert.NoError(t, err)
			_, err = (&MarkdownRenderer{}).Render(data, types.MarkdownConfig{})
			assert.NoError(t, err)
			_, err = (&JSONRenderer{}).Render(data, types.JSONConfig{Indent: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
