package aggregator

import (
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// pathPattern maps an explicit glob pattern onto a category. Patterns are
// tried in order before the substring fallback.
type pathPattern struct {
	pattern  string
	category types.Category
}

// defaultPathPatterns is the ordered explicit pattern list. The first match
// wins, so the more specific patterns come first.
var defaultPathPatterns = []pathPattern{
	{"*_bench_test.*", types.CategoryPerformance},
	{"*.perf.test.*", types.CategoryPerformance},
	{"*.e2e.test.*", types.CategoryEndToEnd},
	{"*.int.test.*", types.CategoryIntegration},
	{"*.integration.test.*", types.CategoryIntegration},
	{"*.unit.test.*", types.CategoryUnit},
}

// ClassifySuite assigns a category to a suite file path. Explicit patterns
// are checked against the path basename first, then a substring heuristic
// over the whole path, defaulting to unit.
func ClassifySuite(path string) types.Category {
	base := filepath.Base(path)
	for _, pp := range defaultPathPatterns {
		if ok, err := filepath.Match(pp.pattern, base); err == nil && ok {
			return pp.category
		}
	}

	lower := strings.ToLower(path)
	switch {
	case containsSegment(lower, "performance") || containsSegment(lower, "perf"):
		return types.CategoryPerformance
	case containsSegment(lower, "e2e") || strings.Contains(lower, "end-to-end"):
		return types.CategoryEndToEnd
	case containsSegment(lower, "integration") || containsSegment(lower, "int"):
		return types.CategoryIntegration
	default:
		return types.CategoryUnit
	}
}

// containsSegment reports whether word appears in the path as a standalone
// segment or token, so "int" matches "tests/int/db_test.js" but not
// "printer_test.js".
func containsSegment(path, word string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\' || r == '.' || r == '_' || r == '-'
	}) {
		if seg == word {
			return true
		}
	}
	return false
}
