package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type warningRecorder struct {
	mu       sync.Mutex
	warnings []ResourceWarning
}

func (r *warningRecorder) record(w ResourceWarning) {
	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	r.mu.Unlock()
}

func (r *warningRecorder) byResource() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, w := range r.warnings {
		counts[w.Resource]++
	}
	return counts
}

func newTestMonitor(rec *warningRecorder, memPct, cpuPct float64) *ResourceMonitor {
	m := NewResourceMonitor(MonitorConfig{
		Interval: 5 * time.Millisecond,
		OnWarn:   rec.record,
	})
	m.memPercent = func() (float64, error) { return memPct, nil }
	m.cpuPercent = func() (float64, error) { return cpuPct, nil }
	return m
}

func TestResourceMonitor_WarnsAboveThresholds(t *testing.T) {
	rec := &warningRecorder{}
	m := newTestMonitor(rec, 92.0, 95.0)

	stop := m.Start(context.Background())
	defer stop()

	require.Eventually(t, func() bool {
		counts := rec.byResource()
		return counts["memory"] > 0 && counts["cpu"] > 0
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, w := range rec.warnings {
		switch w.Resource {
		case "memory":
			assert.Equal(t, DefaultMemoryWarnPercent, w.Threshold)
			assert.Equal(t, 92.0, w.Percent)
		case "cpu":
			assert.Equal(t, DefaultCPUWarnPercent, w.Threshold)
			assert.Equal(t, 95.0, w.Percent)
		}
	}
}

func TestResourceMonitor_QuietBelowThresholds(t *testing.T) {
	rec := &warningRecorder{}
	m := newTestMonitor(rec, 40.0, 30.0)

	stop := m.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Empty(t, rec.byResource())
}

func TestResourceMonitor_StopsAfterLastHandle(t *testing.T) {
	rec := &warningRecorder{}
	m := newTestMonitor(rec, 99.0, 10.0)

	stopA := m.Start(context.Background())
	stopB := m.Start(context.Background())

	require.Eventually(t, func() bool {
		return rec.byResource()["memory"] > 0
	}, time.Second, 5*time.Millisecond)

	// Stopping one handle keeps the shared loop alive.
	stopA()
	before := rec.byResource()["memory"]
	require.Eventually(t, func() bool {
		return rec.byResource()["memory"] > before
	}, time.Second, 5*time.Millisecond)

	stopB()
	time.Sleep(20 * time.Millisecond)
	settled := rec.byResource()["memory"]
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, rec.byResource()["memory"], "no warnings after the last handle stops")

	// Stop handles are idempotent.
	stopA()
	stopB()
}
