package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/previewkit/kiln/adapters/metrics"
	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/domain/build"
)

// fakeSource feeds a scripted event stream to the observer.
type fakeSource struct {
	events chan app.Event
}

func (f *fakeSource) Subscribe() (<-chan app.Event, func()) {
	return f.events, func() { close(f.events) }
}

// gatherValue sums a family's counter/gauge values or histogram sample
// counts. A vec with no series yet is absent from Gather and reads as 0.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestObserve_RecordsBuildLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	src := &fakeSource{events: make(chan app.Event)}

	stop := metrics.Observe(src, m)

	src.events <- app.Event{Kind: app.EventStarted, JobID: "a", State: app.StateBuilding}
	src.events <- app.Event{Kind: app.EventStatus, JobID: "a", Phase: "transpiling", State: app.StateBuilding}
	src.events <- app.Event{
		Kind:  app.EventDone,
		JobID: "a",
		State: app.StateIdle,
		Result: &build.Result{
			JobID: "a",
			Stats: build.Stats{
				Modules:     3,
				Duration:    5 * time.Millisecond,
				Resolutions: build.ResolutionStats{Virtual: 3, Physical: 1, Shim: 1, Misses: 1},
			},
		},
	}
	stop()

	if got := gatherValue(t, reg, "kiln_builds_total"); got != 1 {
		t.Errorf("kiln_builds_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "kiln_build_duration_seconds"); got != 1 {
		t.Errorf("kiln_build_duration_seconds samples = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "kiln_build_modules"); got != 1 {
		t.Errorf("kiln_build_modules samples = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "kiln_resolutions_total"); got != 5 {
		t.Errorf("kiln_resolutions_total = %v, want 5", got)
	}
	if got := gatherValue(t, reg, "kiln_resolution_misses_total"); got != 1 {
		t.Errorf("kiln_resolution_misses_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "kiln_queue_state"); got != metrics.StateIdle {
		t.Errorf("kiln_queue_state = %v, want %d", got, metrics.StateIdle)
	}
}

func TestObserve_FailedBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	src := &fakeSource{events: make(chan app.Event)}

	stop := metrics.Observe(src, m)

	src.events <- app.Event{Kind: app.EventStarted, JobID: "a", State: app.StateBuilding}
	src.events <- app.Event{
		Kind:  app.EventDone,
		JobID: "a",
		State: app.StateIdle,
		Err:   build.Errf("Build failed", "syntax error"),
	}
	stop()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "kiln_builds_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() != "failure" {
					t.Errorf("outcome = %v, want failure", l.GetValue())
				}
			}
		}
	}
	// Failure durations are still observed, timed from the start event.
	if got := gatherValue(t, reg, "kiln_build_duration_seconds"); got != 1 {
		t.Errorf("kiln_build_duration_seconds samples = %v, want 1", got)
	}
}

func TestObserve_SupersededBuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	src := &fakeSource{events: make(chan app.Event)}

	stop := metrics.Observe(src, m)

	src.events <- app.Event{Kind: app.EventStarted, JobID: "a", State: app.StateBuilding}
	src.events <- app.Event{Kind: app.EventQueued, JobID: "b", State: app.StateBuildingPending}
	src.events <- app.Event{Kind: app.EventSuperseded, JobID: "a", State: app.StateBuilding}
	stop()

	if got := gatherValue(t, reg, "kiln_builds_superseded_total"); got != 1 {
		t.Errorf("kiln_builds_superseded_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "kiln_builds_total"); got != 0 {
		t.Errorf("kiln_builds_total = %v, want 0", got)
	}
}

func TestObserve_StopUnsubscribes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	src := &fakeSource{events: make(chan app.Event, 1)}

	stop := metrics.Observe(src, m)

	// stop blocks until the observer goroutine drains and exits.
	returned := make(chan struct{})
	go func() {
		stop()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}
