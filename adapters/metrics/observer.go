package metrics

import (
	"time"

	"github.com/previewkit/kiln/app"
)

// EventSource is the slice of the build orchestrator the observer needs.
type EventSource interface {
	Subscribe() (<-chan app.Event, func())
}

// Observe subscribes to orchestrator events and records them until the
// returned stop func is called. Failed builds carry no result, so durations
// are timed here from the start event rather than read off the build stats.
func Observe(src EventSource, c *Collector) (stop func()) {
	events, cancel := src.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		started := make(map[string]time.Time)
		for ev := range events {
			c.QueueState.Set(float64(stateValue(ev.State)))

			switch ev.Kind {
			case app.EventStarted:
				started[ev.JobID] = time.Now()
			case app.EventSuperseded:
				c.BuildsSuperseded.Inc()
				delete(started, ev.JobID)
			case app.EventDone:
				outcome := "success"
				if ev.Err != nil {
					outcome = "failure"
				}
				c.BuildsTotal.WithLabelValues(outcome).Inc()
				if t, ok := started[ev.JobID]; ok {
					c.BuildDuration.WithLabelValues(outcome).Observe(time.Since(t).Seconds())
					delete(started, ev.JobID)
				}
				if ev.Result != nil {
					c.BuildModules.Observe(float64(ev.Result.Stats.Modules))
					rs := ev.Result.Stats.Resolutions
					c.Resolutions.WithLabelValues("virtual").Add(float64(rs.Virtual))
					c.Resolutions.WithLabelValues("physical").Add(float64(rs.Physical))
					c.Resolutions.WithLabelValues("shim").Add(float64(rs.Shim))
					c.Resolutions.WithLabelValues("external").Add(float64(rs.External))
					c.ResolutionMiss.Add(float64(rs.Misses))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// stateValue maps orchestrator states onto the queue gauge values.
func stateValue(s app.State) int {
	switch s {
	case app.StateBuilding:
		return StateBuilding
	case app.StateBuildingPending:
		return StateBuildingPending
	default:
		return StateIdle
	}
}
