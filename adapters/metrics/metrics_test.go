package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/previewkit/kiln/adapters/metrics"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}

	// Verify all metrics are initialized
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.RequestsInFlight == nil {
		t.Error("RequestsInFlight is nil")
	}
	if m.BuildsTotal == nil {
		t.Error("BuildsTotal is nil")
	}
	if m.BuildsSuperseded == nil {
		t.Error("BuildsSuperseded is nil")
	}
	if m.BuildDuration == nil {
		t.Error("BuildDuration is nil")
	}
	if m.BuildModules == nil {
		t.Error("BuildModules is nil")
	}
	if m.QueueState == nil {
		t.Error("QueueState is nil")
	}
	if m.Resolutions == nil {
		t.Error("Resolutions is nil")
	}
	if m.ResolutionMiss == nil {
		t.Error("ResolutionMiss is nil")
	}
	if m.ChannelMessages == nil {
		t.Error("ChannelMessages is nil")
	}
	if m.ActiveChannels == nil {
		t.Error("ActiveChannels is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestBuildsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	// Record some builds
	m.BuildsTotal.WithLabelValues("success").Inc()
	m.BuildsTotal.WithLabelValues("failure").Add(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "kiln_builds_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("kiln_builds_total metric not found")
	}
}

func TestBuildDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	// Record some durations
	m.BuildDuration.WithLabelValues("success").Observe(0.05)
	m.BuildDuration.WithLabelValues("success").Observe(0.1)
	m.BuildDuration.WithLabelValues("success").Observe(0.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "kiln_build_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("kiln_build_duration_seconds metric not found")
	}
}

func TestQueueState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	// Walk the orchestrator states
	m.QueueState.Set(metrics.StateBuilding)
	m.QueueState.Set(metrics.StateBuildingPending)
	m.QueueState.Set(metrics.StateIdle)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "kiln_queue_state" {
			found = true
			val := f.GetMetric()[0].GetGauge().GetValue()
			if val != metrics.StateIdle {
				t.Errorf("expected value %d, got %f", metrics.StateIdle, val)
			}
		}
	}
	if !found {
		t.Error("kiln_queue_state metric not found")
	}
}

func TestResolutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.Resolutions.WithLabelValues("virtual").Inc()
	m.Resolutions.WithLabelValues("physical").Inc()
	m.Resolutions.WithLabelValues("external").Inc()
	m.ResolutionMiss.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	foundResolutions := false
	foundMisses := false
	for _, f := range families {
		if f.GetName() == "kiln_resolutions_total" {
			foundResolutions = true
			if len(f.GetMetric()) != 3 {
				t.Errorf("expected 3 metric series, got %d", len(f.GetMetric()))
			}
		}
		if f.GetName() == "kiln_resolution_misses_total" {
			foundMisses = true
		}
	}
	if !foundResolutions {
		t.Error("kiln_resolutions_total metric not found")
	}
	if !foundMisses {
		t.Error("kiln_resolution_misses_total metric not found")
	}
}

func TestChannelMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ChannelMessages.WithLabelValues("in", "compile").Inc()
	m.ChannelMessages.WithLabelValues("out", "done").Inc()
	m.ChannelMessages.WithLabelValues("out", "status").Add(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "kiln_channel_messages_total" {
			found = true
			if len(f.GetMetric()) != 3 {
				t.Errorf("expected 3 metric series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("kiln_channel_messages_total metric not found")
	}
}

func TestConfigReloads(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ConfigReloads.Inc()
	m.ConfigLastReload.SetToCurrentTime()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	foundReloads := false
	foundLastReload := false
	for _, f := range families {
		if f.GetName() == "kiln_config_reloads_total" {
			foundReloads = true
		}
		if f.GetName() == "kiln_config_last_reload_timestamp" {
			foundLastReload = true
		}
	}
	if !foundReloads {
		t.Error("kiln_config_reloads_total metric not found")
	}
	if !foundLastReload {
		t.Error("kiln_config_last_reload_timestamp metric not found")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"fixed route", "/preview", "/preview"},
		{"files list", "/api/v1/files", "/api/v1/files"},
		{"file path collapsed", "/api/v1/files/src/components/App.tsx", "/api/v1/files/:path"},
		{"long unknown path truncated", "/" + strings.Repeat("x", 60), "/" + strings.Repeat("x", 49) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := metrics.NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestActiveChannels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	// Simulate channels registering and one leaving
	m.ActiveChannels.Inc()
	m.ActiveChannels.Inc()
	m.ActiveChannels.Dec()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "kiln_active_channels" {
			found = true
			if len(f.GetMetric()) != 1 {
				t.Errorf("expected 1 metric, got %d", len(f.GetMetric()))
			}
			// Value should be 1 (2 inc - 1 dec)
			val := f.GetMetric()[0].GetGauge().GetValue()
			if val != 1 {
				t.Errorf("expected value 1, got %f", val)
			}
		}
	}
	if !found {
		t.Error("kiln_active_channels metric not found")
	}
}
