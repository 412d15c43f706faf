// ABOUTME: Tests for Prometheus metric registration and recording
// ABOUTME: Each test uses its own registry

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue reads a counter from the registry by name and label values
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNewMetricsRegistersOnOwnRegistry(t *testing.T) {
	// two instances must not collide on separate registries
	NewMetrics(prometheus.NewRegistry())
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGrpcRequest("/cmsengine.v1.Engine/ResolveSlot", "OK", time.Millisecond)
	got := counterValue(t, reg, "cmsengine_grpc_requests_total", map[string]string{"method": "/cmsengine.v1.Engine/ResolveSlot", "status": "OK"})
	if got != 1 {
		t.Errorf("Expected 1 request, got %v", got)
	}
}

func TestRecordResolution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordResolution(true, 2, 3, 1, nil)
	m.RecordResolution(false, 1, 2, 0, nil)
	m.RecordResolution(true, 0, 0, 0, errors.New("cycle"))

	if got := counterValue(t, reg, "cmsengine_slot_resolutions_total", map[string]string{"mode": "merge", "status": "ok"}); got != 1 {
		t.Errorf("Expected 1 merge resolution, got %v", got)
	}
	if got := counterValue(t, reg, "cmsengine_slot_resolutions_total", map[string]string{"mode": "merge", "status": "error"}); got != 1 {
		t.Errorf("Expected 1 failed resolution, got %v", got)
	}
	if got := counterValue(t, reg, "cmsengine_widgets_rendered_total", nil); got != 5 {
		t.Errorf("Expected 5 rendered widgets, got %v", got)
	}
	if got := counterValue(t, reg, "cmsengine_widgets_hidden_total", nil); got != 1 {
		t.Errorf("Expected 1 hidden widget, got %v", got)
	}
}

func TestRecordDbOperationAndVersionWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDbOperation("apply_versions", time.Millisecond, nil)
	m.RecordDbOperation("apply_versions", time.Millisecond, errors.New("busy"))
	m.RecordVersionWrite("publish", nil)

	if got := counterValue(t, reg, "cmsengine_db_operations_total", map[string]string{"operation": "apply_versions", "status": "error"}); got != 1 {
		t.Errorf("Expected 1 failed db operation, got %v", got)
	}
	if got := counterValue(t, reg, "cmsengine_version_writes_total", map[string]string{"operation": "publish", "status": "ok"}); got != 1 {
		t.Errorf("Expected 1 publish, got %v", got)
	}
}
