package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncDispatch("default")
	pr.IncTaskFinished("default", "success")
	pr.ObserveTaskRuntime("default", 1500*time.Millisecond)
	pr.IncRequest("add", OutcomeSuccess)
	pr.ObserveRequestDuration("add", 2*time.Millisecond)
	pr.SetTasksByStatus(map[string]int{"Queued": 2, "Running": 1})

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"shq_task_dispatches_total",
		"shq_tasks_finished_total",
		"shq_task_runtime_seconds",
		"shq_requests_total",
		"shq_request_duration_seconds",
		"shq_tasks",
	} {
		assert.True(t, names[want], want)
	}
}

func TestPrometheusRecorder_TasksByStatusResets(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.SetTasksByStatus(map[string]int{"Queued": 2, "Running": 1})
	pr.SetTasksByStatus(map[string]int{"Done": 3})

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "shq_tasks" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, "Done", mf.GetMetric()[0].GetLabel()[0].GetValue())
		assert.InDelta(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue(), 0)
	}
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncDispatch("io")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `shq_task_dispatches_total{group="io"} 1`))
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncDispatch("default")
	r.SetTasksByStatus(nil)
}
