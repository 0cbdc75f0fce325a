// Package metrics provides the daemon's observability hooks.
//
// Components receive a Recorder through dependency injection. NoopRecorder is
// the default and does nothing, so callers never check for nil. When metrics
// are enabled in the configuration the daemon swaps in a PrometheusRecorder
// and serves its registry through HTTPHandler.
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	sched := scheduler.New(store, interval, recorder)
package metrics
