package mockmc

import "expvar"

// metrics record harness activity counters, shared by all clients and
// servers in the process.
type metricSet struct {
	callOut      expvar.Int // number of client calls initiated
	callOutErr   expvar.Int // number of client calls reporting an error
	callTimeout  expvar.Int // number of client calls that timed out
	requestsIn   expvar.Int // number of requests served by engines
	repliesHeld  expvar.Int // number of replies deferred to a held queue
	heldReleased expvar.Int // number of held replies released
	shutdowns    expvar.Int // number of shutdown keys observed
	sessions     expvar.Int // number of sessions accepted

	emap *expvar.Map
}

var metrics = newMetricSet()

func newMetricSet() *metricSet {
	m := &metricSet{emap: new(expvar.Map)}
	m.emap.Set("calls_out", &m.callOut)
	m.emap.Set("calls_out_failed", &m.callOutErr)
	m.emap.Set("calls_timed_out", &m.callTimeout)
	m.emap.Set("requests_served", &m.requestsIn)
	m.emap.Set("replies_held", &m.repliesHeld)
	m.emap.Set("replies_released", &m.heldReleased)
	m.emap.Set("shutdowns_signaled", &m.shutdowns)
	m.emap.Set("sessions_accepted", &m.sessions)
	return m
}

// Metrics returns the shared metrics map for the harness. It is safe for
// the caller to add additional metrics to the map.
func Metrics() *expvar.Map { return metrics.emap }
