package main

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const reportFormat = "%7s rate: %8d req/s %8d resp/s active: %d"

// account keeps live totals across all connections. Workers add to it as
// they go; the final result is built from their counts, not from here.
type account struct {
	requests  atomic.Uint64
	responses atomic.Uint64
	active    atomic.Int64

	// owned by the driver goroutine
	prevTime      time.Time
	prevRequests  uint64
	prevResponses uint64
}

func (a *account) start(now time.Time) {
	a.prevTime = now
	a.prevRequests = a.requests.Load()
	a.prevResponses = a.responses.Load()
}

func (a *account) request()  { a.requests.Add(1) }
func (a *account) response() { a.responses.Add(1) }

func (a *account) connected()    { a.active.Add(1) }
func (a *account) disconnected() { a.active.Add(-1) }

// update logs the request and response rates since the previous update.
func (a *account) update(now time.Time) {
	elapSec := now.Sub(a.prevTime).Seconds()
	if elapSec <= 0 {
		return
	}
	req := a.requests.Load()
	resp := a.responses.Load()

	rps := int64(float64(req-a.prevRequests) / elapSec)
	sps := int64(float64(resp-a.prevResponses) / elapSec)
	log.Printf(reportFormat, "report", rps, sps, a.active.Load())

	a.prevTime = now
	a.prevRequests = req
	a.prevResponses = resp
}

func (a *account) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "echobench_requests_total",
			Help: "Messages written to the target.",
		}, func() float64 { return float64(a.requests.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "echobench_responses_total",
			Help: "Full-length echoes read back from the target.",
		}, func() float64 { return float64(a.responses.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "echobench_active_connections",
			Help: "Connections currently running the write/read loop.",
		}, func() float64 { return float64(a.active.Load()) }),
	}
}
