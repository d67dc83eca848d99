package main

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type report struct {
	Address         string  `json:"address"`
	Connections     int     `json:"connections"`
	Length          int     `json:"length"`
	Duration        float64 `json:"duration_sec"`
	Elapsed         float64 `json:"elapsed_sec"`
	RequestsPerSec  uint64  `json:"requests_per_sec"`
	ResponsesPerSec uint64  `json:"responses_per_sec"`
	Requests        uint64  `json:"requests"`
	Responses       uint64  `json:"responses"`
	Reported        int     `json:"reported_connections"`
}

// newReport derives per second rates over the configured duration.
func newReport(res result) report {
	r := report{
		Address:     res.address,
		Connections: res.connections,
		Length:      res.length,
		Duration:    res.duration.Seconds(),
		Elapsed:     res.elapsed.Seconds(),
		Requests:    res.total.requests,
		Responses:   res.total.responses,
		Reported:    res.reports,
	}
	if sec := res.duration.Seconds(); sec > 0 {
		r.RequestsPerSec = uint64(float64(res.total.requests) / sec)
		r.ResponsesPerSec = uint64(float64(res.total.responses) / sec)
	}
	return r
}

func (r report) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Benchmarking: %s\n"+
		"%d clients, running %d bytes, %g sec.\n"+
		"\n"+
		"Speed: %d request/sec, %d response/sec\n"+
		"Requests: %d\n"+
		"Responses: %d\n",
		r.Address,
		r.Connections, r.Length, r.Duration,
		r.RequestsPerSec, r.ResponsesPerSec,
		r.Requests,
		r.Responses)
	return err
}

func (r report) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
