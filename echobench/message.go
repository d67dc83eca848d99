package main

import (
	"time"
)

const (
	defaultAddress     = "127.0.0.1:12345"
	defaultPort        = ":12345"
	defaultLength      = 512
	defaultDuration    = 60 * time.Second
	defaultConnections = 50
	defaultDialTimeout = 5 * time.Second

	terminator = '\n'
)

type config struct {
	address        string
	length         int           //byte
	connections    int           //number of parallel connections
	duration       time.Duration //total benchmark time
	reportInterval time.Duration //time between 2 progress reports, 0 disables
	dialTimeout    time.Duration
	localAddr      string
	failFast       bool //abort the process when a connection cannot be opened
	metricsAddr    string
	jsonOutput     bool
}

// count is the tally of one connection, handed to the driver once when the
// connection stops.
type count struct {
	requests  uint64
	responses uint64
}

func (c *count) add(o count) {
	c.requests += o.requests
	c.responses += o.responses
}

type result struct {
	address     string
	length      int
	connections int
	duration    time.Duration
	elapsed     time.Duration
	reports     int //number of counts received
	total       count
}

// newMessage returns the outbound block: zeroes ended by a line terminator.
func newMessage(length int) []byte {
	buf := make([]byte, length)
	buf[length-1] = terminator
	return buf
}
