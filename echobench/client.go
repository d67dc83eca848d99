package main

import (
	"context"
	"log"
	"net"
	"sync/atomic"
	"time"
)

// stopSignal is raised once by the driver and polled by every connection.
type stopSignal struct {
	flag atomic.Bool
}

// raise sets the signal and reports whether this call was the one that set it.
func (s *stopSignal) raise() bool {
	return s.flag.CompareAndSwap(false, true)
}

func (s *stopSignal) raised() bool {
	return s.flag.Load()
}

// runBenchmark drives one pass: it spawns app.connections workers, waits for
// app.duration or ctx, stops them and sums their counts.
func runBenchmark(ctx context.Context, app *config, acc *account) result {
	stop := &stopSignal{}
	counts := make(chan count, app.connections)

	dialer := &net.Dialer{Timeout: app.dialTimeout}
	if app.localAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", app.localAddr)
		if err != nil {
			log.Printf("runBenchmark: error while resolving local address=%s: %v", app.localAddr, err)
		} else {
			dialer.LocalAddr = addr
		}
	}

	start := time.Now()
	acc.start(start)

	for i := 0; i < app.connections; i++ {
		go runWorker(i, app, dialer, stop, acc, counts)
	}

	wait(ctx, app, acc)

	stop.raise()
	if acc.active.Load() == 0 {
		log.Printf("runBenchmark: all connections already finished before stop")
	}

	res := result{
		address:     app.address,
		length:      app.length,
		connections: app.connections,
		duration:    app.duration,
	}
	for i := 0; i < app.connections; i++ {
		res.total.add(<-counts)
		res.reports++
	}
	res.elapsed = time.Since(start)

	return res
}

// wait blocks for the run duration, logging progress every report interval.
func wait(ctx context.Context, app *config, acc *account) {
	timer := time.NewTimer(app.duration)
	defer timer.Stop()

	var tick <-chan time.Time
	if app.reportInterval > 0 {
		ticker := time.NewTicker(app.reportInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-timer.C:
			return
		case <-ctx.Done():
			log.Printf("runBenchmark: interrupted: %v", ctx.Err())
			return
		case now := <-tick:
			acc.update(now)
		}
	}
}

// runWorker owns one connection and always sends exactly one count.
func runWorker(id int, app *config, dialer *net.Dialer, stop *stopSignal, acc *account, counts chan<- count) {
	var c count
	defer func() { counts <- c }()

	conn, err := dialer.Dial("tcp", app.address)
	if err != nil {
		if app.failFast {
			log.Fatalf("runWorker %d/%d: error while dial host %s: %v", id, app.connections, app.address, err)
		}
		log.Printf("runWorker %d/%d: error while dial host %s: %v", id, app.connections, app.address, err)
		return
	}
	defer conn.Close()

	acc.connected()
	defer acc.disconnected()

	c = pingPong(conn, app.length, stop, acc)
}

// pingPong writes one message and reads one echo of the same length until
// stop is raised or the connection misbehaves.
func pingPong(conn net.Conn, length int, stop *stopSignal, acc *account) count {
	var c count
	out := newMessage(length)
	in := make([]byte, length)

	for {
		if stop.raised() {
			break
		}

		if n, err := conn.Write(out); err != nil || n != length {
			log.Printf("pingPong %v: write error: n=%d: %v", conn.RemoteAddr(), n, err)
			break
		}
		c.requests++
		acc.request()

		if stop.raised() {
			break
		}

		n, err := conn.Read(in)
		if err != nil {
			log.Printf("pingPong %v: read error: %v", conn.RemoteAddr(), err)
			break
		}
		if n != length {
			log.Printf("pingPong %v: read error: length=%d", conn.RemoteAddr(), n)
			break
		}
		c.responses++
		acc.response()
	}

	return c
}
