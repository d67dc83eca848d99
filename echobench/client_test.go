package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestStopSignal(t *testing.T) {
	var s stopSignal
	if s.raised() {
		t.Fatal("new signal is raised")
	}
	if !s.raise() {
		t.Error("first raise should set the signal")
	}
	if s.raise() {
		t.Error("second raise should be a no-op")
	}
	if !s.raised() {
		t.Error("signal went back to false")
	}
}

// pipePeer runs peer on the far side of an in-memory connection and returns
// the count pingPong produced on the near side.
func pipePeer(t *testing.T, length int, stop *stopSignal, peer func(net.Conn)) count {
	t.Helper()
	near, far := net.Pipe()
	defer near.Close()
	defer far.Close()

	go peer(far)

	done := make(chan count, 1)
	go func() { done <- pingPong(near, length, stop, &account{}) }()

	select {
	case c := <-done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("pingPong did not return")
		return count{}
	}
}

func TestPingPongEchoThenClose(t *testing.T) {
	const rounds = 5
	c := pipePeer(t, 32, &stopSignal{}, func(conn net.Conn) {
		buf := make([]byte, 32)
		for i := 0; i < rounds; i++ {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			if buf[31] != '\n' {
				t.Errorf("message does not end with a line terminator: %q", buf)
			}
			conn.Write(buf)
		}
		conn.Close()
	})
	if c != (count{requests: rounds, responses: rounds}) {
		t.Errorf("count = %+v, wanted %d/%d", c, rounds, rounds)
	}
}

func TestPingPongPeerClosesImmediately(t *testing.T) {
	c := pipePeer(t, 64, &stopSignal{}, func(conn net.Conn) {
		conn.Close()
	})
	if c != (count{}) {
		t.Errorf("count = %+v, wanted zero", c)
	}
}

func TestPingPongShortEcho(t *testing.T) {
	c := pipePeer(t, 64, &stopSignal{}, func(conn net.Conn) {
		buf := make([]byte, 64)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write(buf[:63])
	})
	if c != (count{requests: 1, responses: 0}) {
		t.Errorf("count = %+v, wanted {1 0}", c)
	}
}

func TestPingPongSingleByte(t *testing.T) {
	c := pipePeer(t, 1, &stopSignal{}, func(conn net.Conn) {
		buf := make([]byte, 1)
		for i := 0; i < 3; i++ {
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			if buf[0] != '\n' {
				t.Errorf("single byte message = %q, wanted terminator", buf)
			}
			conn.Write(buf)
		}
		conn.Close()
	})
	if c != (count{requests: 3, responses: 3}) {
		t.Errorf("count = %+v, wanted {3 3}", c)
	}
}

func TestPingPongStoppedBeforeStart(t *testing.T) {
	stop := &stopSignal{}
	stop.raise()
	c := pipePeer(t, 8, stop, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	if c != (count{}) {
		t.Errorf("count = %+v, wanted zero", c)
	}
}

// raiseOnWrite raises stop as soon as a message has gone out.
type raiseOnWrite struct {
	net.Conn
	stop *stopSignal
}

func (c raiseOnWrite) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.stop.raise()
	return n, err
}

func TestPingPongStopMidCycle(t *testing.T) {
	near, far := net.Pipe()
	defer near.Close()
	defer far.Close()

	// the peer swallows requests and never answers
	go io.Copy(io.Discard, far)

	stop := &stopSignal{}
	done := make(chan count, 1)
	go func() { done <- pingPong(raiseOnWrite{near, stop}, 8, stop, &account{}) }()

	select {
	case c := <-done:
		if c != (count{requests: 1, responses: 0}) {
			t.Errorf("count = %+v, wanted {1 0}", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pingPong blocked in read after stop was raised")
	}
}

func startEcho(t *testing.T) *echoServer {
	t.Helper()
	srv, err := listenEcho("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.serve()
	t.Cleanup(func() { srv.close() })
	return srv
}

// startPeer accepts connections and hands each one to handle.
func startPeer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().String()
}

func testConfig(address string, connections int, duration time.Duration) *config {
	app := defaultConfig()
	app.address = address
	app.length = 64
	app.connections = connections
	app.duration = duration
	return &app
}

func checkResult(t *testing.T, res result, connections int) {
	t.Helper()
	if res.reports != connections {
		t.Errorf("received %d counts, wanted %d", res.reports, connections)
	}
	if res.total.requests < res.total.responses {
		t.Errorf("more responses than requests: %+v", res.total)
	}
	if res.total.requests-res.total.responses > uint64(connections) {
		t.Errorf("more than one outstanding request per connection: %+v", res.total)
	}
}

func TestBenchmarkEcho(t *testing.T) {
	srv := startEcho(t)
	app := testConfig(srv.addr(), 4, time.Second)
	app.reportInterval = 200 * time.Millisecond

	acc := &account{}
	res := runBenchmark(context.Background(), app, acc)

	checkResult(t, res, 4)
	if res.total.requests == 0 || res.total.responses == 0 {
		t.Errorf("no traffic against echo server: %+v", res.total)
	}
	if acc.requests.Load() != res.total.requests || acc.responses.Load() != res.total.responses {
		t.Errorf("account %d/%d disagrees with result %+v", acc.requests.Load(), acc.responses.Load(), res.total)
	}
	if acc.active.Load() != 0 {
		t.Errorf("%d connections still active", acc.active.Load())
	}
}

func TestBenchmarkNoConnections(t *testing.T) {
	app := testConfig("127.0.0.1:1", 0, 10*time.Millisecond)

	done := make(chan result, 1)
	go func() { done <- runBenchmark(context.Background(), app, &account{}) }()

	select {
	case res := <-done:
		if res.reports != 0 || res.total != (count{}) {
			t.Errorf("result = %+v, wanted empty", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runBenchmark blocked with zero connections")
	}
}

func TestBenchmarkPeerCloses(t *testing.T) {
	addr := startPeer(t, func(conn net.Conn) { conn.Close() })
	app := testConfig(addr, 4, 200*time.Millisecond)

	start := time.Now()
	res := runBenchmark(context.Background(), app, &account{})

	checkResult(t, res, 4)
	if res.total.responses != 0 {
		t.Errorf("responses = %d, wanted 0", res.total.responses)
	}
	if elapsed := time.Since(start); elapsed > app.duration+3*time.Second {
		t.Errorf("runBenchmark took %s", elapsed)
	}
}

func TestBenchmarkShortEcho(t *testing.T) {
	addr := startPeer(t, func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 64)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write(buf[:63])
		io.Copy(io.Discard, conn)
	})
	app := testConfig(addr, 3, 300*time.Millisecond)

	res := runBenchmark(context.Background(), app, &account{})

	checkResult(t, res, 3)
	if res.total != (count{requests: 3, responses: 0}) {
		t.Errorf("total = %+v, wanted {3 0}", res.total)
	}
}

func TestBenchmarkDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	app := testConfig(addr, 3, 50*time.Millisecond)
	res := runBenchmark(context.Background(), app, &account{})

	checkResult(t, res, 3)
	if res.total != (count{}) {
		t.Errorf("total = %+v, wanted zero counts", res.total)
	}
}

func TestBenchmarkCancel(t *testing.T) {
	srv := startEcho(t)
	app := testConfig(srv.addr(), 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan result, 1)
	go func() { done <- runBenchmark(ctx, app, &account{}) }()

	select {
	case res := <-done:
		checkResult(t, res, 2)
	case <-time.After(10 * time.Second):
		t.Fatal("runBenchmark ignored cancellation")
	}
}

func TestBenchmarkFailFastExits(t *testing.T) {
	if addr := os.Getenv("FAIL_FAST_TARGET"); addr != "" {
		app := testConfig(addr, 2, time.Second)
		app.failFast = true
		runBenchmark(context.Background(), app, &account{})
		return
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cmd := exec.Command(os.Args[0], "-test.run=^TestBenchmarkFailFastExits$")
	cmd.Env = append(os.Environ(), "FAIL_FAST_TARGET="+addr)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.Success() {
		t.Fatalf("fail-fast run against %s did not exit with an error: %v\n%s", addr, err, out)
	}
	if !strings.Contains(string(out), "error while dial host") {
		t.Errorf("missing dial error in output:\n%s", out)
	}
}
