package main

import (
	"errors"
	"log"
	"net"
	"sync"
)

const echoBufSize = 64 * 1024

// echoServer writes every byte it reads back to the same connection.
type echoServer struct {
	ln     net.Listener
	wg     sync.WaitGroup
	mutex  sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

func listenEcho(h string) (*echoServer, error) {
	ln, err := net.Listen("tcp", h)
	if err != nil {
		return nil, err
	}
	log.Printf("Server: spawning TCP echo listener: %s", ln.Addr())

	return &echoServer{ln: ln, conns: map[net.Conn]struct{}{}}, nil
}

func (s *echoServer) addr() string {
	return s.ln.Addr().String()
}

// serve accepts connections until close is called.
func (s *echoServer) serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("serve: ERROR accept: %v", err)
			return err
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleEcho(conn)
	}
}

// track registers conn unless close has already run.
func (s *echoServer) track(conn net.Conn) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *echoServer) handleEcho(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		conn.Close()
	}()

	buf := make([]byte, echoBufSize)
	for {
		n, errRead := conn.Read(buf)
		if n > 0 {
			if _, errWrite := conn.Write(buf[:n]); errWrite != nil {
				log.Printf("handleEcho: ERROR while writing to %v: %v", conn.RemoteAddr(), errWrite)
				return
			}
		}
		if errRead != nil {
			return
		}
	}
}

// close stops accepting, drops live connections and waits for their handlers.
func (s *echoServer) close() error {
	err := s.ln.Close()

	s.mutex.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()

	s.wg.Wait()
	return err
}
