package forward

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"
)

// tcpPair returns two connected loopback TCP endpoints.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() { dialed.Close(); c.Close() })
	return dialed, c
}

type session struct {
	client, near, far, service net.Conn
	done                       chan Result
}

// startSession wires client <-> near ==Pipe== far <-> service.
func startSession(t *testing.T, ctx context.Context, opts Options) *session {
	t.Helper()
	s := &session{done: make(chan Result, 1)}
	s.client, s.near = tcpPair(t)
	s.far, s.service = tcpPair(t)
	go func() { s.done <- Pipe(ctx, s.near, s.far, opts) }()
	return s
}

func (s *session) wait(t *testing.T, d time.Duration) Result {
	t.Helper()
	select {
	case r := <-s.done:
		return r
	case <-time.After(d):
		t.Fatalf("Pipe did not return within %v", d)
	}
	return Result{}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

func TestPipeByteExact(t *testing.T) {
	const chunk = 1024
	sizes := []int{0, 1, chunk - 1, chunk, chunk + 1, 3 * 1024 * 1024}
	for _, size := range sizes {
		for _, reverse := range []bool{false, true} {
			s := startSession(t, context.Background(), Options{ChunkSize: chunk})
			src, dst := s.client, s.service
			if reverse {
				src, dst = s.service, s.client
			}
			payload := randomBytes(t, size)
			go func() {
				_, _ = src.Write(payload)
				_ = src.(*net.TCPConn).CloseWrite()
			}()
			_ = dst.SetReadDeadline(time.Now().Add(10 * time.Second))
			got, err := io.ReadAll(dst)
			if err != nil {
				t.Fatalf("size %d reverse %v: read: %v", size, reverse, err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("size %d reverse %v: received %d bytes, payload mismatch", size, reverse, len(got))
			}
			res := s.wait(t, 5*time.Second)
			if res.Reason != ReasonClosed {
				t.Errorf("size %d reverse %v: expected closed, got %v (%v)", size, reverse, res.Reason, res.Err)
			}
			moved := res.NearToFar
			if reverse {
				moved = res.FarToNear
			}
			if moved != int64(size) {
				t.Errorf("size %d reverse %v: counted %d bytes", size, reverse, moved)
			}
		}
	}
}

func TestPipeBothDirectionsConcurrently(t *testing.T) {
	s := startSession(t, context.Background(), Options{ChunkSize: 4096})
	up := randomBytes(t, 2*1024*1024)
	down := randomBytes(t, 2*1024*1024)
	go func() { _, _ = s.client.Write(up) }()
	go func() { _, _ = s.service.Write(down) }()

	gotUp := make([]byte, len(up))
	gotDown := make([]byte, len(down))
	errs := make(chan error, 2)
	go func() { _, err := io.ReadFull(s.service, gotUp); errs <- err }()
	go func() { _, err := io.ReadFull(s.client, gotDown); errs <- err }()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("read: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out reading both directions")
		}
	}
	if !bytes.Equal(gotUp, up) || !bytes.Equal(gotDown, down) {
		t.Fatal("payload mismatch")
	}
	s.client.Close()
	s.wait(t, 5*time.Second)
}

func TestPipePairedTeardown(t *testing.T) {
	t.Run("clean close", func(t *testing.T) {
		s := startSession(t, context.Background(), Options{})
		s.client.Close()
		s.wait(t, 2*time.Second)
		assertClosed(t, s.service)
	})
	t.Run("reset", func(t *testing.T) {
		s := startSession(t, context.Background(), Options{})
		_ = s.service.(*net.TCPConn).SetLinger(0)
		s.service.Close()
		s.wait(t, 2*time.Second)
		assertClosed(t, s.client)
	})
}

func assertClosed(t *testing.T, c net.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("expected peer connection to be closed")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("peer connection still open after teardown")
	}
}

func TestPipeIdleTimeout(t *testing.T) {
	s := startSession(t, context.Background(), Options{IdleTimeout: 200 * time.Millisecond})
	res := s.wait(t, 2*time.Second)
	if res.Reason != ReasonIdle {
		t.Fatalf("expected idle, got %v (%v)", res.Reason, res.Err)
	}
	assertClosed(t, s.client)
	assertClosed(t, s.service)
}

func TestPipeIdleClockResetsOnTraffic(t *testing.T) {
	idle := 300 * time.Millisecond
	s := startSession(t, context.Background(), Options{IdleTimeout: idle})
	go func() { _, _ = io.Copy(io.Discard, s.service) }()

	// traffic in one direction only keeps the whole session alive
	deadline := time.Now().Add(4 * idle)
	for time.Now().Before(deadline) {
		if _, err := s.client.Write([]byte("ping")); err != nil {
			t.Fatalf("write while session should be alive: %v", err)
		}
		select {
		case r := <-s.done:
			t.Fatalf("session ended early: %v (%v)", r.Reason, r.Err)
		case <-time.After(idle / 3):
		}
	}
	res := s.wait(t, 3*idle)
	if res.Reason != ReasonIdle {
		t.Fatalf("expected idle after traffic stopped, got %v", res.Reason)
	}
}

func TestPipeShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := startSession(t, ctx, Options{})
	cancel()
	res := s.wait(t, 2*time.Second)
	if res.Reason != ReasonShutdown {
		t.Fatalf("expected shutdown, got %v", res.Reason)
	}
	assertClosed(t, s.client)
}

func TestPipeSniffDoesNotAlterBytes(t *testing.T) {
	s := startSession(t, context.Background(), Options{Sniff: true, ChunkSize: 7})
	payload := append([]byte("GET / HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabc"), randomBytes(t, 4096)...)
	payload = append(payload, []byte("\r\n\r\nHTTP/1.1 garbage\n\n")...)
	go func() {
		_, _ = s.client.Write(payload)
		_ = s.client.(*net.TCPConn).CloseWrite()
	}()
	_ = s.service.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(s.service)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("sniffing altered forwarded bytes")
	}
	s.wait(t, 2*time.Second)
}

func TestReasonString(t *testing.T) {
	want := map[Reason]string{ReasonClosed: "closed", ReasonIdle: "idle", ReasonError: "error", ReasonShutdown: "shutdown", Reason(42): "unknown"}
	for r, s := range want {
		if r.String() != s {
			t.Errorf("Reason(%d).String() = %q, want %q", int(r), r.String(), s)
		}
	}
}
