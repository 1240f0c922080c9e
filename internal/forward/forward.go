// Package forward copies bytes between the two ends of a session until either end closes.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matst80/dialout/internal/httpx"
	"github.com/matst80/dialout/internal/obs"
)

// DefaultChunkSize is used when no tuner supplied a chunk size.
const DefaultChunkSize = 256 * 1024

// Reason describes why a session ended.
type Reason int

const (
	ReasonClosed Reason = iota
	ReasonIdle
	ReasonError
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonClosed:
		return "closed"
	case ReasonIdle:
		return "idle"
	case ReasonError:
		return "error"
	case ReasonShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Options controls a single forwarding run.
type Options struct {
	// ChunkSize is the maximum number of bytes read per operation in each direction.
	ChunkSize int
	// IdleTimeout tears the session down when neither direction moved data for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// Sniff logs HTTP/1.x request and response heads seen on the stream.
	Sniff bool
	// Session labels log lines.
	Session string
}

// Result summarises a finished forwarding run.
type Result struct {
	NearToFar int64
	FarToNear int64
	Reason    Reason
	// Err is the error that ended the session when Reason is ReasonError or ReasonIdle.
	Err      error
	Duration time.Duration
}

type pipe struct {
	near, far net.Conn
	opts      Options
	idle      time.Duration

	lastActivity atomic.Int64
	once         sync.Once
	reason       Reason
	err          error
}

// Pipe forwards near->far and far->near concurrently until one side reaches end of stream,
// fails, idles out or ctx is cancelled. Both connections are closed before Pipe returns.
func Pipe(ctx context.Context, near, far net.Conn, opts Options) Result {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	p := &pipe{near: near, far: far, opts: opts, idle: opts.IdleTimeout}
	p.touch()
	start := time.Now()

	stop := context.AfterFunc(ctx, func() { p.finish(ReasonShutdown, ctx.Err()) })
	defer stop()

	var res Result
	var g errgroup.Group
	g.Go(func() error {
		p.copy(far, near, &res.NearToFar, "near_to_far", p.sniffer("request"))
		return nil
	})
	g.Go(func() error {
		p.copy(near, far, &res.FarToNear, "far_to_near", p.sniffer("response"))
		return nil
	})
	_ = g.Wait()

	res.Reason = p.reason
	res.Err = p.err
	res.Duration = time.Since(start)
	return res
}

// finish records the first termination cause and closes both ends.
func (p *pipe) finish(reason Reason, err error) {
	p.once.Do(func() {
		p.reason = reason
		p.err = err
		_ = p.near.Close()
		_ = p.far.Close()
	})
}

func (p *pipe) touch() { p.lastActivity.Store(time.Now().UnixNano()) }

func (p *pipe) idleFor() time.Duration {
	return time.Since(time.Unix(0, p.lastActivity.Load()))
}

func (p *pipe) copy(dst, src net.Conn, counter *int64, direction string, sn *httpx.Sniffer) {
	buf := make([]byte, p.opts.ChunkSize)
	for {
		if p.idle > 0 {
			_ = src.SetReadDeadline(time.Now().Add(p.idle))
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			p.touch()
			if sn != nil {
				observe(sn, buf[:n], p.opts.Session)
			}
			if p.idle > 0 {
				_ = dst.SetWriteDeadline(time.Now().Add(p.idle))
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				p.fail(fmt.Errorf("%s write: %w", direction, werr))
				return
			}
			p.touch()
			atomic.AddInt64(counter, int64(n))
			obs.BytesForwardedTotal.WithLabelValues(direction).Add(float64(n))
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			p.finish(ReasonClosed, nil)
			return
		}
		if p.idle > 0 && errors.Is(rerr, os.ErrDeadlineExceeded) && p.idleFor() < p.idle {
			// the other direction is still moving data
			continue
		}
		p.fail(fmt.Errorf("%s read: %w", direction, rerr))
		return
	}
}

// fail classifies err; errors produced by our own teardown are absorbed by finish's once.
func (p *pipe) fail(err error) {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		p.finish(ReasonIdle, err)
		return
	}
	p.finish(ReasonError, err)
}

func (p *pipe) sniffer(kind string) *httpx.Sniffer {
	if !p.opts.Sniff {
		return nil
	}
	session := p.opts.Session
	return httpx.NewSniffer(0, func(h *httpx.Head) {
		if h.IsResponse() {
			obs.Info("http.response", obs.Fields{"session": session, "status": h.Status, "proto": h.Proto})
			return
		}
		obs.Info("http.request", obs.Fields{"session": session, "method": h.Method, "uri": h.URI, "host": h.Get("Host"), "kind": kind})
	})
}

// observe never lets a sniffer problem reach the forward path.
func observe(sn *httpx.Sniffer, b []byte, session string) {
	if sn.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			sn.Disable(fmt.Errorf("sniffer panic: %v", r))
			obs.Error("http.sniff.panic", obs.Fields{"session": session, "panic": fmt.Sprint(r)})
		}
	}()
	sn.Observe(b)
	if err := sn.Err(); err != nil {
		obs.Debug("http.sniff.stop", obs.Fields{"session": session, "err": err.Error()})
	}
}
