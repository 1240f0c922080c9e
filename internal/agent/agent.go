// Package agent keeps an outbound connection to the relay and bridges it to a local service.
package agent

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/matst80/dialout/internal/forward"
	"github.com/matst80/dialout/internal/obs"
	"github.com/matst80/dialout/internal/state"
	"github.com/matst80/dialout/internal/tuner"
)

const (
	DefaultRetryDelay    = 2 * time.Second
	DefaultCycleInterval = 5 * time.Second
	DefaultDialTimeout   = 10 * time.Second
	DefaultProbeTimeout  = 10 * time.Second

	storeTimeout = 2 * time.Second
)

// Config describes where the agent dials and how it paces itself.
type Config struct {
	RelayAddr string
	LocalAddr string

	// RetryDelay separates a failed or finished relay connection from the next dial.
	RetryDelay time.Duration
	// CycleInterval separates a probe from the next local dial on the same relay connection.
	CycleInterval time.Duration
	DialTimeout   time.Duration
	ProbeTimeout  time.Duration

	InitialChunkSize int
	Sniff            bool
}

func (c *Config) applyDefaults() {
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = DefaultCycleInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
}

// Agent runs one tunnel cycle at a time; cycles never overlap.
type Agent struct {
	cfg   Config
	store state.Store
	tuner *tuner.Tuner
}

// New creates an agent. store may be nil, in which case the chunk size is not persisted.
func New(cfg Config, store state.Store) *Agent {
	cfg.applyDefaults()
	return &Agent{cfg: cfg, store: store, tuner: tuner.New(cfg.InitialChunkSize)}
}

// ChunkSize returns the chunk size the next cycle will forward with.
func (a *Agent) ChunkSize() int { return a.tuner.ChunkSize() }

// Run dials the relay forever, waiting RetryDelay between attempts, until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.restoreChunkSize(ctx)
	obs.Info("agent.start", obs.Fields{"relay": a.cfg.RelayAddr, "local": a.cfg.LocalAddr, "chunk_size": a.tuner.ChunkSize()})
	obs.ChunkSizeBytes.Set(float64(a.tuner.ChunkSize()))

	for {
		conn, err := a.dial(ctx, a.cfg.RelayAddr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			obs.Error("agent.dial.relay", obs.Fields{"addr": a.cfg.RelayAddr, "err": err.Error()})
			obs.AgentDialFailuresTotal.WithLabelValues("relay").Inc()
		} else {
			obs.Info("agent.relay.connected", obs.Fields{"addr": a.cfg.RelayAddr, "local_addr": conn.LocalAddr().String()})
			a.serveRelay(ctx, conn)
		}
		if !sleep(ctx, a.cfg.RetryDelay) {
			return nil
		}
	}
}

// serveRelay runs cycles over one relay connection until it becomes unusable.
func (a *Agent) serveRelay(ctx context.Context, relayConn net.Conn) {
	defer relayConn.Close()
	for {
		local, err := a.dial(ctx, a.cfg.LocalAddr)
		if err != nil {
			if ctx.Err() == nil {
				obs.Error("agent.dial.local", obs.Fields{"addr": a.cfg.LocalAddr, "err": err.Error()})
				obs.AgentDialFailuresTotal.WithLabelValues("local").Inc()
			}
			return
		}

		res := forward.Pipe(ctx, relayConn, local, forward.Options{
			ChunkSize: a.tuner.ChunkSize(),
			Sniff:     a.cfg.Sniff,
			Session:   "agent",
		})
		obs.AgentCyclesTotal.Inc()
		f := obs.Fields{"reason": res.Reason.String(), "near_to_far": res.NearToFar, "far_to_near": res.FarToNear, "duration_ms": res.Duration.Milliseconds()}
		if res.Err != nil {
			f["err"] = res.Err.Error()
		}
		obs.Info("agent.cycle.end", f)
		if ctx.Err() != nil {
			return
		}

		if err := a.probe(ctx, relayConn); err != nil {
			f := obs.Fields{"err": err.Error(), "chunk_size": a.tuner.ChunkSize()}
			if errors.Is(err, net.ErrClosed) {
				// the cycle's teardown closed the relay connection
				obs.Info("agent.probe.skipped", f)
				return
			}
			obs.Error("agent.probe.failed", f)
			obs.ErrorsTotal.WithLabelValues("probe").Inc()
		}
		if !sleep(ctx, a.cfg.CycleInterval) {
			return
		}
	}
}

// probe measures relay throughput and, on success, adopts and persists the new chunk size.
func (a *Agent) probe(ctx context.Context, relayConn net.Conn) error {
	_ = relayConn.SetWriteDeadline(time.Now().Add(a.cfg.ProbeTimeout))
	defer relayConn.SetWriteDeadline(time.Time{})

	m, err := a.tuner.Probe(relayConn)
	if err != nil {
		return err
	}
	obs.Info("agent.probe", obs.Fields{"bytes": m.Bytes, "elapsed_ms": m.Elapsed.Milliseconds(), "bytes_per_sec": int64(m.Throughput), "chunk_size": m.ChunkSize})
	obs.ProbeThroughputBytes.Set(m.Throughput)
	obs.ChunkSizeBytes.Set(float64(m.ChunkSize))

	if a.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := a.store.SaveChunkSize(sctx, m.ChunkSize); err != nil {
			obs.Error("state.save_chunk_size", obs.Fields{"err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("state").Inc()
		}
	}
	return nil
}

func (a *Agent) restoreChunkSize(ctx context.Context) {
	if a.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	size, ok, err := a.store.LoadChunkSize(sctx)
	if err != nil {
		obs.Error("state.load_chunk_size", obs.Fields{"err": err.Error()})
		return
	}
	if ok && size > 0 {
		a.tuner.SetChunkSize(size)
		obs.Debug("agent.chunk_size.restored", obs.Fields{"chunk_size": size})
	}
}

func (a *Agent) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: a.cfg.DialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
