// Package relay pairs externally initiated client connections with agent connections.
//
// Pairing is blind and strictly FIFO: the next accepted client is bound to the next accepted
// agent, and only one session forwards at a time. Clients arriving meanwhile wait in the
// kernel accept backlog.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pires/go-proxyproto"

	"github.com/matst80/dialout/internal/forward"
	"github.com/matst80/dialout/internal/obs"
	"github.com/matst80/dialout/internal/ratelimit"
	"github.com/matst80/dialout/internal/state"
)

const (
	acceptRetryDelay  = 100 * time.Millisecond
	storeWriteTimeout = 2 * time.Second
	limiterPruneEvery = time.Minute
)

// ShutdownMode selects what an interrupt does to a running relay.
type ShutdownMode string

const (
	// ShutdownGraceful closes listeners and the active session before exiting.
	ShutdownGraceful ShutdownMode = "graceful"
	// ShutdownAbrupt exits immediately without draining.
	ShutdownAbrupt ShutdownMode = "abrupt"
)

// ParseShutdownMode validates a mode name.
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch ShutdownMode(s) {
	case ShutdownGraceful, ShutdownAbrupt:
		return ShutdownMode(s), nil
	}
	return "", fmt.Errorf("unknown shutdown mode %q (want %q or %q)", s, ShutdownGraceful, ShutdownAbrupt)
}

// Config holds the relay endpoints and per-session behaviour.
type Config struct {
	ClientAddr  string
	AgentAddr   string
	IdleTimeout time.Duration
	ChunkSize   int
	Sniff       bool

	// ProxyProtocol expects a PROXY v1/v2 header on client connections.
	ProxyProtocol      bool
	ProxyHeaderTimeout time.Duration

	// Accept limits for client connections; zero disables.
	GlobalRate int
	SourceRate int
	Burst      int
}

// Relay owns the two listeners and the single pairing loop.
type Relay struct {
	cfg     Config
	store   state.Store
	limiter *ratelimit.Limiter

	clientLn net.Listener
	agentLn  net.Listener

	mu        sync.Mutex
	ready     bool
	closing   bool
	active    string
	closeOnce sync.Once
}

// New creates a relay. store may be nil.
func New(cfg Config, store state.Store) *Relay {
	return &Relay{
		cfg:     cfg,
		store:   store,
		limiter: ratelimit.New(cfg.GlobalRate, cfg.SourceRate, cfg.Burst),
	}
}

// Listen binds the client-facing and agent-facing endpoints.
func (r *Relay) Listen() error {
	lc := net.ListenConfig{Control: reuseControl(false)}
	cl, err := lc.Listen(context.Background(), "tcp", r.cfg.ClientAddr)
	if err != nil {
		return fmt.Errorf("listen client %s: %w", r.cfg.ClientAddr, err)
	}
	if r.cfg.ProxyProtocol {
		cl = &proxyproto.Listener{Listener: cl, ReadHeaderTimeout: r.cfg.ProxyHeaderTimeout}
	}
	alc := net.ListenConfig{Control: reuseControl(true)}
	al, err := alc.Listen(context.Background(), "tcp", r.cfg.AgentAddr)
	if err != nil {
		_ = cl.Close()
		return fmt.Errorf("listen agent %s: %w", r.cfg.AgentAddr, err)
	}
	r.clientLn, r.agentLn = cl, al
	obs.Info("listener.start", obs.Fields{"role": "client", "addr": cl.Addr().String(), "proxy_protocol": r.cfg.ProxyProtocol})
	obs.Info("listener.start", obs.Fields{"role": "agent", "addr": al.Addr().String()})
	return nil
}

// ClientAddr returns the bound client-facing address (nil before Listen).
func (r *Relay) ClientAddr() net.Addr {
	if r.clientLn == nil {
		return nil
	}
	return r.clientLn.Addr()
}

// AgentAddr returns the bound agent-facing address (nil before Listen).
func (r *Relay) AgentAddr() net.Addr {
	if r.agentLn == nil {
		return nil
	}
	return r.agentLn.Addr()
}

// Ready reports whether Serve is accepting and no shutdown started.
func (r *Relay) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready && !r.closing
}

// ActiveSession returns the id of the session currently forwarding, or "".
func (r *Relay) ActiveSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close stops both listeners; a running Serve returns once its session ends.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closing = true
		r.mu.Unlock()
		if r.clientLn != nil {
			err = r.clientLn.Close()
		}
		if r.agentLn != nil {
			if aerr := r.agentLn.Close(); err == nil {
				err = aerr
			}
		}
	})
	return err
}

// Serve runs the accept/pair/forward loop until ctx is cancelled or a listener fails.
// Cancelling ctx closes the listeners and tears down the active session.
func (r *Relay) Serve(ctx context.Context) error {
	if r.clientLn == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()
	defer r.Close()

	if r.limiter.Enabled() {
		go r.runLimiterPrune(ctx)
	}

	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()

	for {
		client, err := r.clientLn.Accept()
		if err != nil {
			if done, serr := r.acceptFailed(ctx, "client", err); done {
				return serr
			}
			continue
		}
		if !r.admit(client) {
			continue
		}
		obs.Info("client.accepted", obs.Fields{"remote": client.RemoteAddr().String()})

		agent, err := r.agentLn.Accept()
		if err != nil {
			_ = client.Close()
			if done, serr := r.acceptFailed(ctx, "agent", err); done {
				return serr
			}
			continue
		}
		obs.Info("agent.accepted", obs.Fields{"remote": agent.RemoteAddr().String()})

		r.runSession(ctx, client, agent)
	}
}

// acceptFailed reports whether the loop must stop, and with which error.
// Other accept errors are logged and the loop resumes.
func (r *Relay) acceptFailed(ctx context.Context, role string, err error) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	if errors.Is(err, net.ErrClosed) {
		r.mu.Lock()
		closing := r.closing
		r.mu.Unlock()
		if closing {
			return true, nil
		}
		return true, fmt.Errorf("accept %s: %w", role, err)
	}
	obs.Error("accept."+role, obs.Fields{"err": err.Error()})
	obs.ErrorsTotal.WithLabelValues("accept_" + role).Inc()
	time.Sleep(acceptRetryDelay)
	return false, nil
}

func (r *Relay) admit(client net.Conn) bool {
	if !r.limiter.Enabled() {
		return true
	}
	source := remoteIP(client)
	if r.limiter.Allow(source) {
		return true
	}
	obs.Info("client.rejected", obs.Fields{"remote": source, "reason": "rate_limit"})
	obs.RejectedClientsTotal.Inc()
	_ = client.Close()
	return false
}

func (r *Relay) runSession(ctx context.Context, client, agent net.Conn) {
	id := uuid.NewString()
	rec := state.SessionRecord{
		ID:      id,
		Client:  client.RemoteAddr().String(),
		Agent:   agent.RemoteAddr().String(),
		Started: time.Now(),
	}
	obs.Info("session.start", obs.Fields{"session": id, "client": rec.Client, "agent": rec.Agent})
	obs.SessionsTotal.Inc()
	obs.ActiveSessions.Inc()
	r.setActive(id)

	res := forward.Pipe(ctx, client, agent, forward.Options{
		ChunkSize:   r.cfg.ChunkSize,
		IdleTimeout: r.cfg.IdleTimeout,
		Sniff:       r.cfg.Sniff,
		Session:     id,
	})

	r.setActive("")
	obs.ActiveSessions.Dec()
	obs.SessionEndTotal.WithLabelValues(res.Reason.String()).Inc()
	obs.SessionDurationSeconds.Observe(res.Duration.Seconds())

	rec.Duration = res.Duration
	rec.NearToFar = res.NearToFar
	rec.FarToNear = res.FarToNear
	rec.Reason = res.Reason.String()
	logSessionEnd(rec, res)

	if r.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := r.store.RecordSession(sctx, rec); err != nil {
		obs.Error("state.record_session", obs.Fields{"session": id, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("state").Inc()
	}
}

func logSessionEnd(rec state.SessionRecord, res forward.Result) {
	f := obs.Fields{
		"session":     rec.ID,
		"duration_ms": res.Duration.Milliseconds(),
		"near_to_far": res.NearToFar,
		"far_to_near": res.FarToNear,
	}
	switch res.Reason {
	case forward.ReasonIdle:
		obs.Info("session.idle", f)
	case forward.ReasonError:
		f["err"] = res.Err.Error()
		obs.Error("session.error", f)
		obs.ErrorsTotal.WithLabelValues("stream").Inc()
	default:
		f["reason"] = rec.Reason
		obs.Info("session.end", f)
	}
}

func (r *Relay) setActive(id string) {
	r.mu.Lock()
	r.active = id
	r.mu.Unlock()
}

func (r *Relay) runLimiterPrune(ctx context.Context) {
	t := time.NewTicker(limiterPruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.limiter.Prune(limiterPruneEvery); n > 0 {
				obs.Debug("ratelimit.prune", obs.Fields{"removed": n})
			}
		}
	}
}

func remoteIP(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}
