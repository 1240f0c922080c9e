// Package tuner picks the forwarding chunk size from a measured relay throughput.
package tuner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	KiB = 1024
	MiB = 1024 * KiB

	// ProbeSize is the payload written by every throughput probe.
	ProbeSize = 1 * MiB
	// FloorChunkSize is selected when no tier threshold is exceeded.
	FloorChunkSize = 256 * KiB
)

// Tier maps a throughput threshold (bytes/sec, exclusive) to a chunk size.
type Tier struct {
	Above     float64
	ChunkSize int
}

// Tiers is ordered from the fastest threshold down.
var Tiers = []Tier{
	{Above: 10 * MiB, ChunkSize: 4 * MiB},
	{Above: 5 * MiB, ChunkSize: 2 * MiB},
	{Above: 1 * MiB, ChunkSize: 1 * MiB},
}

// ErrDegenerateElapsed is returned when a probe measured a non-positive duration.
var ErrDegenerateElapsed = errors.New("probe elapsed time is not positive")

// ChunkSizeFor returns the chunk size for a throughput in bytes per second.
func ChunkSizeFor(bytesPerSec float64) int {
	for _, t := range Tiers {
		if bytesPerSec > t.Above {
			return t.ChunkSize
		}
	}
	return FloorChunkSize
}

// Throughput returns n/elapsed in bytes per second.
func Throughput(n int, elapsed time.Duration) (float64, error) {
	if elapsed <= 0 {
		return 0, ErrDegenerateElapsed
	}
	return float64(n) / elapsed.Seconds(), nil
}

// Measurement is the outcome of one probe.
type Measurement struct {
	Bytes      int
	Elapsed    time.Duration
	Throughput float64
	ChunkSize  int
}

// Tuner holds the chunk size selected by the last successful probe.
type Tuner struct {
	mu      sync.Mutex
	chunk   int
	payload []byte
	now     func() time.Time
}

// New returns a tuner starting at initial bytes (FloorChunkSize when initial <= 0).
func New(initial int) *Tuner {
	if initial <= 0 {
		initial = FloorChunkSize
	}
	return &Tuner{chunk: initial, payload: bytes.Repeat([]byte{'x'}, ProbeSize), now: time.Now}
}

// ChunkSize returns the currently selected chunk size.
func (t *Tuner) ChunkSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunk
}

// SetChunkSize overrides the current chunk size, e.g. with a persisted value.
func (t *Tuner) SetChunkSize(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.chunk = n
	t.mu.Unlock()
}

// Probe writes ProbeSize bytes to w, times the write and selects the next chunk size.
// On any failure the current chunk size is kept.
func (t *Tuner) Probe(w io.Writer) (Measurement, error) {
	m := Measurement{ChunkSize: t.ChunkSize()}
	start := t.now()
	n, err := w.Write(t.payload)
	m.Bytes = n
	m.Elapsed = t.now().Sub(start)
	if err != nil {
		return m, fmt.Errorf("probe write: %w", err)
	}
	tp, err := Throughput(n, m.Elapsed)
	if err != nil {
		return m, err
	}
	m.Throughput = tp
	m.ChunkSize = ChunkSizeFor(tp)
	t.mu.Lock()
	t.chunk = m.ChunkSize
	t.mu.Unlock()
	return m, nil
}
