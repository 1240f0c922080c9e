package httpx

import (
	"bytes"
	"errors"
)

// DefaultMaxHead caps how many bytes of a single header block the sniffer buffers.
const DefaultMaxHead = 32 * 1024

// ErrNotHTTP is reported when the observed stream stops looking like HTTP/1.x.
var ErrNotHTTP = errors.New("stream is not http/1.x")

// Sniffer follows one direction of a byte stream and reports HTTP/1.x message heads.
// It only reads copies of the forwarded bytes; once the stream can no longer be followed
// (binary protocol, chunked body, body delimited by close, oversize head) it disables itself
// for the rest of the stream.
type Sniffer struct {
	max      int
	emit     func(*Head)
	buf      []byte
	skip     int64
	disabled error
}

// NewSniffer returns a sniffer calling emit for every complete head. max <= 0 uses DefaultMaxHead.
func NewSniffer(max int, emit func(*Head)) *Sniffer {
	if max <= 0 {
		max = DefaultMaxHead
	}
	return &Sniffer{max: max, emit: emit}
}

// Err returns the reason the sniffer stopped following the stream, or nil.
func (s *Sniffer) Err() error { return s.disabled }

// Observe feeds the next forwarded bytes.
func (s *Sniffer) Observe(p []byte) {
	for len(p) > 0 && s.disabled == nil {
		if s.skip > 0 {
			if int64(len(p)) <= s.skip {
				s.skip -= int64(len(p))
				return
			}
			p = p[s.skip:]
			s.skip = 0
			continue
		}
		p = s.observeHead(p)
	}
}

// observeHead accumulates head bytes and returns the unconsumed tail of p.
func (s *Sniffer) observeHead(p []byte) []byte {
	prev := len(s.buf)
	s.buf = append(s.buf, p...)
	if prev == 0 || bytes.IndexByte(s.buf[:prev], '\n') == -1 {
		if nl := bytes.IndexByte(s.buf, '\n'); nl != -1 {
			line := bytes.TrimRight(s.buf[:nl], "\r")
			if _, err := parseStartLine(string(line)); err != nil {
				s.disable(ErrNotHTTP)
				return nil
			}
		}
	}
	end := headerEnd(s.buf)
	if end == -1 {
		if len(s.buf) > s.max {
			s.disable(ErrNotHTTP)
		}
		return nil
	}
	head, err := ParseHead(s.buf[:end])
	if err != nil {
		s.disable(err)
		return nil
	}
	consumed := end - prev
	rest := p[consumed:]
	s.buf = s.buf[:0]
	if s.emit != nil {
		s.emit(head)
	}
	s.skip = s.bodyLength(head)
	return rest
}

func (s *Sniffer) bodyLength(h *Head) int64 {
	if h.IsResponse() && (h.Status < 200 || h.Status == 204 || h.Status == 304) {
		return 0
	}
	if h.Chunked() {
		s.disable(errors.New("chunked body"))
		return 0
	}
	if n := h.ContentLength(); n >= 0 {
		return n
	}
	if h.IsResponse() {
		s.disable(errors.New("body delimited by close"))
	}
	return 0
}

// Disable stops the sniffer; later Observe calls are no-ops.
func (s *Sniffer) Disable(err error) { s.disable(err) }

func (s *Sniffer) disable(err error) {
	s.disabled = err
	s.buf = nil
}
