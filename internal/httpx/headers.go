package httpx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Header represents a single HTTP header field (case preserved as seen on wire).
type Header struct {
	Name  string
	Value string
}

// Head is a parsed HTTP/1.x start-line + headers. For requests Method/URI are set, for
// responses Status/Reason.
type Head struct {
	Method  string
	URI     string
	Proto   string
	Status  int
	Reason  string
	Headers []Header
}

var errBadStartLine = errors.New("bad start line")

// IsResponse reports whether the head was parsed from a status line.
func (h *Head) IsResponse() bool { return h.Status != 0 }

// Get returns the first value associated with name (case-insensitive) or empty.
func (h *Head) Get(name string) string {
	for _, f := range h.Headers {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// ContentLength returns the declared body length, or -1 when absent or invalid.
func (h *Head) ContentLength() int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Chunked reports a chunked transfer coding.
func (h *Head) Chunked() bool {
	return strings.Contains(strings.ToLower(h.Get("Transfer-Encoding")), "chunked")
}

// headerEnd returns the index just past the first header terminator (CRLFCRLF or LFLF), or -1.
func headerEnd(b []byte) int {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlf == -1 && lf == -1:
		return -1
	case lf == -1 || (crlf != -1 && crlf < lf):
		return crlf + 4
	}
	return lf + 2
}

// ParseHead parses a complete header block (start-line through the blank line).
func ParseHead(buf []byte) (*Head, error) {
	reader := bufio.NewReader(bytes.NewReader(buf))
	startLine, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	startLine = strings.TrimRight(startLine, "\r\n")
	h, err := parseStartLine(startLine)
	if err != nil {
		return nil, err
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || len(line) == 0 {
				break
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue // skip malformed
		}
		h.Headers = append(h.Headers, Header{Name: line[:colon], Value: strings.TrimSpace(line[colon+1:])})
	}
	return h, nil
}

func parseStartLine(line string) (*Head, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", errBadStartLine, line)
	}
	if strings.HasPrefix(parts[0], "HTTP/") {
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 999 {
			return nil, fmt.Errorf("%w: %q", errBadStartLine, line)
		}
		h := &Head{Proto: parts[0], Status: code}
		if len(parts) == 3 {
			h.Reason = parts[2]
		}
		return h, nil
	}
	if len(parts) < 3 || !strings.HasPrefix(parts[2], "HTTP/") || !isToken(parts[0]) {
		return nil, fmt.Errorf("%w: %q", errBadStartLine, line)
	}
	return &Head{Method: parts[0], URI: parts[1], Proto: parts[2]}, nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '!' || r > '~' {
			return false
		}
	}
	return true
}
