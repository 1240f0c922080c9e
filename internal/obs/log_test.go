package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogLineShape(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Info("session.start", Fields{"session": "abc", "bytes": 12})
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["msg"] != "session.start" || line["level"] != "info" || line["session"] != "abc" {
		t.Errorf("unexpected log line %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Error("expected ts field")
	}
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer EnableDebug(false)

	Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug logged at info level: %q", buf.String())
	}
	EnableDebug(true)
	Debug("shown", nil)
	if !strings.Contains(buf.String(), `"shown"`) {
		t.Errorf("expected debug line, got %q", buf.String())
	}
	Error("failed", Fields{"err": "boom"})
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected error line, got %q", buf.String())
	}
}
