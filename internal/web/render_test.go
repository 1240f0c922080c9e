package web

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/matst80/dialout/internal/state"
)

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		4 * 1024 * 1024: "4.0 MiB",
		3 << 30:         "3.0 GiB",
	}
	for n, want := range cases {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{
		"Active":          "abc-123",
		"Sessions":        int64(2),
		"IdleDisconnects": int64(1),
		"Errors":          int64(0),
		"BytesNearToFar":  int64(2048),
		"BytesFarToNear":  int64(10),
		"Recent": []state.SessionRecord{
			{ID: "s1", Client: "10.0.0.1:5000", Agent: "10.0.0.2:6000", Started: time.Now(), Duration: 1500 * time.Millisecond, NearToFar: 2048, FarToNear: 10, Reason: "idle"},
		},
	}
	if err := Render(&buf, "dashboard", data); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"abc-123", "2.0 KiB", "10.0.0.1:5000", "1.5s", "idle", "rendered"} {
		if !strings.Contains(out, want) {
			t.Errorf("dashboard output missing %q", want)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if err := Render(&bytes.Buffer{}, "nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}
