package obs

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = newLogger(os.Stdout)
)

func newLogger(w io.Writer) zerolog.Logger {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	mu.Lock()
	defer mu.Unlock()
	if v {
		base = base.Level(zerolog.DebugLevel)
	} else {
		base = base.Level(zerolog.InfoLevel)
	}
}

// SetOutput redirects log lines to w, keeping the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	lvl := base.GetLevel()
	base = newLogger(w).Level(lvl)
}

type Fields map[string]any

func logWith(ev *zerolog.Event, msg string, f Fields) {
	if ev == nil {
		return
	}
	if len(f) > 0 {
		ev = ev.Fields(map[string]any(f))
	}
	ev.Msg(msg)
}

func logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

func Info(msg string, f Fields)  { logWith(logger().Info(), msg, f) }
func Error(msg string, f Fields) { logWith(logger().Error(), msg, f) }
func Debug(msg string, f Fields) { logWith(logger().Debug(), msg, f) }
