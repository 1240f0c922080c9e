// Package state keeps relay session statistics and the agent's tuned chunk size.
package state

import (
	"context"
	"time"
)

// RecentLimit bounds how many finished sessions a store remembers.
const RecentLimit = 20

// SessionRecord describes one finished relay session.
type SessionRecord struct {
	ID        string        `json:"id"`
	Client    string        `json:"client"`
	Agent     string        `json:"agent"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	NearToFar int64         `json:"near_to_far"`
	FarToNear int64         `json:"far_to_near"`
	Reason    string        `json:"reason"`
}

// Stats aggregates every recorded session.
type Stats struct {
	Sessions        int64           `json:"sessions"`
	IdleDisconnects int64           `json:"idle_disconnects"`
	Errors          int64           `json:"errors"`
	BytesNearToFar  int64           `json:"bytes_near_to_far"`
	BytesFarToNear  int64           `json:"bytes_far_to_near"`
	Recent          []SessionRecord `json:"recent"`
}

// Store abstracts where state lives so a restarted process can pick it up again.
type Store interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
	Stats(ctx context.Context) (Stats, error)
	// LoadChunkSize reports ok=false when no chunk size was saved yet.
	LoadChunkSize(ctx context.Context) (size int, ok bool, err error)
	SaveChunkSize(ctx context.Context, size int) error
	Close() error
}
