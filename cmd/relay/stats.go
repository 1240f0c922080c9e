package main

import (
	"context"
	"time"

	"github.com/matst80/dialout/internal/relay"
	"github.com/matst80/dialout/internal/state"
)

// Stats represents current relay stats for dashboards & API.
type Stats struct {
	state.Stats
	Active string `json:"active,omitempty"`
	Ready  bool   `json:"ready"`
	Now    string `json:"now"`
}

func collectStats(ctx context.Context, r *relay.Relay, store state.Store) (Stats, error) {
	st, err := store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: st, Active: r.ActiveSession(), Ready: r.Ready(), Now: time.Now().UTC().Format(time.RFC3339)}, nil
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Active":          s.Active,
		"Sessions":        s.Sessions,
		"IdleDisconnects": s.IdleDisconnects,
		"Errors":          s.Errors,
		"BytesNearToFar":  s.BytesNearToFar,
		"BytesFarToNear":  s.BytesFarToNear,
		"Recent":          s.Recent,
	}
}
