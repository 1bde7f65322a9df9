package models

import "time"

// WalletBalance is the user's coin balance as reported by the wallet service.
// Cached reports whether the figure came from the local estimate instead of
// a fresh wallet lookup.
type WalletBalance struct {
	Balance   float64   `json:"balance"`
	Cached    bool      `json:"cached"`
	FetchedAt time.Time `json:"fetched_at"`
}
