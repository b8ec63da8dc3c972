package monitor

import (
	"pricebot/internal/market"
	"pricebot/internal/storage"
)

// ShouldAppend decides whether a freshly fetched snapshot is a change worth
// recording: the price differs, the availability text differs, or there is no
// prior ledger entry at all. Equal snapshots append nothing, which is what
// keeps repeated polling idempotent.
func ShouldAppend(latest *storage.Snapshot, fresh market.Snapshot) bool {
	if latest == nil {
		return true
	}
	return fresh.Price != latest.Price || fresh.Availability != latest.Availability
}
