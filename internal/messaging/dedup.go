package messaging

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Deduplicator remembers recently handled message ids.
type Deduplicator struct {
	ids *cache.Cache
}

// NewDeduplicator remembers ids for window. A non-positive window disables deduplication.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		return &Deduplicator{}
	}
	return &Deduplicator{ids: cache.New(window, 2*window)}
}

// Seen records id and reports whether it was already recorded. Empty ids are never duplicates.
func (d *Deduplicator) Seen(id string) bool {
	if d == nil || d.ids == nil || id == "" {
		return false
	}
	// Add fails when the key exists, which makes check-and-record atomic.
	return d.ids.Add(id, struct{}{}, cache.DefaultExpiration) != nil
}

// Forget removes id so a redelivery is handled again.
func (d *Deduplicator) Forget(id string) {
	if d == nil || d.ids == nil || id == "" {
		return
	}
	d.ids.Delete(id)
}
