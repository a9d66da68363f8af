package session

import (
	"time"

	"github.com/DoyleJ11/foodfps/pkg/types"
)

const DefaultBulletRetention = 3000 * time.Millisecond

type bulletEntry struct {
	event types.BulletEvent
	at    time.Time // local receive time
}

// BulletCache keeps recent bullets per remote sender. Entries are aged by
// local receive time, so sender clock skew does not matter. A sender whose
// list empties is removed.
type BulletCache struct {
	retention time.Duration
	bySender  map[string][]bulletEntry
}

func NewBulletCache(retention time.Duration) *BulletCache {
	if retention <= 0 {
		retention = DefaultBulletRetention
	}
	return &BulletCache{
		retention: retention,
		bySender:  make(map[string][]bulletEntry),
	}
}

// Append stores b and prunes the sender's expired entries.
func (c *BulletCache) Append(sender string, b types.BulletEvent, now time.Time) {
	c.bySender[sender] = append(c.bySender[sender], bulletEntry{event: b, at: now})
	c.pruneSender(sender, now)
}

func (c *BulletCache) Prune(now time.Time) {
	for sender := range c.bySender {
		c.pruneSender(sender, now)
	}
}

func (c *BulletCache) Evict(sender string) {
	delete(c.bySender, sender)
}

func (c *BulletCache) Count(sender string) int {
	return len(c.bySender[sender])
}

func (c *BulletCache) Senders() int {
	return len(c.bySender)
}

func (c *BulletCache) Snapshot() map[string][]types.BulletEvent {
	out := make(map[string][]types.BulletEvent, len(c.bySender))
	for sender, entries := range c.bySender {
		list := make([]types.BulletEvent, len(entries))
		for i, e := range entries {
			list[i] = e.event
		}
		out[sender] = list
	}
	return out
}

func (c *BulletCache) pruneSender(sender string, now time.Time) {
	cutoff := now.Add(-c.retention)
	entries := c.bySender[sender]
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(c.bySender, sender)
		return
	}
	c.bySender[sender] = kept
}
