// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package reqpool implements the 128-slot PE request-ID pool (C4): a
// fixed occupancy bitmap with a post-release cooldown so a slow device's
// stale reply cannot be confused with a new request reusing the same ID.
package reqpool

import (
	"sync"
	"time"
)

// Size is the number of request IDs in [0, 127].
const Size = 128

// Unavailable is the sentinel returned by Acquire when no slot is free.
const Unavailable = -1

// DefaultCooldown is the default post-release cooldown (§4.4): long
// enough to exceed any realistic per-chunk round-trip time. Zero disables
// cooldown entirely.
const DefaultCooldown = 2 * time.Second

// Pool is a fixed 128-entry request-ID allocator with cooldown. Safe for
// concurrent use; every operation is an atomic critical section guarded by
// one mutex (§5, §9: one owner mutates, readers observe).
type Pool struct {
	mu        sync.Mutex
	occupied  [Size]bool
	coolUntil [Size]time.Time
	cursor    int
	cooldown  time.Duration
}

// New creates a Pool with the given cooldown (0 disables cooldown).
// A negative cooldown is treated as DefaultCooldown.
func New(cooldown time.Duration) *Pool {
	if cooldown < 0 {
		cooldown = DefaultCooldown
	}
	return &Pool{cooldown: cooldown}
}

// Acquire scans linearly from a rotating cursor for a free, non-cooling
// slot. On success it marks the slot occupied, advances the cursor past
// it, and returns the slot index. On exhaustion it returns Unavailable
// without mutating any state.
func (p *Pool) Acquire(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < Size; i++ {
		idx := (p.cursor + i) % Size
		if p.occupied[idx] {
			continue
		}
		if !p.coolUntil[idx].IsZero() && now.Before(p.coolUntil[idx]) {
			continue
		}
		p.occupied[idx] = true
		p.coolUntil[idx] = time.Time{}
		p.cursor = (idx + 1) % Size
		return idx
	}
	return Unavailable
}

// Release frees id, starting its cooldown (unless cooldown is zero, in
// which case the slot is immediately reusable). id's bit 7 is masked off
// before use, so release is idempotent whether or not a caller passes a
// raw wire byte (id | 0x80) or the bare index.
func (p *Pool) Release(id int, now time.Time) {
	idx := id & 0x7F
	if idx < 0 || idx >= Size {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.occupied[idx] = false
	if p.cooldown > 0 {
		p.coolUntil[idx] = now.Add(p.cooldown)
	} else {
		p.coolUntil[idx] = time.Time{}
	}
}

// ReleaseAll clears every slot's occupancy and cooldown, as required by
// stop()'s leak-safety contract (§5).
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < Size; i++ {
		p.occupied[i] = false
		p.coolUntil[i] = time.Time{}
	}
	p.cursor = 0
}

// Available returns the number of slots that are neither occupied nor
// cooling as of now.
func (p *Pool) Available(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := 0; i < Size; i++ {
		if p.occupied[i] {
			continue
		}
		if !p.coolUntil[i].IsZero() && now.Before(p.coolUntil[i]) {
			continue
		}
		n++
	}
	return n
}

// IsNearExhaustion reports whether fewer than 10 slots are available.
func (p *Pool) IsNearExhaustion(now time.Time) bool {
	return p.Available(now) < 10
}
