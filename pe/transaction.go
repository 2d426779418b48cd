// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"sync"
	"time"

	"github.com/rob-gra/go-midici/ci"
)

// DeviceHandle identifies a destination for PE operations: the CI node's
// MUID plus the transport-level destination id its SysEx frames are sent
// to. It is comparable and usable as a map key (§3: "device_handle").
type DeviceHandle struct {
	MUID          ci.MUID
	DestinationID string
}

// Response is the successful outcome of a PE operation.
type Response struct {
	Status      int
	Message     string
	Data        []byte
	SubscribeID string
	Resource    string
}

// operation discriminates what a transaction is waiting for, since Get,
// Set, Subscribe and Unsubscribe all share the same record shape.
type operation int

const (
	opGet operation = iota
	opSet
	opSubscribe
	opUnsubscribe
)

// result is what a waiter resolves to: exactly one of resp, err is set.
type result struct {
	resp *Response
	err  error
}

// waiter is a one-shot promise, modeled on the broker-request pattern of
// resolving a pending call exactly once from whichever path gets there
// first (receive, timeout, or cancellation).
type waiter struct {
	once sync.Once
	done chan result
}

func newWaiter() *waiter {
	return &waiter{done: make(chan result, 1)}
}

// resolve delivers r to the waiter exactly once; later calls are no-ops.
func (w *waiter) resolve(r result) {
	w.once.Do(func() {
		w.done <- r
	})
}

// transaction is C6's record of one outstanding PE request.
type transaction struct {
	requestID   byte
	op          operation
	resource    string
	destination DeviceHandle
	startedAt   time.Time
	deadline    time.Time
	waiter      *waiter
	subscribeID string // set for opUnsubscribe, the id being torn down
}

// subscription is C6's record of one active Subscribe, per §3.
type subscription struct {
	subscribeID string
	resource    string
	destination DeviceHandle
	createdAt   time.Time
}
