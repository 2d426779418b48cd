// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pe implements the Property Exchange transaction engine (C6): Get,
// Set, Subscribe, Unsubscribe and BatchSet over the CI wire codec, with
// per-device admission control, request-ID leasing, chunk reassembly,
// timeout polling and cooperative cancellation.
package pe

import (
	"errors"
	"time"
)

// Config-range constants, mirroring the defaulting-with-bounds-check
// convention used throughout this module's ambient configuration types.
const (
	MaxInflightPerDeviceMin = 1
	MaxInflightPerDeviceMax = 128

	RequestTimeoutMin = 100 * time.Millisecond
	RequestTimeoutMax = 5 * time.Minute

	ReplyAssemblyTimeoutMin = 50 * time.Millisecond
	ReplyAssemblyTimeoutMax = 10 * time.Second

	NotifyAssemblyTimeoutMin = 1 * time.Second
	NotifyAssemblyTimeoutMax = 5 * time.Minute

	RequestIDCooldownMax = 30 * time.Second

	// TimeoutPollInterval is the granularity at which the engine scans for
	// expired transactions and chunk assemblies (§5: "≤100 ms granularity").
	TimeoutPollInterval = 100 * time.Millisecond
)

// Config defines the PE transaction engine's tunables. The default is
// applied for each unspecified (zero) value.
type Config struct {
	// MaxInflightPerDevice bounds the number of concurrent outstanding
	// requests to a single destination MUID (§4.6). Range [1, 128], default 2.
	MaxInflightPerDevice int

	// DefaultRequestTimeout is used when a caller's operation does not
	// supply its own timeout. Range [100ms, 5m], default 5s.
	DefaultRequestTimeout time.Duration

	// RequestIDCooldown is handed to the request-ID pool (C4). Range
	// [0, 30s], default 2s. -1 explicitly disables cooldown (0 means
	// "unspecified, use the default" per this type's defaulting convention).
	RequestIDCooldown time.Duration

	// ReplyAssemblyTimeout bounds how long a partial PE reply chunk
	// assembly may sit incomplete before it is abandoned (§4.5). Range
	// [50ms, 10s], default 500ms.
	ReplyAssemblyTimeout time.Duration

	// NotifyAssemblyTimeout is the analogous bound for Notify assemblies,
	// which are typically slower and looser (§4.5). Range [1s, 5m],
	// default 5s.
	NotifyAssemblyTimeout time.Duration

	// BLETimeoutMultiplier stretches every operation's effective timeout
	// when the destination's transport is classified BLE (§6.1). Default 3
	// (e.g. a 5s default timeout becomes 15s).
	BLETimeoutMultiplier int
}

// Valid applies the default for each unspecified value and range-checks
// anything explicitly set.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("pe: invalid pointer")
	}

	if c.MaxInflightPerDevice == 0 {
		c.MaxInflightPerDevice = 2
	} else if c.MaxInflightPerDevice < MaxInflightPerDeviceMin || c.MaxInflightPerDevice > MaxInflightPerDeviceMax {
		return errors.New("pe: MaxInflightPerDevice not in [1, 128]")
	}

	if c.DefaultRequestTimeout == 0 {
		c.DefaultRequestTimeout = 5 * time.Second
	} else if c.DefaultRequestTimeout < RequestTimeoutMin || c.DefaultRequestTimeout > RequestTimeoutMax {
		return errors.New("pe: DefaultRequestTimeout not in [100ms, 5m]")
	}

	switch {
	case c.RequestIDCooldown == 0:
		c.RequestIDCooldown = 2 * time.Second
	case c.RequestIDCooldown == -1:
		c.RequestIDCooldown = 0
	case c.RequestIDCooldown < 0 || c.RequestIDCooldown > RequestIDCooldownMax:
		return errors.New("pe: RequestIDCooldown not in [-1, 30s]")
	}

	if c.ReplyAssemblyTimeout == 0 {
		c.ReplyAssemblyTimeout = 500 * time.Millisecond
	} else if c.ReplyAssemblyTimeout < ReplyAssemblyTimeoutMin || c.ReplyAssemblyTimeout > ReplyAssemblyTimeoutMax {
		return errors.New("pe: ReplyAssemblyTimeout not in [50ms, 10s]")
	}

	if c.NotifyAssemblyTimeout == 0 {
		c.NotifyAssemblyTimeout = 5 * time.Second
	} else if c.NotifyAssemblyTimeout < NotifyAssemblyTimeoutMin || c.NotifyAssemblyTimeout > NotifyAssemblyTimeoutMax {
		return errors.New("pe: NotifyAssemblyTimeout not in [1s, 5m]")
	}

	if c.BLETimeoutMultiplier == 0 {
		c.BLETimeoutMultiplier = 3
	} else if c.BLETimeoutMultiplier < 1 {
		return errors.New("pe: BLETimeoutMultiplier must be >= 1")
	}

	return nil
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	c := Config{}
	_ = c.Valid()
	return c
}
