// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package discovery implements the CI discovery manager (C7): periodic
// broadcast Discovery Inquiry, device-map maintenance from Discovery
// Replies, MUID invalidation, and timeout-based device eviction.
package discovery

import (
	"errors"
	"time"

	"github.com/rob-gra/go-midici/ci"
)

const (
	DiscoveryIntervalMin = 1 * time.Second
	DiscoveryIntervalMax = 5 * time.Minute

	DeviceTimeoutMin = 5 * time.Second
	DeviceTimeoutMax = 30 * time.Minute
)

// Config defines the discovery manager's tunables and this node's own
// identity as advertised on the wire. The default is applied for each
// unspecified value.
type Config struct {
	// DiscoveryInterval is the period between broadcast Discovery Inquiries
	// (§4.7). Range [1s, 5m], default 5s.
	DiscoveryInterval time.Duration

	// DeviceTimeout evicts a device whose last Discovery Reply is older
	// than this (§4.7). Range [5s, 30m], default 15s.
	DeviceTimeout time.Duration

	// Identity is this node's own identity, sent in every Discovery
	// Inquiry (§3).
	Identity ci.Identity

	// CategorySupport is this node's own supported-category bitmask.
	CategorySupport ci.CategorySupport

	// MaxSysExSize is this node's own receive buffer limit, advertised in
	// Discovery Inquiries.
	MaxSysExSize uint32
}

// Valid applies the default for each unspecified value and range-checks
// anything explicitly set.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("discovery: invalid pointer")
	}

	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = 5 * time.Second
	} else if c.DiscoveryInterval < DiscoveryIntervalMin || c.DiscoveryInterval > DiscoveryIntervalMax {
		return errors.New("discovery: DiscoveryInterval not in [1s, 5m]")
	}

	if c.DeviceTimeout == 0 {
		c.DeviceTimeout = 15 * time.Second
	} else if c.DeviceTimeout < DeviceTimeoutMin || c.DeviceTimeout > DeviceTimeoutMax {
		return errors.New("discovery: DeviceTimeout not in [5s, 30m]")
	}

	if c.MaxSysExSize == 0 {
		c.MaxSysExSize = 4096
	}

	return nil
}
