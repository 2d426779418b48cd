// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package midici is the orchestrator façade (C8): it composes the PE
// transaction engine (C6) and the discovery manager (C7) into one client,
// fusing their event streams and offering typed helpers for well-known PE
// resources.
package midici

import (
	"github.com/rob-gra/go-midici/ci"
	"github.com/rob-gra/go-midici/discovery"
	"github.com/rob-gra/go-midici/pe"
)

// CIEventKind discriminates the fused event stream's variants.
type CIEventKind int

const (
	EventDeviceDiscovered CIEventKind = iota
	EventDeviceUpdated
	EventDeviceLost
	EventNotification
)

// CIEvent fuses discovery.Event and pe.Notification into one stream
// (§4.8). Exactly one of Device/Notification is meaningful, per Kind.
type CIEvent struct {
	Kind         CIEventKind
	MUID         ci.MUID
	Device       discovery.Device
	Notification pe.Notification
}

func fromDiscoveryEvent(e discovery.Event) CIEvent {
	switch e.Kind {
	case discovery.EventDeviceDiscovered:
		return CIEvent{Kind: EventDeviceDiscovered, MUID: e.MUID, Device: e.Device}
	case discovery.EventDeviceUpdated:
		return CIEvent{Kind: EventDeviceUpdated, MUID: e.MUID, Device: e.Device}
	default:
		return CIEvent{Kind: EventDeviceLost, MUID: e.MUID}
	}
}

func fromNotification(n pe.Notification) CIEvent {
	return CIEvent{Kind: EventNotification, Notification: n}
}
