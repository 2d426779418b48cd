// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rob-gra/go-midici/ci"
	"github.com/rob-gra/go-midici/clog"
	"github.com/rob-gra/go-midici/sysex"
	"github.com/rob-gra/go-midici/transport"
)

// Device is one entry in the discovery manager's device map (§3
// "Discovered device").
type Device struct {
	MUID                ci.MUID
	Identity            ci.Identity
	CategorySupport     ci.CategorySupport
	MaxSysExSize        uint32
	InitiatorOutputPath byte
	HasOutputPath       bool
	FunctionBlock       byte
	HasFunctionBlock    bool
	LastSeen            time.Time
}

// EventKind discriminates the kinds of events the Manager emits.
type EventKind int

const (
	EventDeviceDiscovered EventKind = iota
	EventDeviceUpdated
	EventDeviceLost
)

// Event is one device-map change (§4.7).
type Event struct {
	Kind   EventKind
	MUID   ci.MUID
	Device Device // zero value on EventDeviceLost
}

// Manager is the CI discovery manager (C7). It generates a random MUID on
// construction, persistent for the process lifetime.
type Manager struct {
	cfg     Config
	tp      transport.Transport
	ourMUID ci.MUID
	log     clog.Clog

	mu      sync.Mutex
	devices map[ci.MUID]Device
	reasm   map[string]*sysex.Reassembler
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	Events chan Event
}

// New creates a Manager with a fresh random MUID.
func New(cfg Config, tp transport.Transport, log clog.Clog) (*Manager, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		tp:      tp,
		ourMUID: ci.NewRandomMUID(),
		log:     log,
		devices: make(map[ci.MUID]Device),
		reasm:   make(map[string]*sysex.Reassembler),
		Events:  make(chan Event, 32),
	}, nil
}

// OurMUID returns this node's own MUID.
func (m *Manager) OurMUID() ci.MUID { return m.ourMUID }

// Start launches the broadcast-retransmission loop, the receive loop and
// the eviction sweep.
func (m *Manager) Start(ctx context.Context) error {
	ch, err := m.tp.Receive(ctx)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.stopped = false
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); m.broadcastLoop(runCtx) }()
	go func() { defer wg.Done(); m.receiveLoop(runCtx, ch) }()
	go func() { defer wg.Done(); m.evictLoop(runCtx) }()
	go func() { wg.Wait(); close(done) }()
	return nil
}

// Stop is idempotent: it stops every loop. Devices are left in the map;
// call ClearDevices separately if the caller wants them evicted.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ClearDevices removes every entry from the device map, emitting
// device_lost for each (§4.7).
func (m *Manager) ClearDevices() {
	m.mu.Lock()
	removed := make([]ci.MUID, 0, len(m.devices))
	for muid := range m.devices {
		removed = append(removed, muid)
	}
	m.devices = make(map[ci.MUID]Device)
	m.mu.Unlock()

	for _, muid := range removed {
		m.emit(Event{Kind: EventDeviceLost, MUID: muid})
	}
}

// Devices returns a snapshot of the current device map.
func (m *Manager) Devices() map[ci.MUID]Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ci.MUID]Device, len(m.devices))
	for k, v := range m.devices {
		out[k] = v
	}
	return out
}

// MaxSysExSize reports the max SysEx size of a device known to this
// manager, keyed on MUID. midici.New wraps it as the PE engine's
// pe.SysExLimiter, ignoring the handle's destination id component.
func (m *Manager) MaxSysExSize(muid ci.MUID) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[muid]
	if !ok || d.MaxSysExSize == 0 {
		return 0, false
	}
	return d.MaxSysExSize, true
}

func (m *Manager) emit(ev Event) {
	select {
	case m.Events <- ev:
	default:
		m.log.Warn("discovery: event channel full, dropping %v for %08X", ev.Kind, ev.MUID)
	}
}

func (m *Manager) broadcastLoop(ctx context.Context) {
	m.broadcast(ctx)
	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.broadcast(ctx)
		}
	}
}

func (m *Manager) broadcast(ctx context.Context) {
	msg := ci.Discovery{
		Header: ci.Header{Version: ci.Version1_2, Source: m.ourMUID, Destination: ci.MUIDBroadcast},
		Identity: m.cfg.Identity, CategorySupport: m.cfg.CategorySupport, MaxSysExSize: m.cfg.MaxSysExSize,
	}
	frame, err := ci.Encode(msg)
	if err != nil {
		m.log.Error("discovery: encode broadcast: %v", err)
		return
	}
	dests, err := m.tp.Destinations(ctx)
	if err != nil {
		m.log.Error("discovery: enumerate destinations: %v", err)
		return
	}
	for _, d := range dests {
		if err := m.tp.Send(ctx, frame, d.ID); err != nil {
			m.log.Warn("discovery: send broadcast to %s: %v", d.ID, err)
		}
	}
}

func (m *Manager) receiveLoop(ctx context.Context, packets <-chan transport.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			m.mu.Lock()
			r, ok := m.reasm[pkt.SourceID]
			if !ok {
				r = sysex.New()
				m.reasm[pkt.SourceID] = r
			}
			m.mu.Unlock()

			for _, frame := range r.Feed(pkt.Data) {
				msg, err := ci.Decode(frame)
				if err != nil {
					continue
				}
				m.handle(msg)
			}
		}
	}
}

func (m *Manager) handle(msg ci.Message) {
	switch v := msg.(type) {
	case ci.DiscoveryReply:
		if v.Destination != m.ourMUID {
			return
		}
		m.upsert(v)
	case ci.InvalidateMUID:
		m.invalidate(v.TargetMUID)
	default:
	}
}

func (m *Manager) upsert(v ci.DiscoveryReply) {
	now := time.Now()
	d := Device{
		MUID: v.Source, Identity: v.Identity, CategorySupport: v.CategorySupport,
		MaxSysExSize: v.MaxSysExSize, InitiatorOutputPath: v.InitiatorOutputPath,
		HasOutputPath: v.HasOutputPath, FunctionBlock: v.FunctionBlock,
		HasFunctionBlock: v.HasFunctionBlock, LastSeen: now,
	}

	m.mu.Lock()
	prior, existed := m.devices[v.Source]
	m.devices[v.Source] = d
	m.mu.Unlock()

	if !existed {
		m.emit(Event{Kind: EventDeviceDiscovered, MUID: v.Source, Device: d})
		return
	}
	if prior.Identity != d.Identity || prior.CategorySupport != d.CategorySupport || prior.MaxSysExSize != d.MaxSysExSize {
		m.emit(Event{Kind: EventDeviceUpdated, MUID: v.Source, Device: d})
	}
}

func (m *Manager) invalidate(target ci.MUID) {
	m.mu.Lock()
	_, ok := m.devices[target]
	if ok {
		delete(m.devices, target)
	}
	m.mu.Unlock()
	if ok {
		m.emit(Event{Kind: EventDeviceLost, MUID: target})
	}
}

func (m *Manager) evictLoop(ctx context.Context) {
	interval := m.cfg.DeviceTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *Manager) evictStale() {
	now := time.Now()
	m.mu.Lock()
	var stale []ci.MUID
	for muid, d := range m.devices {
		if now.Sub(d.LastSeen) > m.cfg.DeviceTimeout {
			stale = append(stale, muid)
			delete(m.devices, muid)
		}
	}
	m.mu.Unlock()

	for _, muid := range stale {
		m.emit(Event{Kind: EventDeviceLost, MUID: muid})
	}
}
