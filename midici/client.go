// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package midici

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rob-gra/go-midici/ci"
	"github.com/rob-gra/go-midici/clog"
	"github.com/rob-gra/go-midici/discovery"
	"github.com/rob-gra/go-midici/pe"
	"github.com/rob-gra/go-midici/transport"
)

// Options configures a Client. The default is applied for each
// unspecified value.
type Options struct {
	PE        pe.Config
	Discovery discovery.Config

	// LogProvider overrides the default logger backend for every internal
	// component. Nil keeps charmbracelet/log's default.
	LogProvider clog.LogProvider
	// LogEnabled turns internal logging on; off by default, matching this
	// module's library-should-be-quiet-unless-asked convention.
	LogEnabled bool
}

// Valid applies defaults and range-checks PE and Discovery.
func (o *Options) Valid() error {
	if o == nil {
		return errors.New("midici: invalid pointer")
	}
	if err := o.PE.Valid(); err != nil {
		return err
	}
	if err := o.Discovery.Valid(); err != nil {
		return err
	}
	return nil
}

// Client is the orchestrator façade (C8): a PE transaction engine and a
// discovery manager sharing one transport, with one fused event stream.
type Client struct {
	pe   *pe.Engine
	disc *discovery.Manager
	tp   transport.Transport
	log  clog.Clog

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	Events chan CIEvent
}

// New constructs a Client over tp. The discovery manager mints this
// node's MUID; the PE engine is wired to use it as the CI source MUID and
// to consult the discovery manager's device map for known max-SysEx-size
// limits.
func New(tp transport.Transport, opts Options) (*Client, error) {
	if err := opts.Valid(); err != nil {
		return nil, err
	}

	log := clog.NewLogger("midici")
	if opts.LogProvider != nil {
		log.SetLogProvider(opts.LogProvider)
	}
	log.LogMode(opts.LogEnabled)

	disc, err := discovery.New(opts.Discovery, tp, log)
	if err != nil {
		return nil, err
	}
	eng, err := pe.New(opts.PE, tp, disc.OurMUID(), log)
	if err != nil {
		return nil, err
	}
	eng.SetSysExLimiter(func(h pe.DeviceHandle) (uint32, bool) {
		return disc.MaxSysExSize(h.MUID)
	})

	return &Client{
		pe: eng, disc: disc, tp: tp, log: log,
		Events: make(chan CIEvent, 64),
	}, nil
}

// OurMUID returns this node's own MUID.
func (c *Client) OurMUID() ci.MUID { return c.disc.OurMUID() }

// Start launches discovery and the PE engine, and begins fusing their
// event streams onto Client.Events.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.disc.Start(ctx); err != nil {
		return err
	}
	if err := c.pe.Start(ctx); err != nil {
		c.disc.Stop()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fuse(runCtx)
	}()
	return nil
}

func (c *Client) fuse(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.disc.Events:
			if !ok {
				return
			}
			c.publish(fromDiscoveryEvent(ev))
		case n, ok := <-c.pe.Notify:
			if !ok {
				return
			}
			c.publish(fromNotification(n))
		}
	}
}

func (c *Client) publish(ev CIEvent) {
	select {
	case c.Events <- ev:
	default:
		c.log.Warn("midici: event stream full, dropping event kind %d", ev.Kind)
	}
}

// Stop is idempotent: it stops the PE engine and discovery manager and
// the event fuser.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	c.pe.Stop()
	c.disc.Stop()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Devices returns a snapshot of the currently known devices, keyed by
// MUID.
func (c *Client) Devices() map[ci.MUID]discovery.Device {
	return c.disc.Devices()
}

// Get, Set, Subscribe, Unsubscribe and BatchSet delegate to the PE engine.
func (c *Client) Get(ctx context.Context, h pe.DeviceHandle, resource string, opts pe.RequestOptions) (*pe.Response, error) {
	return c.pe.Get(ctx, h, resource, opts)
}

func (c *Client) Set(ctx context.Context, h pe.DeviceHandle, resource string, data []byte, opts pe.RequestOptions) (*pe.Response, error) {
	return c.pe.Set(ctx, h, resource, data, opts)
}

func (c *Client) Subscribe(ctx context.Context, h pe.DeviceHandle, resource string, timeout time.Duration) (*pe.Response, error) {
	return c.pe.Subscribe(ctx, h, resource, timeout)
}

func (c *Client) Unsubscribe(ctx context.Context, subscribeID string, timeout time.Duration) (*pe.Response, error) {
	return c.pe.Unsubscribe(ctx, subscribeID, timeout)
}

func (c *Client) BatchSet(ctx context.Context, h pe.DeviceHandle, items []pe.SetItem, opts pe.BatchOptions) map[string]pe.BatchResult {
	return c.pe.BatchSet(ctx, h, items, opts)
}
