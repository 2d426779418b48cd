// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rob-gra/go-midici/chunkasm"
	"github.com/rob-gra/go-midici/ci"
	"github.com/rob-gra/go-midici/clog"
	"github.com/rob-gra/go-midici/reqpool"
	"github.com/rob-gra/go-midici/sysex"
	"github.com/rob-gra/go-midici/transport"
)

// notifyKey keys chunk assembly for Notify messages: (source_muid,
// request_id), since a notify is not a reply to a specific caller request.
type notifyKey struct {
	source ci.MUID
	reqID  byte
}

// Notification is a completed PE Notify delivered on Engine's Notify
// channel (§4.6 step 4).
type Notification struct {
	SubscribeID string
	Resource    string
	Data        []byte
	From        DeviceHandle
}

// SysExLimiter reports the known max SysEx size of a device, if any, so
// sends can chunk when the payload would exceed it (§4.6 step 3). An
// orchestrator typically wires this to the discovery manager's device map.
type SysExLimiter func(DeviceHandle) (max uint32, ok bool)

// RequestOptions carries the optional modifiers shared by Get/Set/Subscribe
// (§3 PE request, §6.3 request header).
type RequestOptions struct {
	Channel        *int
	Offset         *int
	Limit          *int
	Timeout        time.Duration
	MutualEncoding string
}

// Engine is the PE transaction engine (C6): Get/Set/Subscribe/Unsubscribe/
// BatchSet over a Transport, with per-device admission control, request-ID
// leasing, chunk reassembly, timeout polling and cooperative cancellation.
type Engine struct {
	cfg     Config
	log     clog.Clog
	tp      transport.Transport
	ourMUID ci.MUID
	limiter SysExLimiter

	pool      *reqpool.Pool
	replyAsm  *chunkasm.Assembler[byte]
	notifyAsm *chunkasm.Assembler[notifyKey]

	mu      sync.Mutex
	txns    map[byte]*transaction
	subs    map[string]*subscription
	sems    map[ci.MUID]*semaphore.Weighted
	reasm   map[string]*sysex.Reassembler // per transport source id
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	Notify chan Notification
}

// New creates an Engine. ourMUID is the local node's identity, used as the
// CI source MUID on every outbound message.
func New(cfg Config, tp transport.Transport, ourMUID ci.MUID, log clog.Clog) (*Engine, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		tp:        tp,
		ourMUID:   ourMUID,
		pool:      reqpool.New(cfg.RequestIDCooldown),
		replyAsm:  chunkasm.New[byte](cfg.ReplyAssemblyTimeout),
		notifyAsm: chunkasm.New[notifyKey](cfg.NotifyAssemblyTimeout),
		txns:      make(map[byte]*transaction),
		subs:      make(map[string]*subscription),
		sems:      make(map[ci.MUID]*semaphore.Weighted),
		reasm:     make(map[string]*sysex.Reassembler),
		Notify:    make(chan Notification, 32),
	}, nil
}

// SetSysExLimiter wires a device max-SysEx-size lookup used when chunking
// Set/Subscribe sends. Must be called before Start.
func (e *Engine) SetSysExLimiter(f SysExLimiter) { e.limiter = f }

// Start launches the receive loop and timeout poller. Starting again after
// Stop is valid (§4.6).
func (e *Engine) Start(ctx context.Context) error {
	ch, err := e.tp.Receive(ctx)
	if err != nil {
		return fmt.Errorf("pe: start receive: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.stopped = false
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); e.receiveLoop(runCtx, ch) }()
	go func() { defer wg.Done(); e.timeoutLoop(runCtx) }()
	go func() { wg.Wait(); close(done) }()
	return nil
}

// Stop is idempotent: it cancels every pending transaction (each waiter
// receives cancelled), clears subscriptions, releases all request IDs
// (including cooldown state), and stops the receive/timeout loops.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.cancel
	done := e.done
	// Snapshot before releasing the lock so teardown never mutates the map
	// while another goroutine might range over it (§4.6: avoid the
	// iterate-while-mutating bug under concurrent stress).
	snapshot := make([]*transaction, 0, len(e.txns))
	for _, t := range e.txns {
		snapshot = append(snapshot, t)
	}
	e.txns = make(map[byte]*transaction)
	e.subs = make(map[string]*subscription)
	e.mu.Unlock()

	for _, t := range snapshot {
		t.waiter.resolve(result{err: errCancelled()})
	}
	e.pool.ReleaseAll()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// effectiveTimeout applies the BLE stretch multiplier when the device's
// transport is classified BLE.
func (e *Engine) effectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = e.cfg.DefaultRequestTimeout
	}
	if e.tp.Type() == transport.TypeBLE {
		requested *= time.Duration(e.cfg.BLETimeoutMultiplier)
	}
	return requested
}

func (e *Engine) semaphoreFor(muid ci.MUID) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sems[muid]
	if !ok {
		s = semaphore.NewWeighted(int64(e.cfg.MaxInflightPerDevice))
		e.sems[muid] = s
	}
	return s
}

// requestHeader is the common shape of a PE request header (§6.3).
type requestHeader struct {
	Resource       string `json:"resource"`
	ResID          string `json:"resId,omitempty"`
	Offset         *int   `json:"offset,omitempty"`
	Limit          *int   `json:"limit,omitempty"`
	Channel        *int   `json:"channel,omitempty"`
	MutualEncoding string `json:"mutualEncoding,omitempty"`
	Command        string `json:"command,omitempty"`
	SubscribeID    string `json:"subscribeId,omitempty"`
}

// replyHeader is the common shape of a PE reply header (§6.3).
type replyHeader struct {
	Status      int    `json:"status"`
	Message     string `json:"message,omitempty"`
	SubscribeID string `json:"subscribeId,omitempty"`
	TotalSize   int    `json:"totalSize,omitempty"`
	Resource    string `json:"resource,omitempty"`
}

// send allocates a request ID, records the transaction, builds and sends
// the wire message(s) and arms the timeout (§4.6 step 1-4). On admission or
// allocation failure it returns a *Error directly instead of queuing.
// buildSingle is used for the one request type with no chunk fields (Get
// Inquiry); every other request type goes through buildChunk and chunkSend.
func (e *Engine) send(
	ctx context.Context, op operation, dest DeviceHandle, resource string,
	header requestHeader, body []byte, timeout time.Duration,
	buildChunk func(reqID byte, c ci.ChunkedPayload) ci.Message,
	buildSingle func(reqID byte, headerBytes []byte) ci.Message,
) (byte, *waiter, error) {
	sem := e.semaphoreFor(dest.MUID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return 0, nil, errCancelled()
	}

	now := time.Now()
	reqID := e.pool.Acquire(now)
	if reqID == reqpool.Unavailable {
		sem.Release(1)
		return 0, nil, errNearExhaustion()
	}

	w := newWaiter()
	eff := e.effectiveTimeout(timeout)
	t := &transaction{
		requestID:   byte(reqID),
		op:          op,
		resource:    resource,
		destination: dest,
		startedAt:   now,
		deadline:    now.Add(eff),
		waiter:      w,
	}
	if op == opUnsubscribe {
		t.subscribeID = header.SubscribeID
	}

	e.mu.Lock()
	e.txns[byte(reqID)] = t
	e.mu.Unlock()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		e.releaseTxn(byte(reqID), dest.MUID)
		return 0, nil, errValidation("header marshal: " + err.Error())
	}

	var msgs []ci.Message
	if buildSingle != nil {
		msgs = []ci.Message{buildSingle(byte(reqID), headerJSON)}
	} else {
		msgs = e.chunkSend(byte(reqID), dest, headerJSON, body, buildChunk)
	}

	for _, m := range msgs {
		frame, encErr := ci.Encode(m)
		if encErr != nil {
			e.releaseTxn(byte(reqID), dest.MUID)
			return 0, nil, errValidation("encode: " + encErr.Error())
		}
		if sendErr := e.tp.Send(ctx, frame, dest.DestinationID); sendErr != nil {
			e.releaseTxn(byte(reqID), dest.MUID)
			return 0, nil, errTransport(sendErr)
		}
	}

	return byte(reqID), w, nil
}

// chunkSend splits body into chunk-framed messages sized to fit under the
// device's known max SysEx size, or a single chunk if the limit is
// unknown or not exceeded. The header is only carried on the first chunk.
func (e *Engine) chunkSend(reqID byte, dest DeviceHandle, headerJSON, body []byte, build func(reqID byte, c ci.ChunkedPayload) ci.Message) []ci.Message {
	maxSize, ok := uint32(0), false
	if e.limiter != nil {
		maxSize, ok = e.limiter(dest)
	}
	if !ok || maxSize == 0 {
		return []ci.Message{build(reqID, ci.ChunkedPayload{
			RequestID: reqID, HeaderBytes: headerJSON, NumChunks: 1, ThisChunk: 1, PropertyBytes: body,
		})}
	}

	const chunkFixedOverhead = ci.EnvelopeSize + 1 /*F7*/ + 9 /*chunk triple*/
	budget := int(maxSize) - chunkFixedOverhead - len(headerJSON)
	if budget < 1 {
		budget = 1
	}
	if len(body) == 0 {
		return []ci.Message{build(reqID, ci.ChunkedPayload{
			RequestID: reqID, HeaderBytes: headerJSON, NumChunks: 1, ThisChunk: 1,
		})}
	}

	numChunks := (len(body) + budget - 1) / budget
	msgs := make([]ci.Message, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * budget
		end := start + budget
		if end > len(body) {
			end = len(body)
		}
		hdr := headerJSON
		if i > 0 {
			hdr = nil
		}
		msgs = append(msgs, build(reqID, ci.ChunkedPayload{
			RequestID:     reqID,
			HeaderBytes:   hdr,
			NumChunks:     uint16(numChunks),
			ThisChunk:     uint16(i + 1),
			PropertyBytes: body[start:end],
		}))
	}
	return msgs
}

// releaseTxn removes the transaction record, releases the request ID into
// cooldown, and releases the admission slot. Called on every terminal
// path: completion, error, NAK, timeout and cancellation (§5 leak safety).
func (e *Engine) releaseTxn(reqID byte, muid ci.MUID) {
	e.mu.Lock()
	delete(e.txns, reqID)
	e.mu.Unlock()
	e.pool.Release(int(reqID), time.Now())
	e.semaphoreFor(muid).Release(1)
}

// await blocks on w until it resolves or ctx is cancelled, in which case
// the transaction is torn down as cancelled.
func (e *Engine) await(ctx context.Context, reqID byte, muid ci.MUID, w *waiter) (*Response, error) {
	select {
	case r := <-w.done:
		return r.resp, r.err
	case <-ctx.Done():
		w.resolve(result{err: errCancelled()})
		e.releaseTxn(reqID, muid)
		return nil, errCancelled()
	}
}

// Get emits a Get Inquiry and blocks for the reply (§4.6).
func (e *Engine) Get(ctx context.Context, dest DeviceHandle, resource string, opts RequestOptions) (*Response, error) {
	if resource == "" {
		return nil, errValidation("resource must be non-empty")
	}
	if opts.Channel != nil && (*opts.Channel < 0 || *opts.Channel > 127) {
		return nil, errValidation(fmt.Sprintf("invalid_channel(%d)", *opts.Channel))
	}

	hdr := requestHeader{Resource: resource, Offset: opts.Offset, Limit: opts.Limit, Channel: opts.Channel}
	reqID, w, err := e.send(ctx, opGet, dest, resource, hdr, nil, opts.Timeout, nil,
		func(reqID byte, headerBytes []byte) ci.Message {
			return ci.PEGetInquiry{
				Header:    ci.Header{Version: ci.Version1_2, Source: e.ourMUID, Destination: dest.MUID},
				RequestID: reqID,
				Header_:   headerBytes,
			}
		})
	if err != nil {
		return nil, err
	}
	return e.await(ctx, reqID, dest.MUID, w)
}

// Set emits a Set Inquiry with data and blocks for the reply (§4.6).
func (e *Engine) Set(ctx context.Context, dest DeviceHandle, resource string, data []byte, opts RequestOptions) (*Response, error) {
	if resource == "" {
		return nil, errValidation("resource must be non-empty")
	}
	if len(data) == 0 {
		return nil, errValidation("set requires a non-empty body")
	}
	if opts.Channel != nil && (*opts.Channel < 0 || *opts.Channel > 127) {
		return nil, errValidation(fmt.Sprintf("invalid_channel(%d)", *opts.Channel))
	}

	encoding := opts.MutualEncoding
	if encoding == "" {
		encoding = "Mcoded7"
	}
	var wire []byte
	switch encoding {
	case "ASCII":
		wire = data
	case "zlib+Mcoded7":
		enc, compressed := ci.EncodeCompressed(data, ci.DefaultCompressionThreshold)
		wire = enc
		if compressed {
			encoding = "zlib+Mcoded7"
		} else {
			encoding = "Mcoded7"
		}
	default:
		wire = ci.EncodeMcoded7(data)
	}

	hdr := requestHeader{Resource: resource, Channel: opts.Channel, MutualEncoding: encoding}
	reqID, w, err := e.send(ctx, opSet, dest, resource, hdr, wire, opts.Timeout,
		func(reqID byte, c ci.ChunkedPayload) ci.Message {
			return ci.PESetInquiry{Header: ci.Header{Version: ci.Version1_2, Source: e.ourMUID, Destination: dest.MUID}, ChunkedPayload: c}
		}, nil)
	if err != nil {
		return nil, err
	}
	return e.await(ctx, reqID, dest.MUID, w)
}

// Subscribe emits a Subscribe Inquiry and, on success, registers the
// subscription keyed by the reply's subscribeId (§4.6).
func (e *Engine) Subscribe(ctx context.Context, dest DeviceHandle, resource string, timeout time.Duration) (*Response, error) {
	if resource == "" {
		return nil, errValidation("resource must be non-empty")
	}
	hdr := requestHeader{Resource: resource, Command: "start"}
	reqID, w, err := e.send(ctx, opSubscribe, dest, resource, hdr, nil, timeout,
		func(reqID byte, c ci.ChunkedPayload) ci.Message {
			return ci.PESubscribe{Header: ci.Header{Version: ci.Version1_2, Source: e.ourMUID, Destination: dest.MUID}, ChunkedPayload: c}
		}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.await(ctx, reqID, dest.MUID, w)
	if err != nil {
		return nil, err
	}
	if resp.SubscribeID != "" {
		e.mu.Lock()
		e.subs[resp.SubscribeID] = &subscription{
			subscribeID: resp.SubscribeID, resource: resource, destination: dest, createdAt: time.Now(),
		}
		e.mu.Unlock()
	}
	return resp, nil
}

// Unsubscribe looks up the subscription's resource/device, emits a
// Subscribe with command "end", and removes the subscription on success
// (§4.6).
func (e *Engine) Unsubscribe(ctx context.Context, subscribeID string, timeout time.Duration) (*Response, error) {
	e.mu.Lock()
	sub, ok := e.subs[subscribeID]
	e.mu.Unlock()
	if !ok {
		return nil, errValidation("unknown subscribeId: " + subscribeID)
	}

	hdr := requestHeader{Resource: sub.resource, Command: "end", SubscribeID: subscribeID}
	reqID, w, err := e.send(ctx, opUnsubscribe, sub.destination, sub.resource, hdr, nil, timeout,
		func(reqID byte, c ci.ChunkedPayload) ci.Message {
			return ci.PESubscribe{Header: ci.Header{Version: ci.Version1_2, Source: e.ourMUID, Destination: sub.destination.MUID}, ChunkedPayload: c}
		}, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.await(ctx, reqID, sub.destination.MUID, w)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	delete(e.subs, subscribeID)
	e.mu.Unlock()
	return resp, nil
}
