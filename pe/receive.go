// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rob-gra/go-midici/ci"
	"github.com/rob-gra/go-midici/sysex"
	"github.com/rob-gra/go-midici/transport"
)

// receiveLoop drains the transport's packet stream, reassembles whole
// SysEx frames per source (C2), decodes each as a CI message (C1), and
// dispatches it. Packets from a single transport delivery are processed
// strictly in arrival order (§5).
func (e *Engine) receiveLoop(ctx context.Context, packets <-chan transport.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			e.mu.Lock()
			r, ok := e.reasm[pkt.SourceID]
			if !ok {
				r = sysex.New()
				e.reasm[pkt.SourceID] = r
			}
			e.mu.Unlock()

			for _, frame := range r.Feed(pkt.Data) {
				m, err := ci.Decode(frame)
				if err != nil {
					e.log.Debug("pe: dropping unparsable frame from %s: %v", pkt.SourceID, err)
					continue
				}
				e.dispatch(m)
			}
		}
	}
}

// dispatch routes one decoded CI message to its transaction, subscription
// or notification handling (§4.6 "Receiving").
func (e *Engine) dispatch(m ci.Message) {
	h := ci.Envelope(m)
	if h.Destination != e.ourMUID && !h.Destination.IsBroadcast() {
		return
	}

	switch v := m.(type) {
	case ci.PEGetReply:
		e.handleChunkedReply(v.ChunkedPayload)
	case ci.PESetReply:
		e.handleChunkedReply(v.ChunkedPayload)
	case ci.PESubscribeReply:
		e.handleChunkedReply(v.ChunkedPayload)
	case ci.NAK:
		e.handleNAK(v)
	case ci.PENotify:
		e.handleNotify(h.Source, v.ChunkedPayload)
	default:
		// Discovery, InvalidateMUID, Process Inquiry and PE Capability
		// messages are outside C6's scope (§4.6 Non-goals); dropped here.
	}
}

func (e *Engine) handleChunkedReply(c ci.ChunkedPayload) {
	status := e.replyAsm.Add(c.RequestID, c.ThisChunk, c.NumChunks, c.HeaderBytes, c.PropertyBytes, time.Now())
	if !status.Done {
		return
	}

	e.mu.Lock()
	t, ok := e.txns[c.RequestID]
	if ok {
		delete(e.txns, c.RequestID)
	}
	e.mu.Unlock()
	if !ok {
		// No matching transaction: stale reply after timeout/cancel. Drop.
		return
	}

	var rh replyHeader
	if err := json.Unmarshal(status.Complete.Header, &rh); err != nil {
		t.waiter.resolve(result{err: errInvalidResponse("reply header: " + err.Error())})
		e.releaseTxn(t.requestID, t.destination.MUID)
		return
	}

	data, decErr := decodeReplyBody(status.Complete.Property)
	if decErr != nil {
		t.waiter.resolve(result{err: errInvalidResponse("reply body: " + decErr.Error())})
		e.releaseTxn(t.requestID, t.destination.MUID)
		return
	}

	switch {
	case rh.Status >= 200 && rh.Status < 300:
		if len(data) == 0 && t.op == opGet {
			t.waiter.resolve(result{err: errEmptyResponse(t.resource)})
		} else {
			t.waiter.resolve(result{resp: &Response{
				Status: rh.Status, Message: rh.Message, Data: data,
				SubscribeID: rh.SubscribeID, Resource: t.resource,
			}})
		}
	default:
		t.waiter.resolve(result{err: errDevice(t.resource, rh.Status, rh.Message)})
	}
	e.releaseTxn(t.requestID, t.destination.MUID)
}

// decodeReplyBody best-effort decodes a reply's property bytes. Absent an
// explicit encoding tag on reply headers (§6.3 only documents one on
// requests), Mcoded7 is attempted first since it is the default a
// conforming responder emits; bytes that fail to decode (e.g. a responder
// that replied in plain ASCII) are returned as-is rather than erroring, in
// keeping with lenient-at-the-edges parsing (§7).
func decodeReplyBody(property []byte) ([]byte, error) {
	if len(property) == 0 {
		return nil, nil
	}
	if decoded, err := ci.DecodeMcoded7(property); err == nil {
		return decoded, nil
	}
	return property, nil
}

func (e *Engine) handleNAK(v ci.NAK) {
	e.mu.Lock()
	t, ok := e.txns[v.OrigTransaction]
	if ok {
		delete(e.txns, v.OrigTransaction)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	msg := ""
	if v.HasMessage {
		msg = v.Message
	}
	t.waiter.resolve(result{err: errNAK(v.StatusData, msg)})
	e.releaseTxn(t.requestID, t.destination.MUID)
}

func (e *Engine) handleNotify(source ci.MUID, c ci.ChunkedPayload) {
	key := notifyKey{source: source, reqID: c.RequestID}
	status := e.notifyAsm.Add(key, c.ThisChunk, c.NumChunks, c.HeaderBytes, c.PropertyBytes, time.Now())
	if !status.Done {
		return
	}

	var rh replyHeader
	if err := json.Unmarshal(status.Complete.Header, &rh); err != nil {
		return
	}
	if rh.SubscribeID == "" {
		return
	}

	e.mu.Lock()
	sub, ok := e.subs[rh.SubscribeID]
	e.mu.Unlock()
	if !ok {
		return // unknown subscribeId: dropped silently (§4.6 step 4)
	}

	data, err := decodeReplyBody(status.Complete.Property)
	if err != nil {
		return
	}

	select {
	case e.Notify <- Notification{
		SubscribeID: rh.SubscribeID, Resource: sub.resource, Data: data, From: sub.destination,
	}:
	default:
		e.log.Warn("pe: notify channel full, dropping notification for %s", rh.SubscribeID)
	}
}

// timeoutLoop periodically resolves expired transactions and abandons
// stale chunk assemblies (§4.5, §4.6, §5: ≤100ms granularity).
func (e *Engine) timeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(TimeoutPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollTimeouts()
		}
	}
}

func (e *Engine) pollTimeouts() {
	now := time.Now()

	e.mu.Lock()
	var expired []*transaction
	for id, t := range e.txns {
		if now.After(t.deadline) {
			expired = append(expired, t)
			delete(e.txns, id)
		}
	}
	e.mu.Unlock()

	for _, t := range expired {
		t.waiter.resolve(result{err: errTimeout(t.resource)})
		e.releaseTxn(t.requestID, t.destination.MUID)
	}

	for _, to := range e.replyAsm.PollTimeouts(now) {
		e.mu.Lock()
		t, ok := e.txns[to.Key]
		if ok {
			delete(e.txns, to.Key)
		}
		e.mu.Unlock()
		if ok {
			t.waiter.resolve(result{err: errTimeout(t.resource)})
			e.releaseTxn(t.requestID, t.destination.MUID)
		}
	}

	for range e.notifyAsm.PollTimeouts(now) {
		e.log.Debug("pe: abandoned an incomplete notify assembly past its timeout")
	}
}
