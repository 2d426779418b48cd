// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rob-gra/go-midici/ci"
	"github.com/rob-gra/go-midici/clog"
	"github.com/rob-gra/go-midici/transport"
)

func newTestEngine(t *testing.T, tp transport.Transport, cfg Config, ourMUID ci.MUID) *Engine {
	t.Helper()
	log := clog.NewLogger("pe-test")
	log.LogMode(false)
	eng, err := New(cfg, tp, ourMUID, log)
	require.NoError(t, err)
	return eng
}

// waitForSent polls until at least one frame has been sent to destinationID,
// or fails the test after a generous bound.
func waitForSent(t *testing.T, tp *transport.MockTransport, destinationID string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sent := tp.Sent(destinationID)
		if len(sent) > 0 {
			return sent[len(sent)-1]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a sent frame")
	return nil
}

func TestEngineGetRoundTrip(t *testing.T) {
	tp := transport.NewMockTransport(transport.TypeVirtual)
	tp.AddDestination("resp", "responder")

	ourMUID := ci.MUID(1)
	respMUID := ci.MUID(2)
	eng := newTestEngine(t, tp, Config{}, ourMUID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop()

	dest := DeviceHandle{MUID: respMUID, DestinationID: "resp"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := waitForSent(t, tp, "resp")
		m, err := ci.Decode(frame)
		require.NoError(t, err)
		inq, ok := m.(ci.PEGetInquiry)
		require.True(t, ok)

		body := ci.EncodeMcoded7([]byte(`{"manufacturerId":"7D"}`))
		reply := ci.PEGetReply{
			Header: ci.Header{Version: ci.Version1_2, Source: respMUID, Destination: ourMUID},
			ChunkedPayload: ci.ChunkedPayload{
				RequestID:     inq.RequestID,
				HeaderBytes:   []byte(`{"status":200}`),
				NumChunks:     1,
				ThisChunk:     1,
				PropertyBytes: body,
			},
		}
		replyFrame, err := ci.Encode(reply)
		require.NoError(t, err)
		tp.Deliver("responder-source", replyFrame)
	}()

	resp, err := eng.Get(ctx, dest, "DeviceInfo", RequestOptions{})
	<-done
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"manufacturerId":"7D"}`, string(resp.Data))
}

func TestEngineSetRoundTrip(t *testing.T) {
	tp := transport.NewMockTransport(transport.TypeVirtual)
	tp.AddDestination("resp", "responder")

	ourMUID := ci.MUID(1)
	respMUID := ci.MUID(2)
	eng := newTestEngine(t, tp, Config{}, ourMUID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop()

	dest := DeviceHandle{MUID: respMUID, DestinationID: "resp"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := waitForSent(t, tp, "resp")
		m, err := ci.Decode(frame)
		require.NoError(t, err)
		inq, ok := m.(ci.PESetInquiry)
		require.True(t, ok)

		reply := ci.PESetReply{
			Header: ci.Header{Version: ci.Version1_2, Source: respMUID, Destination: ourMUID},
			ChunkedPayload: ci.ChunkedPayload{
				RequestID:   inq.RequestID,
				HeaderBytes: []byte(`{"status":200}`),
				NumChunks:   1,
				ThisChunk:   1,
			},
		}
		replyFrame, err := ci.Encode(reply)
		require.NoError(t, err)
		tp.Deliver("responder-source", replyFrame)
	}()

	resp, err := eng.Set(ctx, dest, "X-Custom", []byte(`{"value":1}`), RequestOptions{})
	<-done
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestEngineNAKResolvesAsError(t *testing.T) {
	tp := transport.NewMockTransport(transport.TypeVirtual)
	tp.AddDestination("resp", "responder")

	ourMUID := ci.MUID(1)
	respMUID := ci.MUID(2)
	eng := newTestEngine(t, tp, Config{}, ourMUID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop()

	dest := DeviceHandle{MUID: respMUID, DestinationID: "resp"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := waitForSent(t, tp, "resp")
		m, err := ci.Decode(frame)
		require.NoError(t, err)
		inq, ok := m.(ci.PEGetInquiry)
		require.True(t, ok)

		nak := ci.NAK{
			Header:          ci.Header{Version: ci.Version1_2, Source: respMUID, Destination: ourMUID},
			OrigTransaction: inq.RequestID,
			StatusCode:      0x01,
			StatusData:      0x02,
		}
		replyFrame, err := ci.Encode(nak)
		require.NoError(t, err)
		tp.Deliver("responder-source", replyFrame)
	}()

	_, err := eng.Get(ctx, dest, "DeviceInfo", RequestOptions{})
	<-done
	require.Error(t, err)
	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, KindNAK, pErr.Kind)
	assert.Equal(t, 0x02, pErr.Status)
}

func TestEngineGetTimesOutWithoutResponder(t *testing.T) {
	tp := transport.NewMockTransport(transport.TypeVirtual)
	tp.AddDestination("resp", "responder")

	eng := newTestEngine(t, tp, Config{DefaultRequestTimeout: 100 * time.Millisecond}, ci.MUID(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop()

	dest := DeviceHandle{MUID: ci.MUID(2), DestinationID: "resp"}
	_, err := eng.Get(ctx, dest, "DeviceInfo", RequestOptions{})
	require.Error(t, err)
	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, KindTimeout, pErr.Kind)
}

func TestEngineGetCancellation(t *testing.T) {
	tp := transport.NewMockTransport(transport.TypeVirtual)
	tp.AddDestination("resp", "responder")

	eng := newTestEngine(t, tp, Config{DefaultRequestTimeout: 5 * time.Second}, ci.MUID(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer eng.Stop()

	reqCtx, reqCancel := context.WithCancel(context.Background())
	dest := DeviceHandle{MUID: ci.MUID(2), DestinationID: "resp"}

	go func() {
		time.Sleep(20 * time.Millisecond)
		reqCancel()
	}()
	_, err := eng.Get(reqCtx, dest, "DeviceInfo", RequestOptions{})
	require.Error(t, err)
	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, KindCancelled, pErr.Kind)
}

func TestEngineStopReleasesOutstandingRequestsWithoutLeaking(t *testing.T) {
	tp := transport.NewMockTransport(transport.TypeVirtual)
	tp.AddDestination("resp", "responder")

	eng := newTestEngine(t, tp, Config{DefaultRequestTimeout: 5 * time.Second, MaxInflightPerDevice: 128}, ci.MUID(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))

	dest := DeviceHandle{MUID: ci.MUID(2), DestinationID: "resp"}
	const concurrency = 50

	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			_, err := eng.Get(ctx, dest, "DeviceInfo", RequestOptions{})
			errs <- err
		}()
	}

	// Give every goroutine a chance to register its transaction before Stop.
	time.Sleep(50 * time.Millisecond)
	eng.Stop()

	for i := 0; i < concurrency; i++ {
		err := <-errs
		require.Error(t, err)
		var pErr *Error
		require.True(t, errors.As(err, &pErr))
		assert.Equal(t, KindCancelled, pErr.Kind)
	}

	assert.Equal(t, 128, eng.pool.Available(time.Now()))
}
