package transport

import (
	"context"
	"fmt"
	"sync"
)

// MockTransport provides an in-process implementation of Transport, for
// unit and integration tests. It implements VirtualEndpoints so that a
// test can simulate a second CI node replying over the same mock without a
// real OS transport. Not safe to reconfigure concurrently with Send/Receive
// in flight on the same endpoint, mirroring the ordering guarantee real
// transports must uphold.
type MockTransport struct {
	mu sync.Mutex

	typ Type

	sources      map[string]SourceInfo
	destinations map[string]DestInfo

	// sent records every payload handed to Send, keyed by destination id,
	// in delivery order. Useful for asserting wire bytes in tests.
	sent map[string][][]byte

	// subscribers holds every active Receive channel; Deliver pushes each
	// packet to all of them, whatever its source.
	subscribers map[chan Packet]struct{}

	nextVirtualID int
	closed        bool
}

// NewMockTransport creates a mock transport classified as typ. typ is
// stored as given; a zero value is TypeUnknown. Callers pass TypeBLE to
// exercise BLE timeout-multiplier behavior.
func NewMockTransport(typ Type) *MockTransport {
	return &MockTransport{
		typ:          typ,
		sources:      make(map[string]SourceInfo),
		destinations: make(map[string]DestInfo),
		sent:         make(map[string][][]byte),
		subscribers:  make(map[chan Packet]struct{}),
	}
}

var _ Transport = (*MockTransport)(nil)
var _ VirtualEndpoints = (*MockTransport)(nil)

func (m *MockTransport) Type() Type { return m.typ }

// AddSource registers a fixed (non-virtual) source endpoint, for tests that
// want to enumerate a device without going through CreateVirtualSource.
func (m *MockTransport) AddSource(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[id] = SourceInfo{ID: id, Name: name}
}

// AddDestination registers a fixed destination endpoint.
func (m *MockTransport) AddDestination(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[id] = DestInfo{ID: id, Name: name}
}

func (m *MockTransport) Sources(ctx context.Context) ([]SourceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SourceInfo, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	return out, nil
}

func (m *MockTransport) Destinations(ctx context.Context) ([]DestInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DestInfo, 0, len(m.destinations))
	for _, d := range m.destinations {
		out = append(out, d)
	}
	return out, nil
}

func (m *MockTransport) Send(ctx context.Context, data []byte, destinationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	if _, ok := m.destinations[destinationID]; !ok {
		return ErrEndpointNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.sent[destinationID] = append(m.sent[destinationID], cp)
	return nil
}

// Sent returns a copy of every payload sent to destinationID, in order.
func (m *MockTransport) Sent(destinationID string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent[destinationID]...)
}

func (m *MockTransport) Receive(ctx context.Context) (<-chan Packet, error) {
	ch := make(chan Packet, 64)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, ch)
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Deliver pushes an inbound packet to every active Receive subscriber, as
// if it arrived from sourceID. Packets delivered by one goroutine calling
// Deliver repeatedly are seen by each subscriber strictly in that order.
func (m *MockTransport) Deliver(sourceID string, data []byte) {
	m.mu.Lock()
	subs := make([]chan Packet, 0, len(m.subscribers))
	for ch := range m.subscribers {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	pkt := Packet{Data: append([]byte(nil), data...), SourceID: sourceID}
	for _, ch := range subs {
		ch <- pkt
	}
}

// Close marks the transport unusable; further Send calls fail.
func (m *MockTransport) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockTransport) CreateVirtualSource(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextVirtualID++
	id := fmt.Sprintf("virtual-src-%d", m.nextVirtualID)
	m.sources[id] = SourceInfo{ID: id, Name: name}
	return id, nil
}

func (m *MockTransport) CreateVirtualDestination(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextVirtualID++
	id := fmt.Sprintf("virtual-dst-%d", m.nextVirtualID)
	m.destinations[id] = DestInfo{ID: id, Name: name}
	return id, nil
}

func (m *MockTransport) RemoveVirtualSource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return &VirtualEndpointNotFoundError{ID: id}
	}
	delete(m.sources, id)
	return nil
}

func (m *MockTransport) RemoveVirtualDestination(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.destinations[id]; !ok {
		return &VirtualEndpointNotFoundError{ID: id}
	}
	delete(m.destinations, id)
	return nil
}

func (m *MockTransport) SendFromVirtualSource(ctx context.Context, data []byte, sourceID string) error {
	m.mu.Lock()
	if _, ok := m.sources[sourceID]; !ok {
		m.mu.Unlock()
		return &VirtualEndpointNotFoundError{ID: sourceID}
	}
	m.mu.Unlock()
	m.Deliver(sourceID, data)
	return nil
}
