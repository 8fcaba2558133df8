// Package sfutest provides an in-memory sfu.Engine for tests.
package sfutest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type transport struct {
	plain  bool
	bytes  uint64
	closed bool
}

type producer struct {
	transportID string
	kind        sfu.Kind
	closed      bool
}

type consumer struct {
	transportID string
	producerID  string
	closed      bool
}

// Engine mimics the sidecar closely enough for control-plane tests.
// Closing a producer closes its consumers, and closing a transport closes
// everything created on it.
type Engine struct {
	mu sync.Mutex

	seq        int
	transports map[string]*transport
	producers  map[string]*producer
	consumers  map[string]*consumer

	failures     map[string]error
	incompatible map[string]bool
	calls        map[string]int

	// Hook runs before every operation, outside the lock. Tests use it to
	// park a call at its suspension point.
	Hook func(op string)
}

var _ sfu.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{
		transports:   make(map[string]*transport),
		producers:    make(map[string]*producer),
		consumers:    make(map[string]*consumer),
		failures:     make(map[string]error),
		incompatible: make(map[string]bool),
		calls:        make(map[string]int),
	}
}

// FailOn makes every call of op return err until cleared with a nil err.
func (e *Engine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

func (e *Engine) MarkIncompatible(producerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.incompatible[producerID] = true
}

// AddBytes advances a transport's received-byte counter.
func (e *Engine) AddBytes(transportID string, n uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.transports[transportID]; ok {
		t.bytes += n
	}
}

func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *Engine) TransportOpen(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[id]
	return ok && !t.closed
}

func (e *Engine) ProducerOpen(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[id]
	return ok && !p.closed
}

func (e *Engine) ConsumerOpen(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.consumers[id]
	return ok && !c.closed
}

// OpenTransports counts plain and WebRTC transports not yet closed.
func (e *Engine) OpenTransports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.transports {
		if !t.closed {
			n++
		}
	}
	return n
}

func (e *Engine) enter(op string) error {
	if e.Hook != nil {
		e.Hook(op)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	return e.failures[op]
}

func (e *Engine) nextID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *Engine) RtpCapabilities(ctx context.Context) (json.RawMessage, error) {
	if err := e.enter("rtp_capabilities"); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"codecs":[{"kind":"video","mimeType":"video/H264"},{"kind":"audio","mimeType":"audio/opus"}]}`), nil
}

func (e *Engine) CreatePlainTransport(ctx context.Context, opts sfu.PlainTransportOptions) (*sfu.PlainTransport, error) {
	if err := e.enter("create_plain_transport"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID("plain")
	e.transports[id] = &transport{plain: true}
	ip := opts.AnnouncedIP
	if ip == "" {
		ip = opts.ListenIP
	}
	port := 40000 + 2*e.seq
	return &sfu.PlainTransport{
		ID:        id,
		Tuple:     sfu.TransportTuple{LocalIP: ip, LocalPort: port, Protocol: "udp"},
		RtcpTuple: &sfu.TransportTuple{LocalIP: ip, LocalPort: port + 1, Protocol: "udp"},
	}, nil
}

func (e *Engine) CreateWebRtcTransport(ctx context.Context, opts sfu.WebRtcTransportOptions) (*sfu.WebRtcTransport, error) {
	if err := e.enter("create_webrtc_transport"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID("webrtc")
	e.transports[id] = &transport{}
	return &sfu.WebRtcTransport{
		ID:             id,
		IceParameters:  json.RawMessage(`{"usernameFragment":"u","password":"p"}`),
		IceCandidates:  json.RawMessage(`[]`),
		DtlsParameters: json.RawMessage(`{"role":"auto","fingerprints":[]}`),
	}, nil
}

func (e *Engine) ConnectWebRtcTransport(ctx context.Context, transportID string, dtls json.RawMessage) error {
	if err := e.enter("connect_webrtc_transport"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.transports[transportID]; !ok || t.closed {
		return sfu.ErrNotFound
	}
	return nil
}

func (e *Engine) Produce(ctx context.Context, transportID string, kind sfu.Kind, params sfu.RtpParameters) (*sfu.Producer, error) {
	if err := e.enter("produce"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.transports[transportID]; !ok || t.closed {
		return nil, sfu.ErrNotFound
	}
	id := e.nextID("producer")
	e.producers[id] = &producer{transportID: transportID, kind: kind}
	return &sfu.Producer{ID: id, Kind: kind}, nil
}

func (e *Engine) CanConsume(ctx context.Context, producerID string, caps json.RawMessage) (bool, error) {
	if err := e.enter("can_consume"); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[producerID]
	if !ok || p.closed {
		return false, nil
	}
	return !e.incompatible[producerID], nil
}

func (e *Engine) Consume(ctx context.Context, transportID, producerID string, caps json.RawMessage) (*sfu.Consumer, error) {
	if err := e.enter("consume"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.transports[transportID]; !ok || t.closed {
		return nil, sfu.ErrNotFound
	}
	p, ok := e.producers[producerID]
	if !ok || p.closed {
		return nil, sfu.ErrNotFound
	}
	id := e.nextID("consumer")
	e.consumers[id] = &consumer{transportID: transportID, producerID: producerID}
	return &sfu.Consumer{
		ID:            id,
		ProducerID:    producerID,
		Kind:          p.kind,
		Type:          "simple",
		RtpParameters: json.RawMessage(`{"codecs":[]}`),
	}, nil
}

func (e *Engine) TransportStats(ctx context.Context, transportID string) (*sfu.TransportStats, error) {
	if err := e.enter("transport_stats"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok || t.closed {
		return nil, sfu.ErrNotFound
	}
	return &sfu.TransportStats{BytesReceived: t.bytes, RtpBytesReceived: t.bytes}, nil
}

func (e *Engine) ConsumerStats(ctx context.Context, consumerID string) (json.RawMessage, error) {
	if err := e.enter("consumer_stats"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.consumers[consumerID]
	if !ok || c.closed {
		return nil, sfu.ErrNotFound
	}
	return json.RawMessage(`[{"type":"outbound-rtp","packetCount":0}]`), nil
}

func (e *Engine) CloseTransport(ctx context.Context, transportID string) error {
	if err := e.enter("close_transport"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok {
		return sfu.ErrNotFound
	}
	t.closed = true
	for pid, p := range e.producers {
		if p.transportID == transportID {
			e.closeProducerLocked(pid)
		}
	}
	for _, c := range e.consumers {
		if c.transportID == transportID {
			c.closed = true
		}
	}
	return nil
}

func (e *Engine) CloseProducer(ctx context.Context, producerID string) error {
	if err := e.enter("close_producer"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.producers[producerID]; !ok {
		return sfu.ErrNotFound
	}
	e.closeProducerLocked(producerID)
	return nil
}

func (e *Engine) closeProducerLocked(producerID string) {
	e.producers[producerID].closed = true
	for _, c := range e.consumers {
		if c.producerID == producerID {
			c.closed = true
		}
	}
}

func (e *Engine) CloseConsumer(ctx context.Context, consumerID string) error {
	if err := e.enter("close_consumer"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.consumers[consumerID]
	if !ok {
		return sfu.ErrNotFound
	}
	c.closed = true
	return nil
}
