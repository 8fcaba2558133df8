// Package sfu adapts the external mediasoup sidecar to the handful of
// primitives the control plane needs: plain ingest transports, viewer
// WebRTC transports, producers, consumers and transport counters.
package sfu

import (
	"context"
	"encoding/json"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Kinds is the fixed track order used wherever both tracks are walked.
var Kinds = [2]Kind{KindVideo, KindAudio}

// Engine is the media-transport capability. Implementations hold no
// bookkeeping of their own beyond the handles they return.
type Engine interface {
	RtpCapabilities(ctx context.Context) (json.RawMessage, error)

	CreatePlainTransport(ctx context.Context, opts PlainTransportOptions) (*PlainTransport, error)
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (*WebRtcTransport, error)
	ConnectWebRtcTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error

	Produce(ctx context.Context, transportID string, kind Kind, params RtpParameters) (*Producer, error)
	CanConsume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (bool, error)
	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*Consumer, error)

	TransportStats(ctx context.Context, transportID string) (*TransportStats, error)
	ConsumerStats(ctx context.Context, consumerID string) (json.RawMessage, error)

	CloseTransport(ctx context.Context, transportID string) error
	CloseProducer(ctx context.Context, producerID string) error
	CloseConsumer(ctx context.Context, consumerID string) error
}

type TransportTuple struct {
	LocalIP   string `json:"localIp"`
	LocalPort int    `json:"localPort"`
	Protocol  string `json:"protocol,omitempty"`
}

type PlainTransportOptions struct {
	ListenIP    string `json:"listenIp"`
	AnnouncedIP string `json:"announcedIp,omitempty"`
	RtcpMux     bool   `json:"rtcpMux"`
	Comedia     bool   `json:"comedia"`
}

type PlainTransport struct {
	ID        string          `json:"id"`
	Tuple     TransportTuple  `json:"tuple"`
	RtcpTuple *TransportTuple `json:"rtcpTuple,omitempty"`
}

// RtcpPort is zero when the transport multiplexes RTCP over the RTP port.
func (t *PlainTransport) RtcpPort() int {
	if t.RtcpTuple == nil {
		return 0
	}
	return t.RtcpTuple.LocalPort
}

type WebRtcTransportOptions struct {
	ListenIP                        string `json:"listenIp"`
	AnnouncedIP                     string `json:"announcedIp,omitempty"`
	EnableUDP                       bool   `json:"enableUdp"`
	EnableTCP                       bool   `json:"enableTcp"`
	PreferUDP                       bool   `json:"preferUdp"`
	InitialAvailableOutgoingBitrate int    `json:"initialAvailableOutgoingBitrate,omitempty"`
	MinimumAvailableOutgoingBitrate int    `json:"minimumAvailableOutgoingBitrate,omitempty"`
}

type WebRtcTransport struct {
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type Producer struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

type Consumer struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          Kind            `json:"kind"`
	Type          string          `json:"type,omitempty"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

// TransportStats carries the cumulative receive counters of one transport.
type TransportStats struct {
	BytesReceived    uint64 `json:"bytesReceived"`
	RtpBytesReceived uint64 `json:"rtpBytesReceived"`
}
