package sfu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/metrics"
)

// Client talks to the mediasoup sidecar over its internal REST API.
type Client struct {
	BaseURL      string
	SharedSecret string
	HTTPClient   *http.Client
}

var _ Engine = (*Client)(nil)

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		SharedSecret: secret,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.EngineRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("sfu %s: encode: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Auth", c.SharedSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sfu %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sfu %s: %w", op, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Op: op, Status: resp.StatusCode, Body: string(sample)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("sfu %s: decode: %w", op, err)
		}
	}
	return nil
}

func (c *Client) RtpCapabilities(ctx context.Context) (json.RawMessage, error) {
	var caps json.RawMessage
	err := c.do(ctx, "rtp_capabilities", http.MethodGet, "/router/rtp-capabilities", nil, &caps)
	return caps, err
}

func (c *Client) CreatePlainTransport(ctx context.Context, opts PlainTransportOptions) (*PlainTransport, error) {
	var t PlainTransport
	if err := c.do(ctx, "create_plain_transport", http.MethodPost, "/transports/plain", opts, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (*WebRtcTransport, error) {
	var t WebRtcTransport
	if err := c.do(ctx, "create_webrtc_transport", http.MethodPost, "/transports/webrtc", opts, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ConnectWebRtcTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	body := map[string]any{"dtlsParameters": dtlsParameters}
	return c.do(ctx, "connect_webrtc_transport", http.MethodPost, "/transports/"+url.PathEscape(transportID)+"/connect", body, nil)
}

func (c *Client) Produce(ctx context.Context, transportID string, kind Kind, params RtpParameters) (*Producer, error) {
	body := map[string]any{
		"kind":          kind,
		"rtpParameters": params,
	}
	var p Producer
	if err := c.do(ctx, "produce", http.MethodPost, "/transports/"+url.PathEscape(transportID)+"/produce", body, &p); err != nil {
		return nil, err
	}
	if p.Kind == "" {
		p.Kind = kind
	}
	return &p, nil
}

func (c *Client) CanConsume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (bool, error) {
	body := map[string]any{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
	}
	var resp struct {
		CanConsume bool `json:"canConsume"`
	}
	err := c.do(ctx, "can_consume", http.MethodPost, "/router/can-consume", body, &resp)
	if errors.Is(err, ErrNotFound) {
		// The router answers "no" for producers it does not know.
		return false, nil
	}
	return resp.CanConsume, err
}

func (c *Client) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*Consumer, error) {
	body := map[string]any{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
		"paused":          false,
	}
	var cons Consumer
	if err := c.do(ctx, "consume", http.MethodPost, "/transports/"+url.PathEscape(transportID)+"/consume", body, &cons); err != nil {
		return nil, err
	}
	if cons.ProducerID == "" {
		cons.ProducerID = producerID
	}
	return &cons, nil
}

// TransportStats reads the first entry of the transport's stats report,
// which is where the engine puts the transport-level counters.
func (c *Client) TransportStats(ctx context.Context, transportID string) (*TransportStats, error) {
	var report []TransportStats
	if err := c.do(ctx, "transport_stats", http.MethodGet, "/transports/"+url.PathEscape(transportID)+"/stats", nil, &report); err != nil {
		return nil, err
	}
	if len(report) == 0 {
		return &TransportStats{}, nil
	}
	return &report[0], nil
}

func (c *Client) ConsumerStats(ctx context.Context, consumerID string) (json.RawMessage, error) {
	var st json.RawMessage
	err := c.do(ctx, "consumer_stats", http.MethodGet, "/consumers/"+url.PathEscape(consumerID)+"/stats", nil, &st)
	return st, err
}

func (c *Client) CloseTransport(ctx context.Context, transportID string) error {
	return c.do(ctx, "close_transport", http.MethodPost, "/transports/"+url.PathEscape(transportID)+"/close", nil, nil)
}

func (c *Client) CloseProducer(ctx context.Context, producerID string) error {
	return c.do(ctx, "close_producer", http.MethodPost, "/producers/"+url.PathEscape(producerID)+"/close", nil, nil)
}

func (c *Client) CloseConsumer(ctx context.Context, consumerID string) error {
	return c.do(ctx, "close_consumer", http.MethodPost, "/consumers/"+url.PathEscape(consumerID)+"/close", nil, nil)
}
