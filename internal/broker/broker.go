// Package broker wraps the durable messaging fabric shared by all agents.
//
// It provides subject-addressed publish and bounded pull-fetch over NATS
// JetStream. Streams are logical partitions with independent retention;
// they are provisioned once at connect time. The client is constructed
// explicitly and injected into the components that need it. There is no
// package-level connection state.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ─── Streams ─────────────────────────────────────────────────────────────────

// Stream names used by the coordination layer.
const (
	StreamRequirements = "REQUIREMENTS"
	StreamIntegration  = "INTEGRATION"
	StreamResults      = "RESULTS"
	StreamReviews      = "REVIEWS"
)

// defaultStreams declares the four coordination streams and their retention
// windows. Operational streams keep a week of traffic; outcome and audit
// streams keep a month.
func defaultStreams() []*nats.StreamConfig {
	return []*nats.StreamConfig{
		{Name: StreamRequirements, Subjects: []string{"requirements.>"}, MaxAge: 7 * 24 * time.Hour, Storage: nats.FileStorage},
		{Name: StreamIntegration, Subjects: []string{"integration.>"}, MaxAge: 7 * 24 * time.Hour, Storage: nats.FileStorage},
		{Name: StreamResults, Subjects: []string{"results.>"}, MaxAge: 30 * 24 * time.Hour, Storage: nats.FileStorage},
		{Name: StreamReviews, Subjects: []string{"reviews.>"}, MaxAge: 30 * 24 * time.Hour, Storage: nats.FileStorage},
	}
}

// ─── Envelope ────────────────────────────────────────────────────────────────

// Extensions is the versioned metadata attached to an envelope. It replaces
// the open key/value map of earlier designs with an explicit schema so
// payload contracts stay reviewable.
type Extensions struct {
	SchemaVersion int               `json:"schema_version"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// NewExtensions builds a v1 Extensions from key/value pairs.
func NewExtensions(fields map[string]string) *Extensions {
	return &Extensions{SchemaVersion: 1, Fields: fields}
}

// Field returns the named extension field, or "" if absent.
func (e *Extensions) Field(key string) string {
	if e == nil {
		return ""
	}
	return e.Fields[key]
}

// Envelope is the wire format for every message on the fabric.
type Envelope struct {
	Sender    string          `json:"sender"`
	Timestamp time.Time       `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	Ext       *Extensions     `json:"metadata,omitempty"`
}

// Message is one fetched entry. Sequence is the broker's per-stream
// monotonic sequence number. When the payload could not be parsed as an
// Envelope, Envelope is nil and Raw holds the bytes as received. Malformed
// payloads degrade, they are never dropped.
type Message struct {
	Stream   string    `json:"stream"`
	Subject  string    `json:"subject"`
	Sequence uint64    `json:"sequence"`
	Received time.Time `json:"received"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Raw      []byte    `json:"raw,omitempty"`
}

// ─── Client ──────────────────────────────────────────────────────────────────

// DefaultFetchWait bounds how long a fetch waits on a slow or empty stream.
const DefaultFetchWait = 2 * time.Second

// Client is the shared broker handle for one process. It is safe for
// concurrent use: the underlying NATS connection serializes writes itself,
// and the mutex only guards connection setup and teardown.
type Client struct {
	url       string
	fetchWait time.Duration
	logger    *zap.Logger

	mu sync.Mutex
	nc *nats.Conn
	js nats.JetStreamContext
}

// Option configures a Client.
type Option func(*Client)

// WithFetchWait overrides the bounded wait used by Fetch.
func WithFetchWait(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.fetchWait = d
		}
	}
}

// New creates an unconnected Client for the given broker URL.
// Call Connect before publishing or fetching.
func New(url string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:       url,
		fetchWait: DefaultFetchWait,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the broker and provisions the coordination streams.
// It is idempotent: a second call on a live connection is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil && c.nc.IsConnected() {
		return nil
	}

	nc, err := nats.Connect(c.url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("broker: connect %s: %w", c.url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("broker: jetstream context: %w", err)
	}

	for _, sc := range defaultStreams() {
		if _, err := js.StreamInfo(sc.Name); err == nil {
			continue
		} else if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return fmt.Errorf("broker: stream info %s: %w", sc.Name, err)
		}
		if _, err := js.AddStream(sc); err != nil {
			nc.Close()
			return fmt.Errorf("broker: create stream %s: %w", sc.Name, err)
		}
	}

	c.nc = nc
	c.js = js
	c.logger.Info("connected to broker", zap.String("url", c.url))
	return nil
}

// Close drains the connection. Safe to call on an unconnected client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
		c.js = nil
	}
}

func (c *Client) jetStream() (nats.JetStreamContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js == nil {
		return nil, errors.New("broker: not connected")
	}
	return c.js, nil
}

// Publish sends an envelope to the given subject and returns the stream
// sequence number assigned by the broker. Transport failures come back as
// wrapped errors. The caller owns retry policy.
func (c *Client) Publish(ctx context.Context, subject string, env Envelope) (uint64, error) {
	js, err := c.jetStream()
	if err != nil {
		return 0, err
	}
	if env.Sender == "" {
		return 0, errors.New("broker: publish: sender is required")
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("broker: marshal envelope: %w", err)
	}

	ack, err := js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("broker: publish %s: %w", subject, err)
	}
	return ack.Sequence, nil
}

// Fetch reads up to limit messages matching the subject filter from a
// stream, oldest first, keeping only the most recent limit entries when the
// stream holds more. The wait is bounded: an empty or slow stream returns
// whatever arrived within the fetch window rather than blocking.
//
// An empty filter reads the whole stream.
func (c *Client) Fetch(ctx context.Context, stream, filter string, limit int) ([]Message, error) {
	js, err := c.jetStream()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if filter == "" {
		filter = ">"
	}

	// Ephemeral pull consumer scoped to this call.
	sub, err := js.PullSubscribe(filter, "", nats.BindStream(stream))
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s on %s: %w", filter, stream, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	deadline := time.Now().Add(c.fetchWait)
	var window []Message

	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}

		batch, err := sub.Fetch(fetchBatchSize, nats.MaxWait(wait))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("broker: fetch %s on %s: %w", filter, stream, err)
		}

		for _, m := range batch {
			window = append(window, decode(stream, m))
			_ = m.Ack()
		}
		// Keep only the trailing limit entries.
		if len(window) > limit {
			window = window[len(window)-limit:]
		}
		if len(batch) < fetchBatchSize {
			break
		}
	}

	return window, nil
}

// fetchBatchSize is the pull batch used while draining a stream.
const fetchBatchSize = 100

// decode converts a raw NATS message into a Message, degrading unparsable
// payloads into raw entries.
func decode(stream string, m *nats.Msg) Message {
	msg := Message{
		Stream:  stream,
		Subject: m.Subject,
	}
	if meta, err := m.Metadata(); err == nil {
		msg.Sequence = meta.Sequence.Stream
		msg.Received = meta.Timestamp
	}

	var env Envelope
	if err := json.Unmarshal(m.Data, &env); err != nil || env.Sender == "" {
		msg.Raw = m.Data
		return msg
	}
	msg.Envelope = &env
	return msg
}
