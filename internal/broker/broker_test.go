package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := startTestNATSServer(t)
	c := New(srv.ClientURL(), nil, WithFetchWait(500*time.Millisecond))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestConnectProvisionsStreams(t *testing.T) {
	c := newTestClient(t)

	js, err := c.jetStream()
	require.NoError(t, err)
	for _, name := range []string{StreamRequirements, StreamIntegration, StreamResults, StreamReviews} {
		info, err := js.StreamInfo(name)
		require.NoError(t, err, "stream %s", name)
		assert.NotZero(t, info.Config.MaxAge, "stream %s retention", name)
	}
}

func TestConnectIdempotent(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
}

func TestPublishFetchRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	body, _ := json.Marshal(map[string]string{"note": "hello"})
	seq, err := c.Publish(ctx, "requirements.task.alice", Envelope{
		Sender:  "bob",
		Message: body,
		Ext:     NewExtensions(map[string]string{"kind": "task"}),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	msgs, err := c.Fetch(ctx, StreamRequirements, "requirements.task.alice", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, seq, m.Sequence)
	require.NotNil(t, m.Envelope)
	assert.Equal(t, "bob", m.Envelope.Sender)
	assert.False(t, m.Envelope.Timestamp.IsZero())
	assert.Equal(t, "task", m.Envelope.Ext.Field("kind"))
	assert.JSONEq(t, string(body), string(m.Envelope.Message))
}

func TestPublishRequiresSender(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Publish(context.Background(), "requirements.task.x", Envelope{})
	require.Error(t, err)
}

func TestFetchEmptyStreamReturnsQuickly(t *testing.T) {
	c := newTestClient(t)

	start := time.Now()
	msgs, err := c.Fetch(context.Background(), StreamResults, "", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestFetchKeepsMostRecentWindow(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		body, _ := json.Marshal(map[string]int{"n": i})
		_, err := c.Publish(ctx, "integration.status.worker", Envelope{Sender: "worker", Message: body})
		require.NoError(t, err)
	}

	msgs, err := c.Fetch(ctx, StreamIntegration, "integration.status.worker", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// The trailing window: sequences 4 and 5, oldest first.
	assert.Equal(t, uint64(4), msgs[0].Sequence)
	assert.Equal(t, uint64(5), msgs[1].Sequence)
}

func TestFetchDegradesMalformedPayload(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	// Raw publish that bypasses the envelope format.
	nc, err := nats.Connect(c.url)
	require.NoError(t, err)
	defer nc.Close()
	js, err := nc.JetStream()
	require.NoError(t, err)
	_, err = js.Publish("results.report.x", []byte("not json"))
	require.NoError(t, err)

	msgs, err := c.Fetch(ctx, StreamResults, "results.report.x", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Envelope)
	assert.Equal(t, []byte("not json"), msgs[0].Raw)
}

func TestPublishNotConnected(t *testing.T) {
	c := New("nats://localhost:1", nil)
	_, err := c.Publish(context.Background(), "requirements.x.y", Envelope{Sender: "a"})
	require.Error(t, err)
}
