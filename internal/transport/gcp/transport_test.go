package gcp

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"roomgraph/internal/transport"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	config := DefaultConfig()
	config.ProjectID = "test-project"
	tr, err := NewTransport(config, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func receive(t *testing.T, sub transport.Subscription) *transport.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func countSubscriptions(t *testing.T, client *pubsub.Client) int {
	t.Helper()
	it := client.Subscriptions(context.Background())
	n := 0
	for {
		_, err := it.Next()
		if err == iterator.Done {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantError string
	}{
		{name: "valid", config: &Config{ProjectID: "p"}},
		{name: "missing project", config: &Config{}, wantError: "project_id"},
		{name: "ack deadline too low", config: &Config{ProjectID: "p", AckDeadline: 5}, wantError: "ack_deadline"},
		{name: "ack deadline too high", config: &Config{ProjectID: "p", AckDeadline: 700}, wantError: "ack_deadline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 60, tt.config.AckDeadline)
			assert.Equal(t, "roomgraph-", tt.config.SubscriptionPrefix)
		})
	}
}

func TestResourceID(t *testing.T) {
	assert.Equal(t, "roomgraph-feed.raw", resourceID("roomgraph-", "feed.raw"))
	assert.Equal(t, "p-customer-acme-corp", resourceID("p-", "customer/acme corp"))
}

func TestMessageConversion(t *testing.T) {
	sent := &transport.Message{
		ID:        "abc",
		Headers:   map[string]string{transport.HeaderContentType: "application/json"},
		Body:      []byte("{}"),
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
	}

	got := fromPubsubMessage("room", toPubsubMessage(sent))
	assert.Equal(t, "room", got.Room)
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, sent.Headers, got.Headers)
	assert.True(t, sent.Timestamp.Equal(got.Timestamp))
}

func TestTransport_FanOut(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()

	a, err := tr.Join(ctx, "feed.raw")
	require.NoError(t, err)
	b, err := tr.Join(ctx, "feed.raw")
	require.NoError(t, err)
	assert.Equal(t, 2, countSubscriptions(t, tr.client))

	err = tr.Send(ctx, "feed.raw", &transport.Message{
		Headers: map[string]string{transport.HeaderOrigin: "upstream"},
		Body:    []byte(`{"ip":["10.0.0.1"]}`),
	})
	require.NoError(t, err)

	for _, sub := range []transport.Subscription{a, b} {
		msg := receive(t, sub)
		assert.Equal(t, "feed.raw", msg.Room)
		assert.Equal(t, "upstream", msg.Headers[transport.HeaderOrigin])
		assert.JSONEq(t, `{"ip":["10.0.0.1"]}`, string(msg.Body))
	}
}

func TestTransport_LeaveDeletesSubscription(t *testing.T) {
	tr := newTestTransport(t)

	sub, err := tr.Join(context.Background(), "room")
	require.NoError(t, err)
	assert.Equal(t, 1, countSubscriptions(t, tr.client))

	require.NoError(t, sub.Leave(context.Background()))
	assert.Equal(t, 0, countSubscriptions(t, tr.client))

	_, ok := <-sub.Messages()
	assert.False(t, ok)
}

func TestTransport_SendCreatesTopicOnce(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, "room", &transport.Message{Body: []byte("1")}))
	require.NoError(t, tr.Send(ctx, "room", &transport.Message{Body: []byte("2")}))

	exists, err := tr.client.Topic("roomgraph-room").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Len(t, tr.topics, 1)
}

func TestTransport_HealthAndClose(t *testing.T) {
	tr := newTestTransport(t)
	assert.NoError(t, tr.Health())

	sub, err := tr.Join(context.Background(), "room")
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.Error(t, tr.Health())
}
