package memory

import (
	"context"
	"testing"
	"time"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransport(t *testing.T, buffer int) *Transport {
	t.Helper()
	tr, err := NewTransport(&Config{Buffer: buffer})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func receive(t *testing.T, sub transport.Subscription) *transport.Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestTransport_FanOut(t *testing.T) {
	tr := newTransport(t, 4)
	ctx := context.Background()

	a, err := tr.Join(ctx, "room")
	require.NoError(t, err)
	b, err := tr.Join(ctx, "room")
	require.NoError(t, err)
	other, err := tr.Join(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, tr.Send(ctx, "room", &transport.Message{Body: []byte("hi")}))

	for _, sub := range []transport.Subscription{a, b} {
		msg := receive(t, sub)
		assert.Equal(t, "hi", string(msg.Body))
		assert.Equal(t, "room", msg.Room)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
	}
	assert.Len(t, other.Messages(), 0)
	assert.Equal(t, 2, tr.Members("room"))
}

func TestTransport_LeaveStopsDelivery(t *testing.T) {
	tr := newTransport(t, 4)
	ctx := context.Background()

	sub, err := tr.Join(ctx, "room")
	require.NoError(t, err)
	require.NoError(t, sub.Leave(ctx))
	assert.Equal(t, 0, tr.Members("room"))

	require.NoError(t, tr.Send(ctx, "room", &transport.Message{}))
	_, open := <-sub.Messages()
	assert.False(t, open)
}

func TestTransport_Backpressure(t *testing.T) {
	tr := newTransport(t, 1)
	ctx := context.Background()

	sub, err := tr.Join(ctx, "room")
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, "room", &transport.Message{ID: "1"}))

	sendCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = tr.Send(sendCtx, "room", &transport.Message{ID: "2"})
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))

	assert.Equal(t, "1", receive(t, sub).ID)
}

func TestTransport_LeaveUnblocksSender(t *testing.T) {
	tr := newTransport(t, 1)
	ctx := context.Background()

	sub, err := tr.Join(ctx, "room")
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, "room", &transport.Message{}))

	done := make(chan error)
	go func() { done <- tr.Send(ctx, "room", &transport.Message{}) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Leave(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sender stayed blocked after leave")
	}
}

func TestTransport_Closed(t *testing.T) {
	tr, err := NewTransport(nil)
	require.NoError(t, err)

	sub, err := tr.Join(context.Background(), "room")
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.Error(t, tr.Health())
	_, err = tr.Join(context.Background(), "room")
	assert.Error(t, err)
	assert.Error(t, tr.Send(context.Background(), "room", &transport.Message{}))
}

func TestFactory(t *testing.T) {
	tr, err := Factory{}.Create(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "memory", tr.Name())
	assert.Equal(t, "memory", Factory{}.GetType())
}
