package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishSubscribeRoundTrip(t *testing.T) {
	b := New(zap.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envelopes, err := b.Subscribe(ctx, "tick")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "tick", []byte(`{"tick":1}`)))

	select {
	case env := <-envelopes:
		assert.Equal(t, "tick", env.Topic)
		assert.JSONEq(t, `{"tick":1}`, string(env.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published envelope")
	}
}

func TestBus_SubscribersAreIsolatedPerTopic(t *testing.T) {
	b := New(zap.NewNop())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickCh, err := b.Subscribe(ctx, "tick")
	require.NoError(t, err)
	pricesCh, err := b.Subscribe(ctx, "prices")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "prices", []byte(`{"AAPL":101.5}`)))

	select {
	case env := <-pricesCh:
		assert.Equal(t, "prices", env.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for prices envelope")
	}

	select {
	case <-tickCh:
		t.Fatal("tick subscriber should not receive a prices-topic message")
	case <-time.After(50 * time.Millisecond):
	}
}
