package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peakfeed/cache-service/types"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...zap.Field)              {}
func (nopLogger) Warn(string, ...zap.Field)               {}
func (nopLogger) Info(string, ...zap.Field)               {}
func (nopLogger) Debug(string, ...zap.Field)              {}
func (nopLogger) Log(zapcore.Level, string, ...zap.Field) {}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	gateway, err := NewGateway(context.Background(), nopLogger{}, &types.BroadcastConfig{
		Enabled:  true,
		Channels: []string{"default"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, gateway.Start())
	t.Cleanup(func() { _ = gateway.Stop() })

	return gateway
}

type captureHandler struct {
	mu       sync.Mutex
	messages []*types.BroadcastMessage
}

func (c *captureHandler) handle(msg *types.BroadcastMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

func (c *captureHandler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestGatewayBroadcastReachesMatchingSubscriber(t *testing.T) {
	gateway := newTestGateway(t)

	matched := &captureHandler{}
	unmatched := &captureHandler{}

	require.NoError(t, gateway.Subscribe("users", []string{"user:*"}, matched.handle))
	require.NoError(t, gateway.Subscribe("posts", []string{"post:*"}, unmatched.handle))

	require.NoError(t, gateway.BroadcastInvalidation(context.Background(), "user:1:*"))

	assert.Eventually(t, func() bool { return matched.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, unmatched.count())

	matched.mu.Lock()
	defer matched.mu.Unlock()
	msg := matched.messages[0]
	assert.Equal(t, "cache_invalidation", msg.Type)
	assert.Equal(t, "user:1:*", msg.Pattern)
	assert.Equal(t, []string{"default"}, msg.Channels)
	assert.NotEmpty(t, msg.MessageID)
}

func TestGatewayExactPatternSubscription(t *testing.T) {
	gateway := newTestGateway(t)

	handler := &captureHandler{}
	require.NoError(t, gateway.Subscribe("exact", []string{"user:*"}, handler.handle))

	// A subscription to the identical pattern matches even though the
	// pattern text itself is not a concrete key.
	require.NoError(t, gateway.BroadcastInvalidation(context.Background(), "user:*"))
	assert.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestGatewaySubscribeValidation(t *testing.T) {
	gateway := newTestGateway(t)

	err := gateway.Subscribe("", []string{"user:*"}, func(*types.BroadcastMessage) {})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	err = gateway.Subscribe("bad", []string{"user:{a|b"}, func(*types.BroadcastMessage) {})
	assert.ErrorIs(t, err, types.ErrInvalidPattern)

	err = gateway.Subscribe("none", nil, func(*types.BroadcastMessage) {})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestGatewayUnsubscribe(t *testing.T) {
	gateway := newTestGateway(t)

	handler := &captureHandler{}
	require.NoError(t, gateway.Subscribe("users", []string{"user:*"}, handler.handle))
	require.NoError(t, gateway.Unsubscribe("users"))

	require.NoError(t, gateway.BroadcastInvalidation(context.Background(), "user:1"))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, handler.count())

	assert.Error(t, gateway.Unsubscribe("users"))
}

func TestGatewayRequiresRunning(t *testing.T) {
	gateway, err := NewGateway(context.Background(), nopLogger{}, &types.BroadcastConfig{}, nil)
	require.NoError(t, err)

	err = gateway.BroadcastInvalidation(context.Background(), "user:*")
	assert.ErrorIs(t, err, types.ErrBroadcastNotRunning)

	err = gateway.SendNotification(context.Background(), types.NotificationEvent{
		Type: types.NotificationQueueOverload,
	})
	assert.ErrorIs(t, err, types.ErrBroadcastNotRunning)
}

func TestWebhookSignature(t *testing.T) {
	client := NewWebhookClient(nopLogger{}, "http://example.invalid/hook", "secret")

	sig := client.sign([]byte(`{"type":"queue_overload"}`))
	assert.Equal(t, "sha256=", sig[:7])
	assert.Len(t, sig, 7+64)

	// Same payload, same secret, stable signature.
	assert.Equal(t, sig, client.sign([]byte(`{"type":"queue_overload"}`)))
}
