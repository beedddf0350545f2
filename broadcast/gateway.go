package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/pattern"
	"github.com/peakfeed/cache-service/types"
)

const messageTypeInvalidation = "cache_invalidation"

type GatewayState int32

const (
	GatewayStateStopped GatewayState = iota
	GatewayStateStarting
	GatewayStateRunning
	GatewayStateStopping
)

type subscriber struct {
	id       string
	matchers []*pattern.Matcher
	handler  types.SubscriberHandler
}

// Gateway fans invalidation messages out to in-process subscribers, an
// optional WebSocket relay and an optional notification webhook. Relay and
// webhook failures are logged and swallowed so the invalidation path never
// depends on notification delivery.
type Gateway struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	config      *types.BroadcastConfig
	relay       *relayConn
	webhook     *WebhookClient
	subscribers map[string]*subscriber
	subsMu      sync.RWMutex
	state       atomic.Value
}

func NewGateway(ctx context.Context, logger types.Logger, config *types.BroadcastConfig, metrics types.MetricsManager) (*Gateway, error) {
	if config == nil {
		config = &types.BroadcastConfig{}
	}

	gatewayCtx, cancel := context.WithCancel(ctx)

	gateway := &Gateway{
		ctx:         gatewayCtx,
		cancel:      cancel,
		logger:      logger,
		config:      config,
		subscribers: make(map[string]*subscriber),
	}
	gateway.state.Store(GatewayStateStopped)

	if config.Type == "websocket" {
		relay, err := newRelayConn(gatewayCtx, logger, config, metrics, gateway.deliverLocal)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize broadcast relay")
		}
		gateway.relay = relay
	}

	if config.WebhookURL != "" {
		gateway.webhook = NewWebhookClient(logger, config.WebhookURL, config.WebhookSecret)
	}

	logger.Info("Broadcast gateway initialized",
		zap.String("type", config.Type),
		zap.Bool("webhook", gateway.webhook != nil))

	return gateway, nil
}

func (g *Gateway) Start() error {
	if !g.state.CompareAndSwap(GatewayStateStopped, GatewayStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if g.relay != nil {
		if err := g.relay.start(); err != nil {
			g.state.Store(GatewayStateStopped)
			return types.WrapError(err, "failed to start broadcast relay")
		}
	}

	g.state.Store(GatewayStateRunning)
	g.logger.Info("Broadcast gateway started")
	return nil
}

func (g *Gateway) Stop() error {
	if !g.state.CompareAndSwap(GatewayStateRunning, GatewayStateStopping) {
		return types.ErrBroadcastNotRunning
	}

	defer func() {
		g.state.Store(GatewayStateStopped)
		g.cancel()
	}()

	if g.relay != nil {
		g.relay.stop()
	}

	g.logger.Info("Broadcast gateway stopped")
	return nil
}

func (g *Gateway) IsRunning() bool {
	return g.state.Load().(GatewayState) == GatewayStateRunning
}

// BroadcastInvalidation publishes a cache_invalidation message to the given
// channels (the configured set when none are passed) and to every local
// subscriber whose pattern set matches.
func (g *Gateway) BroadcastInvalidation(_ context.Context, p string, channels ...string) error {
	if !g.IsRunning() {
		return types.ErrBroadcastNotRunning
	}

	if len(channels) == 0 {
		channels = g.config.Channels
	}

	message := &types.BroadcastMessage{
		Type:      messageTypeInvalidation,
		Pattern:   p,
		Channels:  channels,
		Timestamp: time.Now(),
		Source:    "cache-service",
		MessageID: uuid.NewString(),
	}

	g.deliverLocal(message)

	if g.relay != nil {
		if err := g.relay.publish(message); err != nil {
			g.logger.Warn("failed to relay invalidation broadcast",
				zap.String("pattern", p),
				zap.Error(err))
		}
	}

	g.logger.Debug("Invalidation broadcast",
		zap.String("pattern", p),
		zap.Strings("channels", channels),
		zap.String("message_id", message.MessageID))

	return nil
}

// SendNotification posts a lifecycle event to the configured webhook.
// Delivery failures are swallowed after logging.
func (g *Gateway) SendNotification(ctx context.Context, event types.NotificationEvent) error {
	if !g.IsRunning() {
		return types.ErrBroadcastNotRunning
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if g.webhook != nil {
		if err := g.webhook.Deliver(ctx, &event); err != nil {
			g.logger.Warn("webhook notification failed",
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}

	if g.relay != nil {
		message := &types.BroadcastMessage{
			Type:      string(event.Type),
			Pattern:   event.Pattern,
			Timestamp: event.Timestamp,
			Source:    "cache-service",
			MessageID: uuid.NewString(),
		}
		if err := g.relay.publish(message); err != nil {
			g.logger.Warn("failed to relay notification",
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}

	return nil
}

// Subscribe registers a handler for messages whose pattern matches any of
// the subscribed patterns. Patterns must compile.
func (g *Gateway) Subscribe(id string, patterns []string, handler types.SubscriberHandler) error {
	if id == "" || handler == nil || len(patterns) == 0 {
		return types.ErrInvalidParameter
	}

	matchers := make([]*pattern.Matcher, 0, len(patterns))
	for _, p := range patterns {
		matcher, err := pattern.Compile(p)
		if err != nil {
			return types.WrapError(err, "invalid subscription pattern")
		}
		matchers = append(matchers, matcher)
	}

	g.subsMu.Lock()
	defer g.subsMu.Unlock()

	g.subscribers[id] = &subscriber{
		id:       id,
		matchers: matchers,
		handler:  handler,
	}

	g.logger.Debug("Subscriber registered",
		zap.String("id", id),
		zap.Int("patterns", len(patterns)))

	return nil
}

func (g *Gateway) Unsubscribe(id string) error {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()

	if _, found := g.subscribers[id]; !found {
		return types.Errorf(types.ErrInvalidParameter, "unknown subscriber %s", id)
	}
	delete(g.subscribers, id)

	g.logger.Debug("Subscriber removed", zap.String("id", id))
	return nil
}

// deliverLocal routes a message to subscribers whose patterns match the
// invalidated pattern. Handlers run on their own goroutines so a slow
// subscriber cannot stall the broadcast path.
func (g *Gateway) deliverLocal(message *types.BroadcastMessage) {
	g.subsMu.RLock()
	defer g.subsMu.RUnlock()

	for _, sub := range g.subscribers {
		for _, matcher := range sub.matchers {
			if matcher.Pattern() == message.Pattern || matcher.Matches(message.Pattern) {
				go sub.handler(message)
				break
			}
		}
	}
}
