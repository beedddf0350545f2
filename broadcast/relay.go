package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

type RelayConfig struct {
	URL            string        `json:"url"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	MaxRetries     int           `json:"max_retries"`
	PingInterval   time.Duration `json:"ping_interval"`
	PongWait       time.Duration `json:"pong_wait"`
	WriteWait      time.Duration `json:"write_wait"`
}

// relayConn maintains a client connection to an external fan-out relay.
// Outgoing messages are queued on a bounded channel; incoming messages are
// handed to the gateway so remote invalidations reach local subscribers.
type relayConn struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	config    *RelayConfig
	metrics   types.MetricsManager
	incoming  func(*types.BroadcastMessage)
	conn      *websocket.Conn
	connMu    sync.RWMutex
	send      chan *types.BroadcastMessage
	reconnect chan struct{}
	attempts  int32
	running   atomic.Bool
}

func newRelayConn(ctx context.Context, logger types.Logger, config *types.BroadcastConfig, metrics types.MetricsManager, incoming func(*types.BroadcastMessage)) (*relayConn, error) {
	relayConfig := &RelayConfig{
		URL:            "ws://localhost:8081/ws",
		ReconnectDelay: 5 * time.Second,
		MaxRetries:     10,
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, relayConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal relay config")
		}
	}

	relayCtx, cancel := context.WithCancel(ctx)

	return &relayConn{
		ctx:       relayCtx,
		cancel:    cancel,
		logger:    logger,
		config:    relayConfig,
		metrics:   metrics,
		incoming:  incoming,
		send:      make(chan *types.BroadcastMessage, 256),
		reconnect: make(chan struct{}, 1),
	}, nil
}

func (r *relayConn) start() error {
	if err := r.connect(); err != nil {
		return err
	}

	r.running.Store(true)

	go r.readPump()
	go r.writePump()
	go r.reconnectLoop()

	return nil
}

func (r *relayConn) stop() {
	r.running.Store(false)
	r.cancel()

	r.connMu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.connMu.Unlock()
}

func (r *relayConn) publish(message *types.BroadcastMessage) error {
	if !r.running.Load() {
		return types.ErrBroadcastNotRunning
	}

	select {
	case r.send <- message:
		r.recordMetric("queued")
		return nil
	case <-r.ctx.Done():
		return types.ErrBroadcastNotRunning
	default:
		r.recordMetric("dropped")
		r.logger.Error("relay send channel full, dropping message",
			zap.String("message_id", message.MessageID))
		return types.ErrBroadcastChannelFull
	}
}

func (r *relayConn) connect() error {
	dialCtx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.config.URL, nil)
	if err != nil {
		return types.WrapError(err, "failed to dial broadcast relay")
	}

	r.connMu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.conn = conn
	r.connMu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(r.config.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(r.config.PongWait))
		return nil
	})

	atomic.StoreInt32(&r.attempts, 0)

	r.logger.Info("Connected to broadcast relay", zap.String("url", r.config.URL))
	return nil
}

func (r *relayConn) reconnectLoop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.reconnect:
			if !r.running.Load() {
				return
			}

			if int(atomic.LoadInt32(&r.attempts)) >= r.config.MaxRetries {
				r.logger.Error("relay reconnection attempts exhausted")
				r.running.Store(false)
				return
			}

			select {
			case <-time.After(r.config.ReconnectDelay):
			case <-r.ctx.Done():
				return
			}

			atomic.AddInt32(&r.attempts, 1)

			if err := r.connect(); err != nil {
				r.logger.Error("relay reconnection failed",
					zap.Int32("attempt", atomic.LoadInt32(&r.attempts)),
					zap.Error(err))
				r.triggerReconnect()
				continue
			}

			go r.readPump()
		}
	}
}

func (r *relayConn) triggerReconnect() {
	select {
	case r.reconnect <- struct{}{}:
	default:
	}
}

func (r *relayConn) readPump() {
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.connMu.RLock()
		conn := r.conn
		r.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.running.Load() {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					r.logger.Debug("relay connection closed", zap.Error(err))
				}
				r.triggerReconnect()
			}
			return
		}

		var message types.BroadcastMessage
		if err := utils.Unmarshal(data, &message); err != nil {
			r.logger.Error("failed to unmarshal relay message", zap.Error(err))
			continue
		}

		r.recordMetric("received")
		r.incoming(&message)
	}
}

func (r *relayConn) writePump() {
	ticker := time.NewTicker(r.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case message, ok := <-r.send:
			if !ok {
				return
			}

			data, err := utils.Marshal(message)
			if err != nil {
				r.logger.Error("failed to marshal relay message", zap.Error(err))
				continue
			}

			if err := r.write(websocket.TextMessage, data); err != nil {
				r.logger.Error("failed to write relay message", zap.Error(err))
				r.triggerReconnect()
				continue
			}
			r.recordMetric("sent")
		case <-ticker.C:
			if err := r.write(websocket.PingMessage, nil); err != nil {
				r.triggerReconnect()
			}
		}
	}
}

func (r *relayConn) write(messageType int, data []byte) error {
	r.connMu.RLock()
	defer r.connMu.RUnlock()

	if r.conn == nil {
		return types.ErrBroadcastNotRunning
	}

	_ = r.conn.SetWriteDeadline(time.Now().Add(r.config.WriteWait))
	return r.conn.WriteMessage(messageType, data)
}

func (r *relayConn) recordMetric(result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Counter("broadcast_relay_messages_total", map[string]string{"result": result}).Inc()
}
