package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	tlsManager      types.TLSManager
	router          *Router
	deps            *Deps
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	authConfig      *types.AuthConfig
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	tlsManager types.TLSManager,
	deps *Deps) (*FastHTTPServer, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	serverConfig := config.GetConfig().Server

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		tlsManager:      tlsManager,
		router:          NewRouter(),
		deps:            deps,
		httpConfig:      serverConfig.HTTP,
		tlsConfig:       serverConfig.TLS,
		authConfig:      serverConfig.Auth,
		shutdownTimeout: 5 * time.Second,
	}

	server.state.Store(StateStopped)
	server.registerRoutes()

	return server, nil
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if h.getState() == StateStarting {
			h.setState(StateRunning)
		}
	}()

	h.server = &fasthttp.Server{
		Handler:                      h.mainHandler(),
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	go func() {
		var err error
		if h.tlsConfig != nil && h.tlsConfig.Enabled {
			h.listener, err = h.tlsManager.Serve(addr)
			if err != nil {
				h.logger.Error("TLS listener failed", zap.Error(err))
				return
			}
			err = h.server.Serve(h.listener)
		} else {
			h.listener, err = net.Listen("tcp", addr)
			if err != nil {
				h.logger.Error("HTTP listener failed", zap.Error(err))
				return
			}
			err = h.server.Serve(h.listener)
		}

		if err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.logger.Info("HTTP server started successfully",
		zap.String("address", addr),
		zap.Bool("tls", h.tlsConfig != nil && h.tlsConfig.Enabled))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	if h.server != nil {
		if h.listener != nil {
			if err := h.listener.Close(); err != nil {
				h.logger.Error("failed to close listener", zap.Error(err))
			}
		}

		if err := h.server.ShutdownWithContext(ctx); err != nil {
			select {
			case <-ctx.Done():
				h.logger.Warn("Server stop timeout, some connections may not have drained")
			default:
				h.logger.Error("Error during server shutdown", zap.Error(err))
			}
			return nil
		}
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *FastHTTPServer) mainHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())
		path := string(ctx.Path())

		rt, params := h.router.lookup(method, path)
		if rt == nil {
			if method == "OPTIONS" {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			ctx.Error("Not found", fasthttp.StatusNotFound)
			return
		}

		for name, value := range params {
			ctx.SetUserValue(name, value)
		}

		h.executeHandler(ctx, rt)
	}
}
