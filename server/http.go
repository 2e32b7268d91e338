package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-fx/tls"
	"github.com/saiset-co/sai-fx/types"
)

var _ types.HTTPServer = (*FastHTTPServer)(nil)

type FastHTTPServer struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	router     *Router
	server     *fasthttp.Server
	listener   net.Listener
	httpConfig *types.HTTPConfig
	tlsConfig  *types.TLSConfig
	state      atomic.Value
	done       chan struct{}
}

func NewHTTPServer(ctx context.Context, config types.ConfigManager, logger types.Logger, router *Router) (*FastHTTPServer, error) {
	serverConfig := config.GetConfig().Server
	if serverConfig == nil || serverConfig.HTTP == nil {
		return nil, types.Errorf(types.ErrConfigNotFound, "server.http")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:        serverCtx,
		cancel:     cancel,
		logger:     logger,
		router:     router,
		httpConfig: serverConfig.HTTP,
		tlsConfig:  serverConfig.TLS,
	}

	server.state.Store(types.StateStopped)

	return server, nil
}

func (h *FastHTTPServer) Router() types.HTTPRouter {
	return h.router
}

// UseListener makes Start serve on ln instead of opening the configured
// address.
func (h *FastHTTPServer) UseListener(ln net.Listener) {
	h.listener = ln
}

func (h *FastHTTPServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *FastHTTPServer) Start() error {
	if !h.state.CompareAndSwap(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	addr := net.JoinHostPort(h.httpConfig.Host, strconv.Itoa(h.httpConfig.Port))

	if h.listener == nil {
		ln, err := h.listen(addr)
		if err != nil {
			h.state.Store(types.StateStopped)
			return types.Errorf(types.ErrServerStartFailed, "%v", err)
		}
		h.listener = ln
	}

	h.server = &fasthttp.Server{
		Handler:            fasthttp.RequestHandler(h.router.Handler()),
		Name:               "sai-fx",
		ReadTimeout:        h.httpConfig.ReadTimeout,
		WriteTimeout:       h.httpConfig.WriteTimeout,
		IdleTimeout:        h.httpConfig.IdleTimeout,
		MaxRequestBodySize: h.httpConfig.MaxRequestBodySize,
		CloseOnShutdown:    true,
		Logger:             zapPrinter{h.logger},
	}

	h.done = make(chan struct{})
	server, listener, done := h.server, h.listener, h.done

	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	h.state.Store(types.StateRunning)
	h.logger.Info("HTTP server started",
		zap.String("address", h.Addr()),
		zap.Bool("tls", h.tlsEnabled()))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.state.CompareAndSwap(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer func() {
		h.listener = nil
		h.state.Store(types.StateStopped)
		h.cancel()
	}()

	timeout := h.httpConfig.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := h.server.ShutdownWithContext(ctx); err != nil {
		h.logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
		return types.Errorf(types.ErrServerStopFailed, "%v", err)
	}

	<-h.done
	h.logger.Info("HTTP server stopped")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.state.Load().(types.State) == types.StateRunning
}

func (h *FastHTTPServer) tlsEnabled() bool {
	return h.tlsConfig != nil && h.tlsConfig.Enabled
}

func (h *FastHTTPServer) listen(addr string) (net.Listener, error) {
	if !h.tlsEnabled() {
		return net.Listen("tcp", addr)
	}

	certManager, err := tls.NewCertManager(h.logger, h.tlsConfig)
	if err != nil {
		return nil, err
	}
	return certManager.Listen(addr)
}

type zapPrinter struct {
	logger types.Logger
}

func (p zapPrinter) Printf(format string, args ...interface{}) {
	p.logger.Debug("fasthttp", zap.String("message", fmt.Sprintf(format, args...)))
}
