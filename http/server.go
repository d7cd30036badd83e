// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"houseprice/logger"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	log    *logger.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            int
	Timeout         time.Duration
	MaxRequestBytes int64
	AllowedOrigins  []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8000,
		Timeout:         30 * time.Second,
		MaxRequestBytes: 1 << 20,
		AllowedOrigins:  []string{"*"},
	}
}

// NewHandler 构建带中间件的路由
func NewHandler(config ServerConfig, deps Dependencies) (http.Handler, error) {
	h, err := newHandlers(deps)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	h.register(mux)

	chain := Chain(
		RecoveryMiddleware(h.log),                     // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(h.log),                       // 2. 请求ID与访问日志
		SecurityHeadersMiddleware,                     // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),         // 4. CORS中间件
		RequestSizeMiddleware(config.MaxRequestBytes), // 5. 请求体大小限制
		TimeoutMiddleware(config.Timeout),             // 6. 超时中间件
	)
	return chain(mux), nil
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	handler, err := NewHandler(config, deps)
	if err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		log:    log,
	}, nil
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve 在指定监听器上提供服务
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("starting HTTP server", "addr", ln.Addr().String())
	s.log.Info("websocket endpoint", "url", fmt.Sprintf("ws://%s/ws/predictions", ln.Addr().String()))

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
