package core

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/awsl-project/relay/internal/handler"
)

const Version = "1.0.0"

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr       string
	Components *ServerComponents
}

// ManagedServer 可管理的服务器（支持启动/停止）
type ManagedServer struct {
	config     *ServerConfig
	httpServer *http.Server
	mux        http.Handler
	isRunning  bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewManagedServer 创建可管理的服务器
func NewManagedServer(config *ServerConfig) (*ManagedServer, error) {
	log.Printf("[Server] Creating managed server on %s", config.Addr)

	s := &ManagedServer{
		config:    config,
		isRunning: false,
	}
	s.mux = s.setupRoutes()

	log.Printf("[Server] Managed server created")
	return s, nil
}

// setupRoutes 设置所有路由
func (s *ManagedServer) setupRoutes() http.Handler {
	log.Printf("[Server] Setting up routes")
	mux := http.NewServeMux()

	components := s.config.Components

	mux.HandleFunc("/health", handler.HealthHandler(Version))
	mux.HandleFunc("/v1/models", handler.ModelsHandler)
	mux.Handle("/v1/routes", components.RoutesHandler)

	mux.HandleFunc("/ws", components.WebSocketHub.HandleWebSocket)
	mux.HandleFunc("/v1/ws", components.WebSocketHub.HandleWebSocket)

	// 公开协议入口；/ 兜底承接 /:selector/v1/... 显式路由
	mux.Handle("/v1/messages", components.ProxyHandler)
	mux.Handle("/v1/messages/count_tokens", components.ProxyHandler)
	mux.Handle("/v1/chat/completions", components.ProxyHandler)
	mux.Handle("/", components.ProxyHandler)

	log.Printf("[Server] Routes configured")
	return handler.LoggingMiddleware(handler.AuthMiddleware(components.Config, mux))
}

// Start 启动服务器
func (s *ManagedServer) Start(ctx context.Context) error {
	if s.isRunning {
		log.Printf("[Server] Server already running")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.mux,
	}

	go func() {
		log.Printf("[Server] Starting HTTP server on %s", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] Server error: %v", err)
		}
	}()

	s.isRunning = true
	log.Printf("[Server] Server started successfully")
	return nil
}

// Stop 停止服务器
func (s *ManagedServer) Stop(ctx context.Context) error {
	if !s.isRunning {
		log.Printf("[Server] Server already stopped")
		return nil
	}

	log.Printf("[Server] Stopping HTTP server on %s", s.config.Addr)

	// 使用较短的超时时间，超时后强制关闭
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Graceful shutdown failed: %v, forcing close", err)
		if closeErr := s.httpServer.Close(); closeErr != nil {
			log.Printf("[Server] Force close error: %v", closeErr)
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.isRunning = false
	log.Printf("[Server] Server stopped successfully")
	return nil
}

// IsRunning 检查服务器是否在运行
func (s *ManagedServer) IsRunning() bool {
	return s.isRunning
}

// GetAddr 获取服务器监听地址
func (s *ManagedServer) GetAddr() string {
	return s.config.Addr
}

// GetComponents 获取服务器组件
func (s *ManagedServer) GetComponents() *ServerComponents {
	return s.config.Components
}
