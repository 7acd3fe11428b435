package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要严格检查
	},
}

// 信封类型
const (
	wsTypePing        = "ping"
	wsTypePong        = "pong"
	wsTypeRequest     = "request"
	wsTypeResponse    = "response"
	wsTypeStreamChunk = "stream_chunk"
	wsTypeStreamEnd   = "stream_end"
	wsTypeError       = "error"
)

// 信封里的 endpoint 取值
const (
	wsEndpointModels          = "models"
	wsEndpointChatCompletions = "chat_completions"
	wsEndpointMessages        = "messages"
)

const wsReadTimeout = 120 * time.Second

// wsEnvelope 是 WebSocket 通道上的统一消息信封，请求响应靠
// request_id 关联，同一连接上可以并发多个请求
type wsEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	requests   atomic.Int64
	sessionKey string
}

func (c *wsConn) send(env *wsEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// WebSocketHub 同时承担两件事：对连接的客户端广播事件，
// 以及把信封里的代理请求多路复用到同一条处理流水线上
type WebSocketHub struct {
	proxy *ProxyHandler

	clients   map[*wsConn]bool
	broadcast chan *wsEnvelope
	mu        sync.RWMutex
}

func NewWebSocketHub(proxy *ProxyHandler) *WebSocketHub {
	hub := &WebSocketHub{
		proxy:     proxy,
		clients:   make(map[*wsConn]bool),
		broadcast: make(chan *wsEnvelope, 100),
	}
	go hub.run()
	return hub
}

func (h *WebSocketHub) run() {
	for msg := range h.broadcast {
		h.mu.RLock()
		conns := make([]*wsConn, 0, len(h.clients))
		for client := range h.clients {
			conns = append(conns, client)
		}
		h.mu.RUnlock()
		for _, client := range conns {
			if err := client.send(msg); err != nil {
				client.conn.Close()
				h.mu.Lock()
				delete(h.clients, client)
				h.mu.Unlock()
			}
		}
	}
}

func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade error: %v", err)
		return
	}

	client := &wsConn{conn: conn, sessionKey: sessionKeyFor(r)}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close()
		log.Printf("[WS] connection closed after %d requests", client.requests.Load())
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := jsonutil.SafeUnmarshal(data, &env); err != nil {
			client.send(&wsEnvelope{Type: wsTypeError, Message: "malformed envelope"})
			continue
		}
		switch env.Type {
		case wsTypePing:
			client.send(&wsEnvelope{Type: wsTypePong})
		case wsTypePong:
			// 客户端对服务端 ping 的应答，无需处理
		case wsTypeRequest:
			client.requests.Add(1)
			go h.handleRequest(client, &env)
		default:
			client.send(&wsEnvelope{Type: wsTypeError, RequestID: env.RequestID, Message: "unknown envelope type " + env.Type})
		}
	}
}

func (h *WebSocketHub) handleRequest(client *wsConn, env *wsEnvelope) {
	if env.RequestID == "" {
		client.send(&wsEnvelope{Type: wsTypeError, Message: "request_id is required"})
		return
	}

	switch env.Endpoint {
	case wsEndpointModels:
		data, _ := jsonutil.FastMarshal(catalogList())
		client.send(&wsEnvelope{Type: wsTypeResponse, RequestID: env.RequestID, Payload: data})
	case wsEndpointChatCompletions:
		h.handleProxy(client, env, domain.ClientFormatOpenAI)
	case wsEndpointMessages:
		h.handleProxy(client, env, domain.ClientFormatClaude)
	default:
		client.send(&wsEnvelope{Type: wsTypeError, RequestID: env.RequestID, Message: "unknown endpoint " + env.Endpoint})
	}
}

// handleProxy drives the HTTP proxy pipeline behind a virtual response
// writer that turns the write stream into envelopes.
func (h *WebSocketHub) handleProxy(client *wsConn, env *wsEnvelope, format domain.ClientFormat) {
	preq, err := h.proxy.buildProxyRequest(format, "", env.Payload, client.sessionKey)
	if err != nil {
		client.send(&wsEnvelope{Type: wsTypeError, RequestID: env.RequestID, Message: err.Error()})
		return
	}

	w := &wsResponseWriter{client: client, requestID: env.RequestID, stream: preq.Stream, header: make(http.Header)}
	start := time.Now()
	outcome, execErr := h.proxy.router.Execute(context.Background(), w, preq)
	h.proxy.recordRequest(preq, outcome, start, w.status, execErr)

	if execErr != nil {
		client.send(&wsEnvelope{Type: wsTypeError, RequestID: env.RequestID, Message: execErr.Error()})
		return
	}
	if preq.Stream {
		client.send(&wsEnvelope{Type: wsTypeStreamEnd, RequestID: env.RequestID})
		return
	}
	client.send(&wsEnvelope{Type: wsTypeResponse, RequestID: env.RequestID, Payload: w.body})
}

// wsResponseWriter adapts the envelope channel to http.ResponseWriter so
// the router does not know it is writing to a WebSocket. Streaming writes
// become stream_chunk envelopes; buffered writes become one response.
type wsResponseWriter struct {
	client    *wsConn
	requestID string
	stream    bool
	header    http.Header
	status    int
	body      []byte
}

func (w *wsResponseWriter) Header() http.Header {
	return w.header
}

func (w *wsResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *wsResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if !w.stream {
		w.body = append(w.body, p...)
		return len(p), nil
	}
	chunk, err := jsonutil.FastMarshal(string(p))
	if err != nil {
		return 0, err
	}
	if err := w.client.send(&wsEnvelope{Type: wsTypeStreamChunk, RequestID: w.requestID, Payload: chunk}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush is a no-op; every chunk is already pushed as its own envelope.
func (w *wsResponseWriter) Flush() {}

// --- event.Broadcaster ---

func (h *WebSocketHub) BroadcastRequestLog(rec *domain.RequestLog) {
	h.BroadcastMessage("request_log_update", rec)
}

func (h *WebSocketHub) BroadcastLog(message string) {
	h.BroadcastMessage("log_message", message)
}

// BroadcastMessage sends a custom message with specified type to all connected clients
func (h *WebSocketHub) BroadcastMessage(messageType string, data interface{}) {
	payload, err := jsonutil.FastMarshal(data)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- &wsEnvelope{Type: messageType, Payload: payload}:
	default:
		// 广播通道满时丢弃，推送是尽力而为
	}
}
