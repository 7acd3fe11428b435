package event

import "github.com/awsl-project/relay/internal/domain"

// Broadcaster 请求生命周期事件的广播接口，WebSocket 观察端实现此接口
type Broadcaster interface {
	BroadcastRequestLog(rec *domain.RequestLog)
	BroadcastLog(message string)
	BroadcastMessage(messageType string, data interface{})
}

// NopBroadcaster 空实现，用于测试或不需要广播的场景
type NopBroadcaster struct{}

func (n *NopBroadcaster) BroadcastRequestLog(rec *domain.RequestLog)            {}
func (n *NopBroadcaster) BroadcastLog(message string)                           {}
func (n *NopBroadcaster) BroadcastMessage(messageType string, data interface{}) {}
