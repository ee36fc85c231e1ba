// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/BookForge/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 一个订阅项目的 WebSocket 连接
type WebSocketClient struct {
	conn      WebSocketConnection
	projectID string
	send      chan []byte
	done      chan struct{}
	closed    int32
	createdAt time.Time
}

// NewWebSocketClient 创建客户端
func NewWebSocketClient(conn WebSocketConnection, projectID string) *WebSocketClient {
	return &WebSocketClient{
		conn:      conn,
		projectID: projectID,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// SendMessage 安全发送消息到客户端；队列满时丢弃
func (client *WebSocketClient) SendMessage(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil
	}
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	client.enqueue(msgBytes)
	return nil
}

func (client *WebSocketClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(errorMsg string) {
	_ = client.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// writePump 把队列中的消息写到连接上，并定期 ping
func (client *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return
		case msg := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketManager 按项目管理 WebSocket 连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{}
	mutex       sync.RWMutex
	logger      *utils.Logger
}

// NewWebSocketManager 创建连接管理器
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		logger:      utils.GetLogger().Named("websocket"),
	}
}

// Register 注册新客户端
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.projectID] == nil {
		manager.connections[client.projectID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.projectID][client] = struct{}{}
	manager.logger.Info("✅ WebSocket client connected", map[string]interface{}{"project": client.projectID})
}

// Unregister 注销并关闭客户端
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	if clients, exists := manager.connections[client.projectID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(manager.connections, client.projectID)
		}
	}
	manager.mutex.Unlock()

	client.Close()
	manager.logger.Info("🔌 WebSocket client disconnected", map[string]interface{}{"project": client.projectID})
}

// BroadcastToProject 向订阅指定项目的客户端推送消息
func (manager *WebSocketManager) BroadcastToProject(projectID string, message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("❌ failed to encode broadcast", map[string]interface{}{"error": err.Error()})
		return
	}

	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.connections[projectID]))
	for client := range manager.connections[projectID] {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(msgBytes) && !client.IsClosed() {
			// 队列已满的慢客户端直接断开
			manager.Unregister(client)
		}
	}
}

// ClientCount 订阅某个项目的连接数
func (manager *WebSocketManager) ClientCount(projectID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.connections[projectID])
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	projects := make(map[string]int, len(manager.connections))
	total := 0
	for projectID, clients := range manager.connections {
		projects[projectID] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_projects":    len(manager.connections),
		"total_connections": total,
		"projects":          projects,
	}
}

// Shutdown 关闭所有连接
func (manager *WebSocketManager) Shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for client := range clients {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]struct{})
	manager.logger.Info("🛑 WebSocket manager closed", nil)
}
