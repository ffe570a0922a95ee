package speech

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// ConnectionManager 跟踪所有上游 WebSocket 连接，便于关停时统一关闭
type ConnectionManager struct {
	mu          sync.Mutex
	connections map[string]*websocket.Conn
	dialer      *websocket.Dialer

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConnectionManager 创建连接管理器。timeout 同时作为握手超时和单次读超时。
func NewConnectionManager(timeout time.Duration) *ConnectionManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ConnectionManager{
		connections:  make(map[string]*websocket.Conn),
		dialer:       &websocket.Dialer{HandshakeTimeout: timeout},
		readTimeout:  timeout,
		writeTimeout: defaultWriteTimeout,
	}
}

// Dial 建立连接并登记，connectID 相同的旧连接会被关闭
func (cm *ConnectionManager) Dial(ctx context.Context, url string, header http.Header, connectID, tag string) (*websocket.Conn, error) {
	// gorilla 在 HTTP 升级阶段只认握手超时，ctx 取消时直接关掉底层连接
	var unwatch func() bool
	dialer := *cm.dialer
	dialer.NetDialContext = func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		netConn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		unwatch = context.AfterFunc(ctx, func() { netConn.Close() })
		return netConn, nil
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if unwatch != nil {
		unwatch()
	}
	if err == nil && ctx.Err() != nil {
		conn.Close()
		err = ctx.Err()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[%s] connected with logid: %s", tag, logid)
		}
	}

	cm.mu.Lock()
	if old, exists := cm.connections[connectID]; exists {
		old.Close()
	}
	cm.connections[connectID] = conn
	cm.mu.Unlock()

	return conn, nil
}

// Read 读取一帧，每次读取前刷新读超时
func (cm *ConnectionManager) Read(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(cm.readTimeout))
	_, data, err := conn.ReadMessage()
	return data, err
}

// Write 写入一帧二进制消息
func (cm *ConnectionManager) Write(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(cm.writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Release 关闭并移除连接
func (cm *ConnectionManager) Release(connectID string) {
	cm.mu.Lock()
	conn, exists := cm.connections[connectID]
	delete(cm.connections, connectID)
	cm.mu.Unlock()

	if exists {
		conn.Close()
	}
}

// Count 返回当前连接数
func (cm *ConnectionManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.connections)
}

// CloseAll 关闭所有连接
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, conn := range cm.connections {
		conn.Close()
		delete(cm.connections, id)
	}
}
