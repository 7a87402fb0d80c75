package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"p2p-pricer/internal/models"
	"p2p-pricer/internal/pricing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// 单连接待推送缓冲。打满说明对端长期不消费，连接会被移除
	connLogBuffer = 64
	wsWriteWait   = 10 * time.Second
)

// LogHub 把每条新写入的执行日志实时推送给已连接的运营端页面。
// 每个连接有独立的缓冲和写协程，慢连接只拖垮自己，不阻塞引擎的日志落地。
type LogHub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]chan *models.PricingLog
	upgrader websocket.Upgrader
}

func NewLogHub() *LogHub {
	return &LogHub{
		conns: make(map[*websocket.Conn]chan *models.PricingLog),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve 升级WebSocket连接并保持到客户端断开
func (h *LogHub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	ch := make(chan *models.PricingLog, connLogBuffer)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(conn, ch)

	// 只推不收，读循环仅用于感知断开
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writeLoop 独立写协程：带写超时，写失败即移除连接
func (h *LogHub) writeLoop(conn *websocket.Conn, ch <-chan *models.PricingLog) {
	defer conn.Close()
	for entry := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(entry); err != nil {
			h.remove(conn)
			return
		}
	}
}

// Broadcast 向所有连接投递一条日志。只做非阻塞的入队，
// 缓冲已满的连接当场移除——引擎的调价周期绝不等网络
func (h *LogHub) Broadcast(entry *models.PricingLog) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.conns {
		select {
		case ch <- entry:
		default:
			delete(h.conns, conn)
			close(ch)
		}
	}
}

func (h *LogHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// StreamingSink 在落库之后把日志广播到WebSocket，实现 pricing.LogSink
type StreamingSink struct {
	next pricing.LogSink
	hub  *LogHub
}

func NewStreamingSink(next pricing.LogSink, hub *LogHub) *StreamingSink {
	return &StreamingSink{next: next, hub: hub}
}

func (s *StreamingSink) Append(entry *models.PricingLog) error {
	if err := s.next.Append(entry); err != nil {
		return err
	}
	s.hub.Broadcast(entry)
	return nil
}
