// internal/service/coupon/infrastructure/adapter/event_hub.go
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/port"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// ErrHubBusy 表示广播队列已满，事件被丢弃。
var ErrHubBusy = errors.New("event hub is busy, event dropped")

// EventHub 维护所有管理后台的 WebSocket 连接，并按租户广播生命周期事件。
// 订阅表只在 Run 所在的 goroutine 中读写。
type EventHub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan domain.CouponEvent
	done       chan struct{}
	// tenantID -> 连接集合
	subscribers map[string]map[*Subscriber]struct{}
}

// Subscriber 是一个 WebSocket 连接的代表
type Subscriber struct {
	hub      *EventHub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
}

// NewEventHub 创建广播中心，需要调用 Run 才会开始工作。
func NewEventHub() *EventHub {
	return &EventHub{
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan domain.CouponEvent, 256),
		done:        make(chan struct{}),
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// Run 处理注册、注销和广播，直到 ctx 结束。
func (h *EventHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case sub := <-h.register:
			set, ok := h.subscribers[sub.tenantID]
			if !ok {
				set = make(map[*Subscriber]struct{})
				h.subscribers[sub.tenantID] = set
			}
			set[sub] = struct{}{}
			logger.L().Debug().Str("tenant_id", sub.tenantID).Int("subscribers", len(set)).Msg("admin feed subscriber registered")
		case sub := <-h.unregister:
			h.remove(sub)
		case event := <-h.broadcast:
			h.fanOut(event)
		case <-ctx.Done():
			for _, set := range h.subscribers {
				for sub := range set {
					h.remove(sub)
				}
			}
			return nil
		}
	}
}

func (h *EventHub) remove(sub *Subscriber) {
	set, ok := h.subscribers[sub.tenantID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.send)
	if len(set) == 0 {
		delete(h.subscribers, sub.tenantID)
	}
}

func (h *EventHub) fanOut(event domain.CouponEvent) {
	set := h.subscribers[event.TenantID]
	if len(set) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.L().Error().Err(err).Msg("failed to marshal coupon event for admin feed")
		return
	}
	for sub := range set {
		select {
		case sub.send <- payload:
		default:
			// 消费太慢的连接直接断开
			logger.L().Warn().Str("tenant_id", sub.tenantID).Msg("dropping slow admin feed subscriber")
			h.remove(sub)
		}
	}
}

// Publish 实现 port.EventPublisher，不会阻塞业务请求。
func (h *EventHub) Publish(ctx context.Context, event domain.CouponEvent) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrHubBusy
	}
}

// Serve 接管一个已经升级好的连接并注册到租户的订阅集合，读写在各自的 goroutine 中进行。
func (h *EventHub) Serve(ctx context.Context, conn *websocket.Conn, tenantID string) {
	sub := &Subscriber{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), tenantID: tenantID}
	select {
	case h.register <- sub:
	case <-ctx.Done():
		conn.Close()
		return
	case <-h.done:
		conn.Close()
		return
	}
	go sub.writePump()
	go sub.readPump()
}

// writePump 负责将 send channel 中的消息写入 websocket，并定期发送 ping
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理 pong 和关闭，管理后台不会通过这条连接发送业务消息
func (s *Subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	}()
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var _ port.EventPublisher = (*EventHub)(nil)
