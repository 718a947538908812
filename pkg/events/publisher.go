// 文件: pkg/events/publisher.go
// 引擎事件发布
//
// 【职责】
// 1. 进程内订阅者回调 (引擎调用方)
// 2. 可选 NATS 外发 (跨进程订阅)
//
// 发布是单向通知, 不观察返回值。订阅者抛出的 panic 在发布边界
// 捕获并转换为一条 user_error 事件, 绝不回灌进触发它的状态迁移。

package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// =============================================================================
// 事件类型
// =============================================================================

type Type string

const (
	TypeTrade        Type = "trade"
	TypeResponse     Type = "response"
	TypeStatus       Type = "status"
	TypeError        Type = "error"
	TypeRequestError Type = "request_error"
	TypeUserError    Type = "user_error"
)

// Subject NATS 主题
func (t Type) Subject() string {
	return "engine." + string(t)
}

type Event struct {
	Type      Type  `json:"type"`
	Payload   any   `json:"payload"`
	Timestamp int64 `json:"timestamp"`
}

// Subscriber 进程内订阅者
type Subscriber func(Event)

// =============================================================================
// Publisher
// =============================================================================

type Publisher struct {
	mu   sync.RWMutex
	subs []Subscriber
	conn *nats.Conn // 可选
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// ConnectNATS 连接 NATS, 之后所有事件同时外发
func (p *Publisher) ConnectNATS(url string) error {
	conn, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// Subscribe 注册进程内订阅者
func (p *Publisher) Subscribe(fn Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Publish 发布事件 (fire-and-forget)
func (p *Publisher) Publish(t Type, payload any, timestamp int64) {
	event := Event{Type: t, Payload: payload, Timestamp: timestamp}

	p.mu.RLock()
	subs := p.subs
	conn := p.conn
	p.mu.RUnlock()

	if conn != nil {
		if data, err := json.Marshal(event); err == nil {
			if err := conn.Publish(t.Subject(), data); err != nil {
				log.Printf("[Events] nats publish failed: subject=%s, err=%v", t.Subject(), err)
			}
		}
	}

	for _, fn := range subs {
		p.deliver(fn, event, timestamp)
	}
}

// deliver 投递给单个订阅者, panic 转 user_error 事件
func (p *Publisher) deliver(fn Subscriber, event Event, timestamp int64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Events] subscriber panic: type=%s, err=%v", event.Type, r)
			// user_error 自身的投递 panic 只记日志, 避免递归
			if event.Type != TypeUserError {
				p.Publish(TypeUserError, fmt.Sprintf("subscriber panic: %v", r), timestamp)
			}
		}
	}()
	fn(event)
}

// Close 关闭 NATS 连接
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
