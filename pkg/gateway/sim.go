// 文件: pkg/gateway/sim.go
// 模拟网关
//
// 【用途】
// - cmd/simulation 端到端演示
// - 引擎集成测试 (无需真实交易所连接)
//
// 【行为】
// NEW 单先回 ACCEPTED, 再按配置延迟逐笔回成交;
// DELETE 单对剩余量回 DELETED。价格直接用申报价。

package gateway

import (
	"errors"
	"sync"
	"time"

	"tcore.com/pkg/ledger"
)

var _ Gateway = (*Sim)(nil)

type SimConfig struct {
	// FillDelay 回报成交前的延迟 (0 表示同步回报)
	FillDelay time.Duration

	// FillQuantity 每笔回报的成交量 (0 表示一次全部成交)
	FillQuantity int64

	// AutoFill 是否自动回成交; 关闭后订单停留在已接受状态,
	// 由测试代码手工触发
	AutoFill bool
}

func DefaultSimConfig() SimConfig {
	return SimConfig{FillDelay: 0, FillQuantity: 0, AutoFill: true}
}

type simOrder struct {
	req       *ledger.Request
	remaining int64
}

type Sim struct {
	config  SimConfig
	handler Handler

	mu      sync.Mutex
	started bool
	orders  map[int64]*simOrder // 目的编号 -> 挂单
	tradeID int64
	day     string
}

func NewSim(config SimConfig) *Sim {
	return &Sim{
		config: config,
		orders: make(map[int64]*simOrder),
	}
}

// Start 启动网关
// props["trading_day"] 指定回报携带的交易日
func (s *Sim) Start(props map[string]string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("sim gateway already started")
	}
	s.handler = handler
	s.started = true
	s.day = props["trading_day"]

	handler.OnStatusChange(StatusReady)
	return nil
}

func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.New("sim gateway not started")
	}
	s.started = false
	s.orders = make(map[int64]*simOrder)

	s.handler.OnStatusChange(StatusStopped)
	return nil
}

func (s *Sim) Insert(req *ledger.Request, requestID int64) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return &Error{Code: 1, Message: "gateway not started"}
	}

	switch req.Action {
	case ledger.ActionNew:
		s.orders[req.OrderID] = &simOrder{req: req, remaining: req.Quantity}
		handler := s.handler
		s.mu.Unlock()

		handler.OnResponse(&ledger.Response{
			ResponseID: ledger.NextID(),
			OrderID:    req.OrderID,
			Status:     ledger.ResponseAccepted,
			TradingDay: s.day,
			Timestamp:  ledger.NowMilli(),
		})

		if s.config.AutoFill {
			if s.config.FillDelay > 0 {
				go func() {
					time.Sleep(s.config.FillDelay)
					s.Fill(req.OrderID, req.Price, 0)
				}()
			} else {
				s.Fill(req.OrderID, req.Price, 0)
			}
		}
		return nil

	case ledger.ActionDelete:
		order, ok := s.orders[req.OrderID]
		if !ok || order.remaining == 0 {
			s.mu.Unlock()
			return &Error{Code: 2, Message: "unknown or finished order"}
		}
		order.remaining = 0
		delete(s.orders, req.OrderID)
		handler := s.handler
		s.mu.Unlock()

		handler.OnResponse(&ledger.Response{
			ResponseID: ledger.NextID(),
			OrderID:    req.OrderID,
			Status:     ledger.ResponseDeleted,
			TradingDay: s.day,
			Timestamp:  ledger.NowMilli(),
		})
		return nil

	default:
		s.mu.Unlock()
		return &Error{Code: 3, Message: "unknown action"}
	}
}

// Fill 回报成交 (qty=0 表示剩余全部)
// AutoFill 关闭时由测试代码显式调用
func (s *Sim) Fill(destID int64, price float64, qty int64) {
	s.mu.Lock()
	order, ok := s.orders[destID]
	if !ok || order.remaining == 0 {
		s.mu.Unlock()
		return
	}

	step := s.config.FillQuantity
	if qty > 0 {
		step = qty
	}
	if step <= 0 || step > order.remaining {
		step = order.remaining
	}
	order.remaining -= step
	if order.remaining == 0 {
		delete(s.orders, destID)
	}

	s.tradeID++
	trade := &ledger.Trade{
		TradeID:      s.tradeID,
		OrderID:      destID,
		InstrumentID: order.req.InstrumentID,
		Direction:    order.req.Direction,
		Offset:       order.req.Offset,
		Price:        price,
		Quantity:     step,
		TradingDay:   s.day,
		Timestamp:    ledger.NowMilli(),
	}
	handler := s.handler
	remaining := order.remaining
	s.mu.Unlock()

	handler.OnTrade(trade)

	// 分笔成交时继续回报剩余部分
	if remaining > 0 && s.config.FillQuantity > 0 && qty == 0 {
		s.Fill(destID, price, 0)
	}
}
