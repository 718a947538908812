// 文件: pkg/engine/callbacks.go
// 网关回调消化
//
// 【路径】
// OnTrade:    目的编号还原 -> 倒计数校验 -> 清算器应用成交 -> 倒计数扣减 -> 落成交 -> 发事件
// OnResponse: 目的编号还原 -> DELETED 时应用撤销迁移并清零倒计数 -> 落回报 -> 发事件
//
// 回调来自网关线程; 这里只动编号映射 (自带锁) 和存储 (自带事务),
// 不取引擎锁。消化失败通过 error 事件透出, 绝不向网关抛回。

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"tcore.com/pkg/events"
	"tcore.com/pkg/gateway"
	"tcore.com/pkg/idmap"
	"tcore.com/pkg/journal"
	"tcore.com/pkg/ledger"
)

var _ gateway.Handler = (*traderHandler)(nil)

// traderHandler 单个网关上下文的回调适配
type traderHandler struct {
	engine *Engine
	tc     *traderContext
}

func (h *traderHandler) OnTrade(trade *ledger.Trade) {
	e := h.engine
	ctx := context.Background()

	src, ok := h.tc.translator.SourceOf(trade.OrderID)
	if !ok {
		e.reportFault(fmt.Errorf("trade %d: unknown destination order %d", trade.TradeID, trade.OrderID))
		return
	}
	// 先校验不扣减; 扣减放到清算事务提交之后, 失败时映射与账本一致
	remaining, ok := h.tc.translator.Remaining(trade.OrderID)
	if !ok {
		e.reportFault(classify(idmap.ErrCountDownNotFound, CodeCountDown,
			fmt.Sprintf("count down of trade %d", trade.TradeID)))
		return
	}
	if remaining < trade.Quantity {
		e.reportFault(classify(idmap.ErrCountDownUnderflow, CodeCountDown,
			fmt.Sprintf("count down of trade %d", trade.TradeID)))
		return
	}

	// 落库前还原为引擎报单号
	local := *trade
	local.OrderID = src

	req, err := e.repo.GetRequestByOrderID(ctx, src)
	if err != nil {
		e.reportFault(wrapError(CodePersistence, err, "fetch request %d", src))
		return
	}
	e.mu.Lock()
	inst, ok := e.instruments[req.InstrumentID]
	e.mu.Unlock()
	if !ok {
		e.reportFault(newError(CodeInstrumentNotFound, "instrument %s of order %d", req.InstrumentID, src))
		return
	}

	if trade.Offset == ledger.OffsetOpen {
		err = e.clearer.OpenTrade(ctx, &local, inst)
	} else {
		err = e.clearer.CloseTrade(ctx, &local, inst)
	}
	if err != nil {
		e.reportFault(classify(err, CodePersistence,
			fmt.Sprintf("apply trade %d of order %d", trade.TradeID, src)))
		return
	}

	if err := h.tc.translator.CountDown(trade.OrderID, trade.Quantity); err != nil {
		// 账本已应用, 映射落后属于一致性故障, 透出后继续落成交
		e.reportFault(classify(err, CodeCountDown,
			fmt.Sprintf("count down of trade %d", trade.TradeID)))
	}

	if err := e.repo.AddTrade(ctx, &local); err != nil {
		// 重复成交回报: 状态机已保证幂等拒绝, 这里只会是真重复落库
		if !errors.Is(err, ledger.ErrDuplicateID) {
			e.reportFault(wrapError(CodePersistence, err, "persist trade %d", trade.TradeID))
			return
		}
	}

	e.publisher.Publish(events.TypeTrade, &local, local.Timestamp)
	e.appendFill(req, &local)
}

func (h *traderHandler) OnResponse(resp *ledger.Response) {
	e := h.engine
	ctx := context.Background()

	src, ok := h.tc.translator.SourceOf(resp.OrderID)
	if !ok {
		e.reportFault(fmt.Errorf("response %d: unknown destination order %d", resp.ResponseID, resp.OrderID))
		return
	}

	local := *resp
	local.OrderID = src

	if resp.Status == ledger.ResponseDeleted {
		req, err := e.repo.GetRequestByOrderID(ctx, src)
		if err != nil {
			e.reportFault(wrapError(CodePersistence, err, "fetch request %d", src))
			return
		}
		if req.Offset == ledger.OffsetOpen {
			err = e.clearer.OpenDelete(ctx, src)
		} else {
			err = e.clearer.CloseDelete(ctx, src)
		}
		if err != nil {
			e.reportFault(classify(err, CodePersistence,
				fmt.Sprintf("apply delete of order %d", src)))
			return
		}
		// 该子单已了结, 重复撤单不再转发到它
		h.tc.translator.Exhaust(resp.OrderID)
	}

	if err := e.repo.AddResponse(ctx, &local); err != nil && !errors.Is(err, ledger.ErrDuplicateID) {
		e.reportFault(wrapError(CodePersistence, err, "persist response %d", resp.ResponseID))
		return
	}

	e.publisher.Publish(events.TypeResponse, &local, local.Timestamp)
}

func (h *traderHandler) OnError(gerr *gateway.Error) {
	log.Printf("[Engine] trader %d error: %v", h.tc.traderID, gerr)
	h.engine.publisher.Publish(events.TypeError, map[string]any{
		"trader_id": h.tc.traderID,
		"code":      gerr.Code,
		"message":   gerr.Message,
	}, ledger.NowMilli())
}

func (h *traderHandler) OnRequestError(req *ledger.Request, gerr *gateway.Error, requestID int64) {
	// 网关拒单: 还原报单号后透出, 冻结留给撤单/结算路径清理
	src := req.OrderID
	if s, ok := h.tc.translator.SourceOf(req.OrderID); ok {
		src = s
	}
	log.Printf("[Engine] trader %d rejected order %d: %v", h.tc.traderID, src, gerr)
	h.engine.publisher.Publish(events.TypeRequestError, map[string]any{
		"trader_id":  h.tc.traderID,
		"order_id":   src,
		"request_id": requestID,
		"code":       gerr.Code,
		"message":    gerr.Message,
	}, ledger.NowMilli())
}

func (h *traderHandler) OnStatusChange(status gateway.Status) {
	e := h.engine
	e.mu.Lock()
	h.tc.status = status
	e.mu.Unlock()

	log.Printf("[Engine] trader %d status: %v", h.tc.traderID, status)
	e.publisher.Publish(events.TypeStatus, map[string]any{
		"trader_id": h.tc.traderID,
		"status":    status.String(),
	}, ledger.NowMilli())
}

// reportFault 消化失败只透出, 不中断网关
func (e *Engine) reportFault(err error) {
	log.Printf("[Engine] callback fault: %v", err)
	e.publisher.Publish(events.TypeError, err.Error(), ledger.NowMilli())
}

// appendFill 成交流水 (配置了 journal 时)
func (e *Engine) appendFill(req *ledger.Request, trade *ledger.Trade) {
	e.mu.Lock()
	p := e.journal
	e.mu.Unlock()
	if p == nil {
		return
	}

	record := &journal.FillRecord{
		TraderID:     req.TraderID,
		OrderID:      trade.OrderID,
		TradeID:      trade.TradeID,
		InstrumentID: trade.InstrumentID,
		Direction:    trade.Direction,
		Offset:       trade.Offset,
		Price:        trade.Price,
		Quantity:     trade.Quantity,
		TradingDay:   trade.TradingDay,
		Timestamp:    trade.Timestamp,
	}
	if err := p.Append(record); err != nil {
		log.Printf("[Engine] append fill record failed: %v", err)
	}
}
