// 文件: pkg/engine/engine.go
// 交易账户引擎
//
// 【职责】
// 1. 网关注册表: traderId -> (网关, 编号映射, 启停标记)
// 2. 报单准入与路由: 开仓选网关冻结后转发; 平仓按 (网关, 平今/平昨) 拆子单
// 3. 回调消化: 成交/撤销经编号映射还原后交给清算器
// 4. 结算: 未了结报单本地强制撤销 -> 全量重算持仓与账户 -> 滚动交易日
//
// 【并发】
// 注册表与报单簿由单把互斥锁保护; 转发网关前释放锁,
// 同步回调的网关 (如模拟网关) 不会与引擎死锁。
// 清算路径的原子性由存储层事务保证, 不依赖引擎锁。

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"tcore.com/pkg/clearing"
	"tcore.com/pkg/events"
	"tcore.com/pkg/gateway"
	"tcore.com/pkg/idmap"
	"tcore.com/pkg/journal"
	"tcore.com/pkg/ledger"
)

// =============================================================================
// 生命周期状态
// =============================================================================

type State int8

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitFailed
	StateWorking
	StateSettling
	StateSettleFailed
	StateStarting
	StateStartFailed
	StateStopping
	StateStopFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateInitFailed:
		return "INIT_FAILED"
	case StateWorking:
		return "WORKING"
	case StateSettling:
		return "SETTLING"
	case StateSettleFailed:
		return "SETTLE_FAILED"
	case StateStarting:
		return "STARTING"
	case StateStartFailed:
		return "START_FAILED"
	case StateStopping:
		return "STOPPING"
	case StateStopFailed:
		return "STOP_FAILED"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// =============================================================================
// 网关上下文
// =============================================================================

type traderContext struct {
	traderID   int64
	gw         gateway.Gateway
	translator *idmap.Translator
	props      map[string]string

	enabled bool
	status  gateway.Status
}

// =============================================================================
// Engine
// =============================================================================

type Engine struct {
	mu    sync.Mutex
	state State

	repo      ledger.Repository
	insts     ledger.InstrumentStore
	clearer   *clearing.Clearer
	publisher *events.Publisher
	journal   *journal.Producer // 可选, nil 则不落流水

	instruments map[string]*ledger.Instrument
	traders     map[int64]*traderContext

	// 引擎报单号 -> 经手网关集合 (撤单路由与结算清理用)
	orderTraders map[int64]map[int64]struct{}

	rand *rand.Rand
}

// Config 引擎配置
type Config struct {
	// SnowflakeNode 账本 ID 节点 (0-1023), 多引擎部署时错开
	SnowflakeNode int64

	// InstrumentStore 品种参考数据读取口, 缺省直读账本。
	// 接 ledger.NewCachedInstrumentStore 可启用 Redis 缓存。
	InstrumentStore ledger.InstrumentStore
}

func DefaultConfig() Config {
	return Config{SnowflakeNode: 0}
}

func New(repo ledger.Repository, publisher *events.Publisher) *Engine {
	return NewWithConfig(repo, publisher, DefaultConfig())
}

func NewWithConfig(repo ledger.Repository, publisher *events.Publisher, cfg Config) *Engine {
	if err := ledger.InitSnowflake(cfg.SnowflakeNode); err != nil {
		log.Printf("[Engine] init snowflake node %d: %v", cfg.SnowflakeNode, err)
	}
	insts := cfg.InstrumentStore
	if insts == nil {
		insts = repo
	}
	return &Engine{
		state:        StateUninitialized,
		repo:         repo,
		insts:        insts,
		clearer:      clearing.NewClearer(repo),
		publisher:    publisher,
		instruments:  make(map[string]*ledger.Instrument),
		traders:      make(map[int64]*traderContext),
		orderTraders: make(map[int64]map[int64]struct{}),
		rand:         rand.New(rand.NewSource(ledger.NowMilli())),
	}
}

// SetJournal 配置流水生产者 (可选)
func (e *Engine) SetJournal(p *journal.Producer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = p
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.publisher.Publish(events.TypeStatus, s.String(), ledger.NowMilli())
}

// Init 加载参考数据, 就绪后进入 WORKING
//
// 账户行与交易日必须已由运维预置 (首次部署时 AddAccount/SetTradingDay)。
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateUninitialized && e.state != StateInitFailed {
		state := e.state
		e.mu.Unlock()
		return newError(CodeInvalidState, "init in state %v", state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	instruments, err := e.insts.GetInstruments(ctx)
	if err != nil {
		e.setState(StateInitFailed)
		return wrapError(CodePersistence, err, "load instruments")
	}
	if _, err := e.repo.GetAccount(ctx); err != nil {
		e.setState(StateInitFailed)
		return wrapError(CodePersistence, err, "load account")
	}
	if _, err := e.repo.GetTradingDay(ctx); err != nil {
		e.setState(StateInitFailed)
		return wrapError(CodePersistence, err, "load trading day")
	}

	e.mu.Lock()
	for _, inst := range instruments {
		e.instruments[inst.InstrumentID] = inst
	}
	e.mu.Unlock()

	e.setState(StateWorking)
	log.Printf("[Engine] initialized: %d instruments", len(instruments))
	return nil
}

// AddInstrument 运行期挂牌新品种 (落库 + 记入内存)
func (e *Engine) AddInstrument(ctx context.Context, inst *ledger.Instrument) error {
	if inst == nil || inst.InstrumentID == "" {
		return newError(CodeInvalidRequest, "nil or unnamed instrument")
	}
	if err := e.insts.AddInstrument(ctx, inst); err != nil {
		return wrapError(CodePersistence, err, "persist instrument %s", inst.InstrumentID)
	}
	e.mu.Lock()
	e.instruments[inst.InstrumentID] = inst
	e.mu.Unlock()
	return nil
}

// =============================================================================
// 网关注册表
// =============================================================================

// RegisterTrader 注册网关, 新注册默认停用
func (e *Engine) RegisterTrader(traderID int64, gw gateway.Gateway, props map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.traders[traderID]; ok {
		return newError(CodeDuplicateTraderID, "trader %d already registered", traderID)
	}
	e.traders[traderID] = &traderContext{
		traderID:   traderID,
		gw:         gw,
		translator: idmap.NewTranslator(),
		props:      props,
		status:     gateway.StatusDisconnected,
	}
	return nil
}

// UnregisterTrader 注销网关 (需先停用)
func (e *Engine) UnregisterTrader(traderID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tc, ok := e.traders[traderID]
	if !ok {
		return newError(CodeTraderNotFound, "trader %d not registered", traderID)
	}
	if tc.enabled {
		return newError(CodeTraderNotEnabled, "trader %d still enabled", traderID)
	}
	delete(e.traders, traderID)
	return nil
}

// EnableTrader 启用/停用网关; 停用的网关不参与开仓路由
func (e *Engine) EnableTrader(traderID int64, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tc, ok := e.traders[traderID]
	if !ok {
		return newError(CodeTraderNotFound, "trader %d not registered", traderID)
	}
	tc.enabled = enabled
	return nil
}

// decideTrader 开仓网关选择
// 显式指定的必须已启用; 未指定时在启用网关里伪随机选一个
func (e *Engine) decideTrader(explicit int64) (*traderContext, error) {
	if explicit != 0 {
		tc, ok := e.traders[explicit]
		if !ok {
			return nil, newError(CodeTraderNotFound, "trader %d not registered", explicit)
		}
		if !tc.enabled {
			return nil, newError(CodeTraderNotEnabled, "trader %d not enabled", explicit)
		}
		return tc, nil
	}

	var candidates []*traderContext
	for _, tc := range e.traders {
		if tc.enabled {
			candidates = append(candidates, tc)
		}
	}
	if len(candidates) == 0 {
		return nil, newError(CodeNoTraderAvailable, "no enabled trader")
	}
	return candidates[e.rand.Intn(len(candidates))], nil
}

// =============================================================================
// 报单入口
// =============================================================================

// forward 解锁后待转发的子单
type forward struct {
	tc  *traderContext
	req *ledger.Request
}

// pending 已冻结待转发的子单
// 目的编号在准入事务提交后才分配, 回滚不在映射里留条目
type pending struct {
	tc       *traderContext
	offset   ledger.Offset
	quantity int64
}

// Request 处理报单请求
//
// requestID 由调用方分配, 仅用于错误回调关联, 引擎不持久化。
// 拒绝路径不落任何行; 接受路径在转发前完成冻结与持久化。
func (e *Engine) Request(ctx context.Context, req *ledger.Request, requestID int64) error {
	if req == nil {
		return newError(CodeInvalidRequest, "nil request")
	}

	switch req.Action {
	case ledger.ActionNew:
		return e.requestNew(ctx, req, requestID)
	case ledger.ActionDelete:
		return e.requestDelete(ctx, req, requestID)
	default:
		return newError(CodeInvalidRequest, "unknown action %d", req.Action)
	}
}

func (e *Engine) requestNew(ctx context.Context, req *ledger.Request, requestID int64) error {
	if req.Quantity <= 0 {
		return newError(CodeInvalidRequest, "order %d: quantity %d", req.OrderID, req.Quantity)
	}

	e.mu.Lock()
	if e.state != StateWorking {
		state := e.state
		e.mu.Unlock()
		return newError(CodeInvalidState, "request in state %v", state)
	}
	if _, ok := e.orderTraders[req.OrderID]; ok {
		e.mu.Unlock()
		return newError(CodeDuplicateOrderID, "order %d already exists", req.OrderID)
	}
	inst, ok := e.instruments[req.InstrumentID]
	if !ok {
		e.mu.Unlock()
		return newError(CodeInstrumentNotFound, "instrument %s", req.InstrumentID)
	}

	// orderTraders 在结算时清空, 但报单行跨交易日存续, 编号同样不可复用
	if _, gerr := e.repo.GetRequestByOrderID(ctx, req.OrderID); gerr == nil {
		e.mu.Unlock()
		return newError(CodeDuplicateOrderID, "order %d already exists", req.OrderID)
	} else if !errors.Is(gerr, ledger.ErrNotFound) {
		e.mu.Unlock()
		return wrapError(CodePersistence, gerr, "lookup order %d", req.OrderID)
	}

	// 冻结与报单行落同一事务, 任一步失败整体回滚, 不留冻结
	var pendings []*pending
	terr := e.repo.Transaction(ctx, func(tx ledger.Repository) error {
		clearer := clearing.NewClearer(tx)
		var err error
		if req.Offset == ledger.OffsetOpen {
			pendings, err = e.admitOpen(ctx, clearer, req, inst)
		} else {
			pendings, err = e.admitClose(ctx, clearer, req, inst)
		}
		if err != nil {
			return err
		}

		day, derr := tx.GetTradingDay(ctx)
		if derr != nil {
			return wrapError(CodePersistence, derr, "fetch trading day")
		}
		persisted := req.Clone()
		persisted.TradingDay = day
		persisted.CreatedAt = ledger.NowMilli()
		persisted.UpdatedAt = persisted.CreatedAt
		if perr := tx.AddRequest(ctx, persisted); perr != nil {
			return wrapError(CodePersistence, perr, "persist request %d", req.OrderID)
		}
		return nil
	})
	if terr != nil {
		e.mu.Unlock()
		var engErr *Error
		if errors.As(terr, &engErr) {
			return engErr
		}
		return wrapError(CodePersistence, terr, "admit order %d", req.OrderID)
	}

	forwards := make([]*forward, 0, len(pendings))
	set := make(map[int64]struct{}, len(pendings))
	for _, p := range pendings {
		child := req.Clone()
		child.TraderID = p.tc.traderID
		child.Offset = p.offset
		child.Quantity = p.quantity
		child.OrderID = p.tc.translator.NewDestinationIDWithCount(req.OrderID, p.quantity)
		forwards = append(forwards, &forward{tc: p.tc, req: child})
		set[p.tc.traderID] = struct{}{}
	}
	e.orderTraders[req.OrderID] = set
	e.mu.Unlock()

	// 已冻结已持久化, 转发失败通过错误回调透出, 不再回滚
	for _, f := range forwards {
		if ierr := f.tc.gw.Insert(f.req, requestID); ierr != nil {
			e.handleInsertError(req, ierr, requestID)
		}
	}
	return nil
}

// admitOpen 开仓准入 (持锁、事务内调用): 选网关 -> 资金检查 -> 冻结
func (e *Engine) admitOpen(ctx context.Context, clearer *clearing.Clearer, req *ledger.Request, inst *ledger.Instrument) ([]*pending, error) {
	tc, err := e.decideTrader(req.TraderID)
	if err != nil {
		return nil, err
	}
	req.TraderID = tc.traderID

	if cerr := clearer.CheckOpen(ctx, req, inst); cerr != nil {
		return nil, classify(cerr, CodePersistence, fmt.Sprintf("check open of order %d", req.OrderID))
	}
	if ferr := clearer.FreezeOpen(ctx, req, inst); ferr != nil {
		return nil, classify(ferr, CodePersistence, fmt.Sprintf("freeze open of order %d", req.OrderID))
	}
	return []*pending{{tc: tc, offset: req.Offset, quantity: req.Quantity}}, nil
}

// admitClose 平仓准入 (持锁、事务内调用): FIFO 冻结 -> 按 (网关, 日桶) 拆子单
func (e *Engine) admitClose(ctx context.Context, clearer *clearing.Clearer, req *ledger.Request, inst *ledger.Instrument) ([]*pending, error) {
	groups, err := clearer.FreezeClose(ctx, req, inst)
	if err != nil {
		return nil, classify(err, CodePersistence, fmt.Sprintf("freeze close of order %d", req.OrderID))
	}

	pendings := make([]*pending, 0, len(groups))
	for _, g := range groups {
		tc, ok := e.traders[g.TraderID]
		if !ok {
			// 持仓归属的网关已注销, 冻结随事务一并回滚
			return nil, newError(CodeTraderNotFound,
				"order %d: contracts belong to unregistered trader %d", req.OrderID, g.TraderID)
		}
		pendings = append(pendings, &pending{tc: tc, offset: g.Offset, quantity: g.Quantity})
	}
	return pendings, nil
}

// requestDelete 撤单: 向剩余量大于零的目的子单逐个转发 DELETE
func (e *Engine) requestDelete(ctx context.Context, req *ledger.Request, requestID int64) error {
	e.mu.Lock()
	if e.state != StateWorking {
		state := e.state
		e.mu.Unlock()
		return newError(CodeInvalidState, "delete in state %v", state)
	}
	set, ok := e.orderTraders[req.OrderID]
	if !ok {
		e.mu.Unlock()
		return newError(CodeOrderIDNotFound, "order %d unknown", req.OrderID)
	}

	var forwards []*forward
	for traderID := range set {
		tc, ok := e.traders[traderID]
		if !ok {
			continue
		}
		dsts, ok := tc.translator.DestinationsOf(req.OrderID)
		if !ok {
			continue
		}
		for _, dst := range dsts {
			remaining, ok := tc.translator.Remaining(dst)
			if !ok || remaining <= 0 {
				continue // 已全部成交的子单不用撤
			}
			child := req.Clone()
			child.Action = ledger.ActionDelete
			child.TraderID = traderID
			child.OrderID = dst
			forwards = append(forwards, &forward{tc: tc, req: child})
		}
	}
	e.mu.Unlock()

	for _, f := range forwards {
		if ierr := f.tc.gw.Insert(f.req, requestID); ierr != nil {
			e.handleInsertError(req, ierr, requestID)
		}
	}
	return nil
}

func (e *Engine) handleInsertError(req *ledger.Request, err error, requestID int64) {
	log.Printf("[Engine] insert failed: order=%d, err=%v", req.OrderID, err)
	gerr, ok := err.(*gateway.Error)
	if !ok {
		gerr = &gateway.Error{Code: -1, Message: err.Error()}
	}
	e.publisher.Publish(events.TypeRequestError, map[string]any{
		"order_id":   req.OrderID,
		"request_id": requestID,
		"code":       gerr.Code,
		"message":    gerr.Message,
	}, ledger.NowMilli())
}

// =============================================================================
// 出入金
// =============================================================================

// AddDeposit 入金, 即时计入当日可用资金
func (e *Engine) AddDeposit(ctx context.Context, amount float64) error {
	day, err := e.repo.GetTradingDay(ctx)
	if err != nil {
		return wrapError(CodePersistence, err, "fetch trading day")
	}
	d := &ledger.Deposit{
		DepositID:  ledger.NextID(),
		Amount:     amount,
		TradingDay: day,
		Timestamp:  ledger.NowMilli(),
	}
	if err := e.repo.AddDeposit(ctx, d); err != nil {
		return wrapError(CodePersistence, err, "persist deposit")
	}
	return nil
}

// AddWithdraw 出金, 不允许透支可用资金
func (e *Engine) AddWithdraw(ctx context.Context, amount float64) error {
	available, err := e.clearer.Available(ctx)
	if err != nil {
		return wrapError(CodePersistence, err, "compute available")
	}
	if available < amount {
		return newError(CodeInsufficientMoney, "available %.4f withdraw %.4f", available, amount)
	}

	day, err := e.repo.GetTradingDay(ctx)
	if err != nil {
		return wrapError(CodePersistence, err, "fetch trading day")
	}
	w := &ledger.Withdraw{
		WithdrawID: ledger.NextID(),
		Amount:     amount,
		TradingDay: day,
		Timestamp:  ledger.NowMilli(),
	}
	if err := e.repo.AddWithdraw(ctx, w); err != nil {
		return wrapError(CodePersistence, err, "persist withdraw")
	}
	return nil
}

// =============================================================================
// 启停
// =============================================================================

// Start 启动全部已启用网关
// 首个失败即置 START_FAILED, 已启动的网关不回滚
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateWorking && e.state != StateStopped {
		state := e.state
		e.mu.Unlock()
		return newError(CodeInvalidState, "start in state %v", state)
	}
	e.state = StateStarting
	var targets []*traderContext
	for _, tc := range e.traders {
		if tc.enabled {
			targets = append(targets, tc)
		}
	}
	e.mu.Unlock()

	for _, tc := range targets {
		handler := &traderHandler{engine: e, tc: tc}
		if err := tc.gw.Start(tc.props, handler); err != nil {
			e.setState(StateStartFailed)
			return wrapError(CodeGateway, err, "start trader %d", tc.traderID)
		}
	}
	e.setState(StateWorking)
	return nil
}

// Stop 停止全部已启用网关
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateWorking {
		state := e.state
		e.mu.Unlock()
		return newError(CodeInvalidState, "stop in state %v", state)
	}
	e.state = StateStopping
	var targets []*traderContext
	for _, tc := range e.traders {
		if tc.enabled {
			targets = append(targets, tc)
		}
	}
	e.mu.Unlock()

	for _, tc := range targets {
		if err := tc.gw.Stop(); err != nil {
			e.setState(StateStopFailed)
			return wrapError(CodeGateway, err, "stop trader %d", tc.traderID)
		}
	}
	e.setState(StateStopped)
	return nil
}
