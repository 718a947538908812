// 文件: pkg/ledger/memory_repo.go
// 账本存储内存实现
//
// 【设计】
// - 单互斥锁 + map, 事务 = 整库快照, 失败时整体恢复
// - 写入存副本 / 读取返副本, map 中的条目一旦存入不再原地修改,
//   因此快照只需浅拷贝 map
// - 供单元测试与本地模拟使用, 与 MySQL 实现行为一致

package ledger

import (
	"context"
	"sort"
	"sync"
)

// 确保实现了接口
var _ Repository = (*MemoryRepository)(nil)

type memStore struct {
	account     *Account
	instruments map[string]*Instrument
	contracts   map[int64]*Contract
	commissions map[int64]*Commission
	margins     map[int64]*Margin
	requests    map[int64]*Request
	trades      map[int64]*Trade
	responses   map[int64]*Response
	deposits    []*Deposit
	withdraws   []*Withdraw
	tradingDay  string
}

func newMemStore() *memStore {
	return &memStore{
		instruments: make(map[string]*Instrument),
		contracts:   make(map[int64]*Contract),
		commissions: make(map[int64]*Commission),
		margins:     make(map[int64]*Margin),
		requests:    make(map[int64]*Request),
		trades:      make(map[int64]*Trade),
		responses:   make(map[int64]*Response),
	}
}

func (s *memStore) clone() *memStore {
	c := &memStore{
		account:     s.account,
		instruments: make(map[string]*Instrument, len(s.instruments)),
		contracts:   make(map[int64]*Contract, len(s.contracts)),
		commissions: make(map[int64]*Commission, len(s.commissions)),
		margins:     make(map[int64]*Margin, len(s.margins)),
		requests:    make(map[int64]*Request, len(s.requests)),
		trades:      make(map[int64]*Trade, len(s.trades)),
		responses:   make(map[int64]*Response, len(s.responses)),
		deposits:    append([]*Deposit(nil), s.deposits...),
		withdraws:   append([]*Withdraw(nil), s.withdraws...),
		tradingDay:  s.tradingDay,
	}
	for k, v := range s.instruments {
		c.instruments[k] = v
	}
	for k, v := range s.contracts {
		c.contracts[k] = v
	}
	for k, v := range s.commissions {
		c.commissions[k] = v
	}
	for k, v := range s.margins {
		c.margins[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.trades {
		c.trades[k] = v
	}
	for k, v := range s.responses {
		c.responses[k] = v
	}
	return c
}

type MemoryRepository struct {
	mu sync.Mutex
	s  *memStore

	// 事务视图: 锁已由外层 Transaction 持有
	tx bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{s: newMemStore()}
}

func (r *MemoryRepository) lock() func() {
	if r.tx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// Transaction 执行事务 (快照 + 失败恢复)
func (r *MemoryRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	defer r.lock()()

	snap := r.s.clone()
	txRepo := &MemoryRepository{s: r.s, tx: true}
	if err := fn(txRepo); err != nil {
		*r.s = *snap
		return err
	}
	return nil
}

// =============================================================================
// Account
// =============================================================================

func (r *MemoryRepository) AddAccount(ctx context.Context, a *Account) error {
	defer r.lock()()
	if r.s.account != nil && r.s.account.AccountID == a.AccountID {
		return ErrDuplicateID
	}
	cp := *a
	cp.UpdatedAt = NowMilli()
	r.s.account = &cp
	return nil
}

func (r *MemoryRepository) UpdateAccount(ctx context.Context, a *Account) error {
	defer r.lock()()
	if r.s.account == nil || r.s.account.AccountID != a.AccountID {
		return ErrNotFound
	}
	cp := *a
	cp.UpdatedAt = NowMilli()
	r.s.account = &cp
	return nil
}

func (r *MemoryRepository) GetAccount(ctx context.Context) (*Account, error) {
	defer r.lock()()
	if r.s.account == nil {
		return nil, ErrNotFound
	}
	cp := *r.s.account
	return &cp, nil
}

// =============================================================================
// Instrument
// =============================================================================

func (r *MemoryRepository) AddInstrument(ctx context.Context, inst *Instrument) error {
	defer r.lock()()
	if _, ok := r.s.instruments[inst.InstrumentID]; ok {
		return ErrDuplicateID
	}
	cp := *inst
	r.s.instruments[inst.InstrumentID] = &cp
	return nil
}

func (r *MemoryRepository) GetInstrumentByID(ctx context.Context, instrumentID string) (*Instrument, error) {
	defer r.lock()()
	inst, ok := r.s.instruments[instrumentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (r *MemoryRepository) GetInstruments(ctx context.Context) ([]*Instrument, error) {
	defer r.lock()()
	out := make([]*Instrument, 0, len(r.s.instruments))
	for _, inst := range r.s.instruments {
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

// =============================================================================
// Contract
// =============================================================================

func (r *MemoryRepository) AddContract(ctx context.Context, c *Contract) error {
	defer r.lock()()
	if _, ok := r.s.contracts[c.ContractID]; ok {
		return ErrDuplicateID
	}
	cp := *c
	now := NowMilli()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.s.contracts[c.ContractID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateContract(ctx context.Context, c *Contract) error {
	defer r.lock()()
	old, ok := r.s.contracts[c.ContractID]
	if !ok {
		return ErrNotFound
	}
	cp := *c
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = NowMilli()
	r.s.contracts[c.ContractID] = &cp
	return nil
}

func (r *MemoryRepository) RemoveContract(ctx context.Context, contractID int64) error {
	defer r.lock()()
	if _, ok := r.s.contracts[contractID]; !ok {
		return ErrNotFound
	}
	delete(r.s.contracts, contractID)
	return nil
}

func (r *MemoryRepository) GetContractByID(ctx context.Context, contractID int64) (*Contract, error) {
	defer r.lock()()
	c, ok := r.s.contracts[contractID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetContractsByInstrumentID(ctx context.Context, instrumentID string) ([]*Contract, error) {
	defer r.lock()()
	var out []*Contract
	for _, c := range r.s.contracts {
		if c.InstrumentID == instrumentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortContracts(out)
	return out, nil
}

func (r *MemoryRepository) GetContracts(ctx context.Context) ([]*Contract, error) {
	defer r.lock()()
	out := make([]*Contract, 0, len(r.s.contracts))
	for _, c := range r.s.contracts {
		cp := *c
		out = append(out, &cp)
	}
	sortContracts(out)
	return out, nil
}

func sortContracts(cs []*Contract) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ContractID < cs[j].ContractID })
}

// =============================================================================
// Commission
// =============================================================================

func (r *MemoryRepository) AddCommission(ctx context.Context, c *Commission) error {
	defer r.lock()()
	if _, ok := r.s.commissions[c.CommissionID]; ok {
		return ErrDuplicateID
	}
	cp := *c
	now := NowMilli()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.s.commissions[c.CommissionID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateCommission(ctx context.Context, c *Commission) error {
	defer r.lock()()
	old, ok := r.s.commissions[c.CommissionID]
	if !ok {
		return ErrNotFound
	}
	cp := *c
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = NowMilli()
	r.s.commissions[c.CommissionID] = &cp
	return nil
}

func (r *MemoryRepository) RemoveCommission(ctx context.Context, commissionID int64) error {
	defer r.lock()()
	if _, ok := r.s.commissions[commissionID]; !ok {
		return ErrNotFound
	}
	delete(r.s.commissions, commissionID)
	return nil
}

func (r *MemoryRepository) GetCommissionsByOrderID(ctx context.Context, orderID int64) ([]*Commission, error) {
	defer r.lock()()
	var out []*Commission
	for _, c := range r.s.commissions {
		if c.OrderID == orderID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommissionID < out[j].CommissionID })
	return out, nil
}

func (r *MemoryRepository) GetCommissions(ctx context.Context) ([]*Commission, error) {
	defer r.lock()()
	out := make([]*Commission, 0, len(r.s.commissions))
	for _, c := range r.s.commissions {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommissionID < out[j].CommissionID })
	return out, nil
}

// =============================================================================
// Margin
// =============================================================================

func (r *MemoryRepository) AddMargin(ctx context.Context, m *Margin) error {
	defer r.lock()()
	if _, ok := r.s.margins[m.MarginID]; ok {
		return ErrDuplicateID
	}
	cp := *m
	now := NowMilli()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.s.margins[m.MarginID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateMargin(ctx context.Context, m *Margin) error {
	defer r.lock()()
	old, ok := r.s.margins[m.MarginID]
	if !ok {
		return ErrNotFound
	}
	cp := *m
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = NowMilli()
	r.s.margins[m.MarginID] = &cp
	return nil
}

func (r *MemoryRepository) RemoveMargin(ctx context.Context, marginID int64) error {
	defer r.lock()()
	if _, ok := r.s.margins[marginID]; !ok {
		return ErrNotFound
	}
	delete(r.s.margins, marginID)
	return nil
}

func (r *MemoryRepository) GetMarginByContractID(ctx context.Context, contractID int64) (*Margin, error) {
	defer r.lock()()
	for _, m := range r.s.margins {
		if m.ContractID == contractID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetMargins(ctx context.Context) ([]*Margin, error) {
	defer r.lock()()
	out := make([]*Margin, 0, len(r.s.margins))
	for _, m := range r.s.margins {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarginID < out[j].MarginID })
	return out, nil
}

// =============================================================================
// Request
// =============================================================================

func (r *MemoryRepository) AddRequest(ctx context.Context, req *Request) error {
	defer r.lock()()
	if _, ok := r.s.requests[req.OrderID]; ok {
		return ErrDuplicateID
	}
	cp := *req
	now := NowMilli()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.s.requests[req.OrderID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateRequest(ctx context.Context, req *Request) error {
	defer r.lock()()
	old, ok := r.s.requests[req.OrderID]
	if !ok {
		return ErrNotFound
	}
	cp := *req
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = NowMilli()
	r.s.requests[req.OrderID] = &cp
	return nil
}

func (r *MemoryRepository) GetRequestByOrderID(ctx context.Context, orderID int64) (*Request, error) {
	defer r.lock()()
	req, ok := r.s.requests[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *MemoryRepository) GetRequests(ctx context.Context) ([]*Request, error) {
	defer r.lock()()
	out := make([]*Request, 0, len(r.s.requests))
	for _, req := range r.s.requests {
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// =============================================================================
// Trade / Response
// =============================================================================

func (r *MemoryRepository) AddTrade(ctx context.Context, t *Trade) error {
	defer r.lock()()
	if _, ok := r.s.trades[t.TradeID]; ok {
		return ErrDuplicateID
	}
	cp := *t
	r.s.trades[t.TradeID] = &cp
	return nil
}

func (r *MemoryRepository) GetTradesByOrderID(ctx context.Context, orderID int64) ([]*Trade, error) {
	defer r.lock()()
	var out []*Trade
	for _, t := range r.s.trades {
		if t.OrderID == orderID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

func (r *MemoryRepository) AddResponse(ctx context.Context, resp *Response) error {
	defer r.lock()()
	if _, ok := r.s.responses[resp.ResponseID]; ok {
		return ErrDuplicateID
	}
	cp := *resp
	r.s.responses[resp.ResponseID] = &cp
	return nil
}

func (r *MemoryRepository) GetResponsesByOrderID(ctx context.Context, orderID int64) ([]*Response, error) {
	defer r.lock()()
	var out []*Response
	for _, resp := range r.s.responses {
		if resp.OrderID == orderID {
			cp := *resp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResponseID < out[j].ResponseID })
	return out, nil
}

// =============================================================================
// Deposit / Withdraw
// =============================================================================

func (r *MemoryRepository) AddDeposit(ctx context.Context, d *Deposit) error {
	defer r.lock()()
	cp := *d
	r.s.deposits = append(r.s.deposits, &cp)
	return nil
}

func (r *MemoryRepository) GetDeposits(ctx context.Context) ([]*Deposit, error) {
	defer r.lock()()
	out := make([]*Deposit, 0, len(r.s.deposits))
	for _, d := range r.s.deposits {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) AddWithdraw(ctx context.Context, w *Withdraw) error {
	defer r.lock()()
	cp := *w
	r.s.withdraws = append(r.s.withdraws, &cp)
	return nil
}

func (r *MemoryRepository) GetWithdraws(ctx context.Context) ([]*Withdraw, error) {
	defer r.lock()()
	out := make([]*Withdraw, 0, len(r.s.withdraws))
	for _, w := range r.s.withdraws {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// =============================================================================
// TradingDay
// =============================================================================

func (r *MemoryRepository) GetTradingDay(ctx context.Context) (string, error) {
	defer r.lock()()
	if r.s.tradingDay == "" {
		return "", ErrNotFound
	}
	return r.s.tradingDay, nil
}

func (r *MemoryRepository) SetTradingDay(ctx context.Context, day string) error {
	defer r.lock()()
	r.s.tradingDay = day
	return nil
}
