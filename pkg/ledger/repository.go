// 文件: pkg/ledger/repository.go
// 账本存储接口
//
// 【设计】
// - 每个实体提供类型化 CRUD, 不做反射式通用查询
// - Transaction 内所有写入要么全部提交要么全部回滚
// - 业务层只依赖接口, MySQL/内存实现可互换

package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("ledger: record not found")
	ErrDuplicateID = errors.New("ledger: duplicate id")
)

// InstrumentStore 品种参考数据读写 (可被 Redis 缓存层装饰)
type InstrumentStore interface {
	AddInstrument(ctx context.Context, inst *Instrument) error
	GetInstrumentByID(ctx context.Context, instrumentID string) (*Instrument, error)
	GetInstruments(ctx context.Context) ([]*Instrument, error)
}

// Repository 账本存储
//
// 所有方法可能返回存储错误; 调用方不自动重试。
// 不存在的记录返回 ErrNotFound, 主键冲突返回 ErrDuplicateID。
type Repository interface {
	InstrumentStore

	// Transaction 在单个 ACID 事务内执行 fn。
	// fn 返回错误时整个事务回滚; 事务内嵌套 Transaction 加入外层事务。
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// 资金账户 (单账户引擎, 一行)
	AddAccount(ctx context.Context, a *Account) error
	UpdateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context) (*Account, error)

	// 持仓合约
	AddContract(ctx context.Context, c *Contract) error
	UpdateContract(ctx context.Context, c *Contract) error
	RemoveContract(ctx context.Context, contractID int64) error
	GetContractByID(ctx context.Context, contractID int64) (*Contract, error)
	GetContractsByInstrumentID(ctx context.Context, instrumentID string) ([]*Contract, error)
	GetContracts(ctx context.Context) ([]*Contract, error)

	// 手续费
	AddCommission(ctx context.Context, c *Commission) error
	UpdateCommission(ctx context.Context, c *Commission) error
	RemoveCommission(ctx context.Context, commissionID int64) error
	GetCommissionsByOrderID(ctx context.Context, orderID int64) ([]*Commission, error)
	GetCommissions(ctx context.Context) ([]*Commission, error)

	// 保证金
	AddMargin(ctx context.Context, m *Margin) error
	UpdateMargin(ctx context.Context, m *Margin) error
	RemoveMargin(ctx context.Context, marginID int64) error
	GetMarginByContractID(ctx context.Context, contractID int64) (*Margin, error)
	GetMargins(ctx context.Context) ([]*Margin, error)

	// 报单
	AddRequest(ctx context.Context, r *Request) error
	UpdateRequest(ctx context.Context, r *Request) error
	GetRequestByOrderID(ctx context.Context, orderID int64) (*Request, error)
	GetRequests(ctx context.Context) ([]*Request, error)

	// 成交回报
	AddTrade(ctx context.Context, t *Trade) error
	GetTradesByOrderID(ctx context.Context, orderID int64) ([]*Trade, error)

	// 报单回报
	AddResponse(ctx context.Context, r *Response) error
	GetResponsesByOrderID(ctx context.Context, orderID int64) ([]*Response, error)

	// 出入金
	AddDeposit(ctx context.Context, d *Deposit) error
	GetDeposits(ctx context.Context) ([]*Deposit, error)
	AddWithdraw(ctx context.Context, w *Withdraw) error
	GetWithdraws(ctx context.Context) ([]*Withdraw, error)

	// 交易日
	GetTradingDay(ctx context.Context) (string, error)
	SetTradingDay(ctx context.Context, day string) error
}
