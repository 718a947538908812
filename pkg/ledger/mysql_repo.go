// 文件: pkg/ledger/mysql_repo.go
// 账本存储 MySQL 实现 (GORM)
//
// 【设计】
// - Transaction 直接委托 gorm.DB.Transaction, 嵌套时 GORM 自动加入外层事务
// - 所有操作带 context 支持超时控制
// - 主键冲突 -> ErrDuplicateID, 查无记录 -> ErrNotFound

package ledger

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// 确保实现了接口
var _ Repository = (*MySQLRepository)(nil)

type MySQLRepository struct {
	db *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// AutoMigrate 建表 (开发/测试用)
func (r *MySQLRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&Account{}, &Instrument{}, &Request{}, &Contract{},
		&Commission{}, &Margin{}, &Trade{}, &Response{},
		&Deposit{}, &Withdraw{}, &TradingDay{},
	)
}

// Transaction 执行事务
func (r *MySQLRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&MySQLRepository{db: tx})
	})
}

// =============================================================================
// 辅助
// =============================================================================

func wrapCreate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	return err
}

// isDuplicateKeyError MySQL error code 1062 = Duplicate entry
func isDuplicateKeyError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Duplicate entry") || strings.Contains(s, "1062")
}

func wrapFirst(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func rowsOrNotFound(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Account
// =============================================================================

func (r *MySQLRepository) AddAccount(ctx context.Context, a *Account) error {
	a.UpdatedAt = NowMilli()
	return wrapCreate(r.db.WithContext(ctx).Create(a).Error)
}

func (r *MySQLRepository) UpdateAccount(ctx context.Context, a *Account) error {
	a.UpdatedAt = NowMilli()
	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", a.AccountID).
		Select("*").Omit("id", "account_id").
		Updates(a)
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) GetAccount(ctx context.Context) (*Account, error) {
	var a Account
	if err := r.db.WithContext(ctx).First(&a).Error; err != nil {
		return nil, wrapFirst(err)
	}
	return &a, nil
}

// =============================================================================
// Instrument
// =============================================================================

func (r *MySQLRepository) AddInstrument(ctx context.Context, inst *Instrument) error {
	return wrapCreate(r.db.WithContext(ctx).Create(inst).Error)
}

func (r *MySQLRepository) GetInstrumentByID(ctx context.Context, instrumentID string) (*Instrument, error) {
	var inst Instrument
	err := r.db.WithContext(ctx).
		Where("instrument_id = ?", instrumentID).
		First(&inst).Error
	if err != nil {
		return nil, wrapFirst(err)
	}
	return &inst, nil
}

func (r *MySQLRepository) GetInstruments(ctx context.Context) ([]*Instrument, error) {
	var insts []*Instrument
	err := r.db.WithContext(ctx).Find(&insts).Error
	return insts, err
}

// =============================================================================
// Contract
// =============================================================================

func (r *MySQLRepository) AddContract(ctx context.Context, c *Contract) error {
	now := NowMilli()
	c.CreatedAt = now
	c.UpdatedAt = now
	return wrapCreate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *MySQLRepository) UpdateContract(ctx context.Context, c *Contract) error {
	c.UpdatedAt = NowMilli()
	result := r.db.WithContext(ctx).
		Model(&Contract{}).
		Where("contract_id = ?", c.ContractID).
		Select("*").Omit("id", "contract_id", "created_at").
		Updates(c)
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) RemoveContract(ctx context.Context, contractID int64) error {
	result := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Delete(&Contract{})
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) GetContractByID(ctx context.Context, contractID int64) (*Contract, error) {
	var c Contract
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		First(&c).Error
	if err != nil {
		return nil, wrapFirst(err)
	}
	return &c, nil
}

func (r *MySQLRepository) GetContractsByInstrumentID(ctx context.Context, instrumentID string) ([]*Contract, error) {
	var cs []*Contract
	err := r.db.WithContext(ctx).
		Where("instrument_id = ?", instrumentID).
		Order("contract_id ASC").
		Find(&cs).Error
	return cs, err
}

func (r *MySQLRepository) GetContracts(ctx context.Context) ([]*Contract, error) {
	var cs []*Contract
	err := r.db.WithContext(ctx).Order("contract_id ASC").Find(&cs).Error
	return cs, err
}

// =============================================================================
// Commission
// =============================================================================

func (r *MySQLRepository) AddCommission(ctx context.Context, c *Commission) error {
	now := NowMilli()
	c.CreatedAt = now
	c.UpdatedAt = now
	return wrapCreate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *MySQLRepository) UpdateCommission(ctx context.Context, c *Commission) error {
	c.UpdatedAt = NowMilli()
	result := r.db.WithContext(ctx).
		Model(&Commission{}).
		Where("commission_id = ?", c.CommissionID).
		Select("*").Omit("id", "commission_id", "created_at").
		Updates(c)
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) RemoveCommission(ctx context.Context, commissionID int64) error {
	result := r.db.WithContext(ctx).
		Where("commission_id = ?", commissionID).
		Delete(&Commission{})
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) GetCommissionsByOrderID(ctx context.Context, orderID int64) ([]*Commission, error) {
	var cs []*Commission
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&cs).Error
	return cs, err
}

func (r *MySQLRepository) GetCommissions(ctx context.Context) ([]*Commission, error) {
	var cs []*Commission
	err := r.db.WithContext(ctx).Find(&cs).Error
	return cs, err
}

// =============================================================================
// Margin
// =============================================================================

func (r *MySQLRepository) AddMargin(ctx context.Context, m *Margin) error {
	now := NowMilli()
	m.CreatedAt = now
	m.UpdatedAt = now
	return wrapCreate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *MySQLRepository) UpdateMargin(ctx context.Context, m *Margin) error {
	m.UpdatedAt = NowMilli()
	result := r.db.WithContext(ctx).
		Model(&Margin{}).
		Where("margin_id = ?", m.MarginID).
		Select("*").Omit("id", "margin_id", "created_at").
		Updates(m)
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) RemoveMargin(ctx context.Context, marginID int64) error {
	result := r.db.WithContext(ctx).
		Where("margin_id = ?", marginID).
		Delete(&Margin{})
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) GetMarginByContractID(ctx context.Context, contractID int64) (*Margin, error) {
	var m Margin
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		First(&m).Error
	if err != nil {
		return nil, wrapFirst(err)
	}
	return &m, nil
}

func (r *MySQLRepository) GetMargins(ctx context.Context) ([]*Margin, error) {
	var ms []*Margin
	err := r.db.WithContext(ctx).Find(&ms).Error
	return ms, err
}

// =============================================================================
// Request
// =============================================================================

func (r *MySQLRepository) AddRequest(ctx context.Context, req *Request) error {
	now := NowMilli()
	req.CreatedAt = now
	req.UpdatedAt = now
	return wrapCreate(r.db.WithContext(ctx).Create(req).Error)
}

func (r *MySQLRepository) UpdateRequest(ctx context.Context, req *Request) error {
	req.UpdatedAt = NowMilli()
	result := r.db.WithContext(ctx).
		Model(&Request{}).
		Where("order_id = ?", req.OrderID).
		Select("*").Omit("id", "order_id", "created_at").
		Updates(req)
	return rowsOrNotFound(result)
}

func (r *MySQLRepository) GetRequestByOrderID(ctx context.Context, orderID int64) (*Request, error) {
	var req Request
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&req).Error
	if err != nil {
		return nil, wrapFirst(err)
	}
	return &req, nil
}

func (r *MySQLRepository) GetRequests(ctx context.Context) ([]*Request, error) {
	var reqs []*Request
	err := r.db.WithContext(ctx).Order("order_id ASC").Find(&reqs).Error
	return reqs, err
}

// =============================================================================
// Trade / Response
// =============================================================================

func (r *MySQLRepository) AddTrade(ctx context.Context, t *Trade) error {
	return wrapCreate(r.db.WithContext(ctx).Create(t).Error)
}

func (r *MySQLRepository) GetTradesByOrderID(ctx context.Context, orderID int64) ([]*Trade, error) {
	var ts []*Trade
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("trade_id ASC").
		Find(&ts).Error
	return ts, err
}

func (r *MySQLRepository) AddResponse(ctx context.Context, resp *Response) error {
	return wrapCreate(r.db.WithContext(ctx).Create(resp).Error)
}

func (r *MySQLRepository) GetResponsesByOrderID(ctx context.Context, orderID int64) ([]*Response, error) {
	var rs []*Response
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("response_id ASC").
		Find(&rs).Error
	return rs, err
}

// =============================================================================
// Deposit / Withdraw
// =============================================================================

func (r *MySQLRepository) AddDeposit(ctx context.Context, d *Deposit) error {
	return wrapCreate(r.db.WithContext(ctx).Create(d).Error)
}

func (r *MySQLRepository) GetDeposits(ctx context.Context) ([]*Deposit, error) {
	var ds []*Deposit
	err := r.db.WithContext(ctx).Find(&ds).Error
	return ds, err
}

func (r *MySQLRepository) AddWithdraw(ctx context.Context, w *Withdraw) error {
	return wrapCreate(r.db.WithContext(ctx).Create(w).Error)
}

func (r *MySQLRepository) GetWithdraws(ctx context.Context) ([]*Withdraw, error) {
	var ws []*Withdraw
	err := r.db.WithContext(ctx).Find(&ws).Error
	return ws, err
}

// =============================================================================
// TradingDay
// =============================================================================

func (r *MySQLRepository) GetTradingDay(ctx context.Context) (string, error) {
	var td TradingDay
	if err := r.db.WithContext(ctx).First(&td).Error; err != nil {
		return "", wrapFirst(err)
	}
	return td.Day, nil
}

func (r *MySQLRepository) SetTradingDay(ctx context.Context, day string) error {
	var td TradingDay
	err := r.db.WithContext(ctx).First(&td).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(&TradingDay{Day: day, UpdatedAt: NowMilli()}).Error
	}
	if err != nil {
		return err
	}
	td.Day = day
	td.UpdatedAt = NowMilli()
	return r.db.WithContext(ctx).Save(&td).Error
}
