// 文件: pkg/ledger/model.go
// 账户引擎核心实体: 账户/合约品种/报单/成交合约/手续费/保证金

package ledger

import "time"

// =============================================================================
// 方向 / 开平 / 动作
// =============================================================================

type Direction int8

const (
	DirectionBuy  Direction = 1
	DirectionSell Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	}
	return "UNKNOWN"
}

// Opposite 反方向 (平仓时选择持仓用)
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

type Offset int8

const (
	OffsetOpen       Offset = 1
	OffsetClose      Offset = 2 // 平昨仓
	OffsetCloseToday Offset = 3 // 平今仓 (手续费可能不同)
)

func (o Offset) String() string {
	switch o {
	case OffsetOpen:
		return "OPEN"
	case OffsetClose:
		return "CLOSE"
	case OffsetCloseToday:
		return "CLOSE_TODAY"
	}
	return "UNKNOWN"
}

// IsClose 是否平仓类动作
func (o Offset) IsClose() bool {
	return o == OffsetClose || o == OffsetCloseToday
}

type Action int8

const (
	ActionNew    Action = 1
	ActionDelete Action = 2
)

// =============================================================================
// 比例类型 (保证金/手续费计算方式)
// =============================================================================

type RatioType int8

const (
	RatioUnset    RatioType = 0
	RatioByMoney  RatioType = 1 // 按金额: price * multiplier * ratio
	RatioByVolume RatioType = 2 // 按手数: ratio 即为每手金额
)

// =============================================================================
// Instrument - 合约品种 (不可变参考数据)
// =============================================================================

type Instrument struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	InstrumentID string `gorm:"column:instrument_id;type:varchar(32);uniqueIndex"`
	ExchangeID   string `gorm:"column:exchange_id;type:varchar(32)"`

	Multiplier float64 `gorm:"column:multiplier"`

	MarginRatio float64   `gorm:"column:margin_ratio"`
	MarginType  RatioType `gorm:"column:margin_type"`

	CommissionOpenRatio       float64   `gorm:"column:commission_open_ratio"`
	CommissionCloseRatio      float64   `gorm:"column:commission_close_ratio"`
	CommissionCloseTodayRatio float64   `gorm:"column:commission_close_today_ratio"`
	CommissionType            RatioType `gorm:"column:commission_type"`

	PriceTick float64 `gorm:"column:price_tick"`

	// 有效期 (YYYYMMDD)
	StartDate string `gorm:"column:start_date;type:varchar(8)"`
	EndDate   string `gorm:"column:end_date;type:varchar(8)"`
}

func (Instrument) TableName() string {
	return "instruments"
}

// =============================================================================
// Account - 资金账户
//
// 不变式: Balance == PreBalance + Deposit - Withdraw
//                  + CloseProfit + PositionProfit - Commission
// 只有结算会改写本表; Pre* 字段在结算时快照前一日数值
// =============================================================================

type Account struct {
	ID        uint  `gorm:"primaryKey;autoIncrement"`
	AccountID int64 `gorm:"column:account_id;uniqueIndex"`

	PreBalance  float64 `gorm:"column:pre_balance"`
	Balance     float64 `gorm:"column:balance"`
	PreDeposit  float64 `gorm:"column:pre_deposit"`
	Deposit     float64 `gorm:"column:deposit"`
	PreWithdraw float64 `gorm:"column:pre_withdraw"`
	Withdraw    float64 `gorm:"column:withdraw"`
	PreMargin   float64 `gorm:"column:pre_margin"`
	Margin      float64 `gorm:"column:margin"`

	CloseProfit      float64 `gorm:"column:close_profit"`
	PositionProfit   float64 `gorm:"column:position_profit"`
	Commission       float64 `gorm:"column:commission"`
	FrozenMargin     float64 `gorm:"column:frozen_margin"`
	FrozenCommission float64 `gorm:"column:frozen_commission"`

	TradingDay string `gorm:"column:trading_day;type:varchar(8)"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// =============================================================================
// Request - 报单请求
// =============================================================================

type Request struct {
	ID      uint  `gorm:"primaryKey;autoIncrement"`
	OrderID int64 `gorm:"column:order_id;uniqueIndex"` // 引擎层报单号 (调用方分配)

	Action       Action    `gorm:"column:action"`
	Direction    Direction `gorm:"column:direction"`
	Offset       Offset    `gorm:"column:offset"`
	InstrumentID string    `gorm:"column:instrument_id;type:varchar(32);index"`
	ExchangeID   string    `gorm:"column:exchange_id;type:varchar(32)"`

	Price    float64 `gorm:"column:price"`
	Quantity int64   `gorm:"column:quantity"`

	// 网关选择; 0 表示尚未由引擎决定
	TraderID int64 `gorm:"column:trader_id;index"`

	TradingDay string `gorm:"column:trading_day;type:varchar(8)"`
	CreatedAt  int64  `gorm:"column:created_at"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (Request) TableName() string {
	return "requests"
}

// Clone 复制请求 (平仓拆单时引擎需要改写 offset/quantity/traderId)
func (r *Request) Clone() *Request {
	c := *r
	c.ID = 0
	return &c
}

// =============================================================================
// Contract - 持仓合约 (一张合约 = 一手持仓)
// =============================================================================

type ContractStatus int8

const (
	ContractOpening ContractStatus = iota + 1 // 开仓冻结中
	ContractOpen                              // 持仓中
	ContractClosing                           // 平仓冻结中
	ContractClosed                            // 已平仓 (终态)
)

func (s ContractStatus) String() string {
	switch s {
	case ContractOpening:
		return "OPENING"
	case ContractOpen:
		return "OPEN"
	case ContractClosing:
		return "CLOSING"
	case ContractClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

type Contract struct {
	ID         uint  `gorm:"primaryKey;autoIncrement"`
	ContractID int64 `gorm:"column:contract_id;uniqueIndex"` // 雪花ID

	TraderID     int64     `gorm:"column:trader_id;index"`
	InstrumentID string    `gorm:"column:instrument_id;type:varchar(32);index"`
	Direction    Direction `gorm:"column:direction"`

	Status ContractStatus `gorm:"column:status;index"`

	OpenAmount  float64 `gorm:"column:open_amount"`
	CloseAmount float64 `gorm:"column:close_amount"`

	OpenTradingDay  string `gorm:"column:open_trading_day;type:varchar(8)"`
	CloseTradingDay string `gorm:"column:close_trading_day;type:varchar(8)"`

	// 网关成交编号, 成交后写入一次
	TradeID int64 `gorm:"column:trade_id"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Contract) TableName() string {
	return "contracts"
}

// =============================================================================
// Commission / Margin - 手续费与保证金条目
//
// 与合约 1:1 挂接; 状态迁移跟随合约迁移:
// FROZEN -> DEALT   (成交)
// FROZEN -> REMOVED (成交前撤销)
// 注意一张合约一生可能有两条手续费: 开仓一条 + 平仓一条
// =============================================================================

type FeeStatus int8

const (
	FeeFrozen  FeeStatus = iota + 1 // 已冻结
	FeeDealt                        // 已成交
	FeeRemoved                      // 已撤销
)

func (s FeeStatus) String() string {
	switch s {
	case FeeFrozen:
		return "FROZEN"
	case FeeDealt:
		return "DEALT"
	case FeeRemoved:
		return "REMOVED"
	}
	return "UNKNOWN"
}

type Commission struct {
	ID           uint  `gorm:"primaryKey;autoIncrement"`
	CommissionID int64 `gorm:"column:commission_id;uniqueIndex"`

	ContractID int64 `gorm:"column:contract_id;index"`
	OrderID    int64 `gorm:"column:order_id;index"`

	Status FeeStatus `gorm:"column:status"`
	Amount float64   `gorm:"column:amount"`

	// 记录该条目属于开仓还是平仓 (一张合约两条手续费时区分)
	Offset Offset `gorm:"column:offset"`

	TradingDay string `gorm:"column:trading_day;type:varchar(8)"`
	CreatedAt  int64  `gorm:"column:created_at"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (Commission) TableName() string {
	return "commissions"
}

type Margin struct {
	ID       uint  `gorm:"primaryKey;autoIncrement"`
	MarginID int64 `gorm:"column:margin_id;uniqueIndex"`

	ContractID int64 `gorm:"column:contract_id;index"`
	OrderID    int64 `gorm:"column:order_id;index"`

	Status FeeStatus `gorm:"column:status"`
	Amount float64   `gorm:"column:amount"`

	TradingDay string `gorm:"column:trading_day;type:varchar(8)"`
	CreatedAt  int64  `gorm:"column:created_at"`
	UpdatedAt  int64  `gorm:"column:updated_at"`
}

func (Margin) TableName() string {
	return "margins"
}

// =============================================================================
// Trade / Response - 网关回报
// =============================================================================

type Trade struct {
	ID      uint  `gorm:"primaryKey;autoIncrement"`
	TradeID int64 `gorm:"column:trade_id;uniqueIndex"`

	// 引擎层报单号 (回调路径已由 IdTranslator 还原)
	OrderID int64 `gorm:"column:order_id;index"`

	InstrumentID string    `gorm:"column:instrument_id;type:varchar(32)"`
	Direction    Direction `gorm:"column:direction"`
	Offset       Offset    `gorm:"column:offset"`

	Price    float64 `gorm:"column:price"`
	Quantity int64   `gorm:"column:quantity"`

	TradingDay string `gorm:"column:trading_day;type:varchar(8)"`
	Timestamp  int64  `gorm:"column:timestamp"`
}

func (Trade) TableName() string {
	return "trades"
}

type ResponseStatus int8

const (
	ResponseAccepted ResponseStatus = iota + 1
	ResponseDeleted
	ResponseRejected
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseAccepted:
		return "ACCEPTED"
	case ResponseDeleted:
		return "DELETED"
	case ResponseRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

type Response struct {
	ID         uint  `gorm:"primaryKey;autoIncrement"`
	ResponseID int64 `gorm:"column:response_id;uniqueIndex"`

	OrderID int64 `gorm:"column:order_id;index"`

	Status  ResponseStatus `gorm:"column:status"`
	Code    int            `gorm:"column:code"`
	Message string         `gorm:"column:message;type:varchar(255)"`

	TradingDay string `gorm:"column:trading_day;type:varchar(8)"`
	Timestamp  int64  `gorm:"column:timestamp"`
}

func (Response) TableName() string {
	return "responses"
}

// =============================================================================
// Deposit / Withdraw - 出入金
// =============================================================================

type Deposit struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	DepositID  int64   `gorm:"column:deposit_id;uniqueIndex"`
	Amount     float64 `gorm:"column:amount"`
	TradingDay string  `gorm:"column:trading_day;type:varchar(8)"`
	Timestamp  int64   `gorm:"column:timestamp"`
}

func (Deposit) TableName() string {
	return "deposits"
}

type Withdraw struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	WithdrawID int64   `gorm:"column:withdraw_id;uniqueIndex"`
	Amount     float64 `gorm:"column:amount"`
	TradingDay string  `gorm:"column:trading_day;type:varchar(8)"`
	Timestamp  int64   `gorm:"column:timestamp"`
}

func (Withdraw) TableName() string {
	return "withdraws"
}

// =============================================================================
// TradingDay - 当前交易日 (YYYYMMDD, 字典序可比较)
// =============================================================================

type TradingDay struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Day       string `gorm:"column:day;type:varchar(8)"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (TradingDay) TableName() string {
	return "trading_days"
}

// NowMilli 当前毫秒时间戳
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
