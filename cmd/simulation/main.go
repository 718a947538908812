// 文件: cmd/simulation/main.go
// 端到端演示: 内存账本 + 两个模拟网关
//
// 流程: 入金 -> 开仓 (自动成交) -> 平仓 -> 挂一笔不成交的单 -> 结算
// 结算会本地撤掉未了结报单并打印结算后账户。
//
// 可选外设 (不配置则跳过):
//   REDIS_ADDR    品种参考数据走 Redis 缓存层
//   KAFKA_BROKERS 成交与结算流水落 Kafka (逗号分隔)

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tcore.com/pkg/engine"
	"tcore.com/pkg/events"
	"tcore.com/pkg/gateway"
	"tcore.com/pkg/journal"
	"tcore.com/pkg/ledger"
)

const (
	tradingDay = "20260830"
	nextDay    = "20260831"

	traderA = int64(1)
	traderB = int64(2)
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	ctx := context.Background()

	repo := ledger.NewMemoryRepository()
	seed(ctx, repo)

	publisher := events.NewPublisher()
	publisher.Subscribe(func(ev events.Event) {
		log.Printf("[Event] %s: %+v", ev.Type, ev.Payload)
	})

	cfg := engine.DefaultConfig()
	cfg.InstrumentStore = instrumentStore(ctx, repo)
	eng := engine.NewWithConfig(repo, publisher, cfg)
	if err := eng.Init(ctx); err != nil {
		log.Fatalf("init: %v", err)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		jcfg := journal.DefaultProducerConfig(strings.Split(brokers, ","))
		producer, err := journal.NewProducer(jcfg)
		if err != nil {
			log.Fatalf("journal producer: %v", err)
		}
		defer producer.Close()
		eng.SetJournal(producer)
		log.Printf("[Simulation] journaling to kafka %s", brokers)
	}

	// 网关 A 自动成交, 网关 B 只接受不成交
	mustDo(eng.RegisterTrader(traderA, gateway.NewSim(gateway.DefaultSimConfig()), simProps()))
	idle := gateway.DefaultSimConfig()
	idle.AutoFill = false
	mustDo(eng.RegisterTrader(traderB, gateway.NewSim(idle), simProps()))
	mustDo(eng.EnableTrader(traderA, true))
	mustDo(eng.EnableTrader(traderB, true))
	mustDo(eng.Start(ctx))

	mustDo(eng.AddDeposit(ctx, 100000))
	printAccount(ctx, repo, "after deposit")

	// 开仓 2 手, 网关 A 同步全部成交
	open := &ledger.Request{
		OrderID:      1001,
		Action:       ledger.ActionNew,
		Direction:    ledger.DirectionBuy,
		Offset:       ledger.OffsetOpen,
		InstrumentID: "cu2610",
		Price:        100,
		Quantity:     2,
		TraderID:     traderA,
	}
	mustDo(eng.Request(ctx, open, 1))
	printAccount(ctx, repo, "after open")

	// 平 1 手 (平今), 由持仓归属网关 A 执行
	closeReq := &ledger.Request{
		OrderID:      1002,
		Action:       ledger.ActionNew,
		Direction:    ledger.DirectionSell,
		Offset:       ledger.OffsetClose,
		InstrumentID: "cu2610",
		Price:        110,
		Quantity:     1,
	}
	mustDo(eng.Request(ctx, closeReq, 2))
	printAccount(ctx, repo, "after close")

	// 网关 B 上挂一笔不会成交的开仓单, 留给结算清理
	pending := &ledger.Request{
		OrderID:      1003,
		Action:       ledger.ActionNew,
		Direction:    ledger.DirectionBuy,
		Offset:       ledger.OffsetOpen,
		InstrumentID: "cu2610",
		Price:        90,
		Quantity:     1,
		TraderID:     traderB,
	}
	mustDo(eng.Request(ctx, pending, 3))
	printAccount(ctx, repo, "with pending order")

	mustDo(eng.Stop(ctx))
	mustDo(eng.Settle(ctx, map[string]float64{"cu2610": 105}, nextDay))
	printAccount(ctx, repo, "after settlement")
}

// instrumentStore 配了 REDIS_ADDR 且可达时返回缓存层, 否则直读账本
func instrumentStore(ctx context.Context, repo ledger.Repository) ledger.InstrumentStore {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return repo
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("[Simulation] redis %s unreachable, instrument cache disabled: %v", addr, err)
		return repo
	}
	log.Printf("[Simulation] instrument cache on redis %s", addr)
	return ledger.NewCachedInstrumentStore(repo, rdb)
}

func seed(ctx context.Context, repo ledger.Repository) {
	mustDo(repo.AddInstrument(ctx, &ledger.Instrument{
		InstrumentID:              "cu2610",
		ExchangeID:                "SHFE",
		Multiplier:                10,
		MarginRatio:               0.1,
		MarginType:                ledger.RatioByMoney,
		CommissionOpenRatio:       0.0002,
		CommissionCloseRatio:      0.0002,
		CommissionCloseTodayRatio: 0.0002,
		CommissionType:            ledger.RatioByMoney,
		PriceTick:                 0.01,
	}))
	mustDo(repo.AddAccount(ctx, &ledger.Account{AccountID: 1, TradingDay: tradingDay}))
	mustDo(repo.SetTradingDay(ctx, tradingDay))
}

func simProps() map[string]string {
	return map[string]string{"trading_day": tradingDay}
}

func printAccount(ctx context.Context, repo ledger.Repository, label string) {
	account, err := repo.GetAccount(ctx)
	if err != nil {
		log.Fatalf("fetch account: %v", err)
	}
	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("balance=%.4f margin=%.4f frozen_margin=%.4f commission=%.4f close_profit=%.4f position_profit=%.4f\n",
		account.Balance, account.Margin, account.FrozenMargin,
		account.Commission, account.CloseProfit, account.PositionProfit)
}

func mustDo(err error) {
	if err != nil {
		log.Fatalf("simulation: %v", err)
	}
}
