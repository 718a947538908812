// 文件: pkg/idmap/translator.go
// 引擎报单号 <-> 网关报单号 双向映射
//
// 【职责】
// 1. 为每个转发到网关的子单分配单调递增的目的编号
// 2. 维护 目的编号 -> 剩余未成交量 的倒计数
// 3. 撤单路径据此跳过已全部成交的子单
//
// 一个引擎报单可能拆成多个网关子单 (按网关/按平今平昨分组),
// 本映射是 "我请求了什么" 与 "网关在跟踪什么" 之间唯一的对照表。
// 每个网关上下文持有独立实例, 结算时 Clear 以约束内存。

package idmap

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrCountDownNotFound 目的编号没有倒计数条目
	ErrCountDownNotFound = errors.New("idmap: count-down not found")

	// ErrCountDownUnderflow 倒计数将变为负数。
	// 意味着网关回报的成交量超过了曾经请求的量,
	// 属于致命一致性错误, 调用方不得重试。
	ErrCountDownUnderflow = errors.New("idmap: count-down underflow")
)

type Translator struct {
	mu sync.RWMutex

	counter atomic.Int64

	srcToDst map[int64]map[int64]struct{} // 引擎报单号 -> 目的编号集合
	dstToSrc map[int64]int64              // 目的编号 -> 引擎报单号
	downs    map[int64]int64              // 目的编号 -> 剩余未成交量
}

func NewTranslator() *Translator {
	return &Translator{
		srcToDst: make(map[int64]map[int64]struct{}),
		dstToSrc: make(map[int64]int64),
		downs:    make(map[int64]int64),
	}
}

// NewDestinationID 为 srcID 分配一个新的目的编号 (不带倒计数)
func (t *Translator) NewDestinationID(srcID int64) int64 {
	dst := t.counter.Add(1)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dstToSrc[dst] = srcID
	set, ok := t.srcToDst[srcID]
	if !ok {
		set = make(map[int64]struct{})
		t.srcToDst[srcID] = set
	}
	set[dst] = struct{}{}
	return dst
}

// NewDestinationIDWithCount 分配目的编号并初始化倒计数
func (t *Translator) NewDestinationIDWithCount(srcID, downCount int64) int64 {
	dst := t.NewDestinationID(srcID)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.downs[dst] = downCount
	return dst
}

// CountDown 扣减目的编号的剩余量
func (t *Translator) CountDown(dstID, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining, ok := t.downs[dstID]
	if !ok {
		return ErrCountDownNotFound
	}
	if remaining < amount {
		return ErrCountDownUnderflow
	}
	t.downs[dstID] = remaining - amount
	return nil
}

// DestinationsOf 查询 srcID 的全部目的编号
// 未知 srcID 返回 ok=false, 与空集合是两种情况
func (t *Translator) DestinationsOf(srcID int64) ([]int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.srcToDst[srcID]
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(set))
	for dst := range set {
		out = append(out, dst)
	}
	return out, true
}

// SourceOf 反查目的编号归属的引擎报单号
func (t *Translator) SourceOf(dstID int64) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	src, ok := t.dstToSrc[dstID]
	return src, ok
}

// Exhaust 将目的编号的剩余量清零
// 撤销回报后该子单不再有未成交量, 重复撤单据此跳过它
func (t *Translator) Exhaust(dstID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.downs[dstID]; ok {
		t.downs[dstID] = 0
	}
}

// Remaining 查询目的编号的剩余未成交量
// 未知编号返回 ok=false; 剩余量为 0 是合法状态, 不是 "未知"
func (t *Translator) Remaining(dstID int64) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	remaining, ok := t.downs[dstID]
	return remaining, ok
}

// Clear 清空全部映射 (每个结算周期调用一次)
func (t *Translator) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.srcToDst = make(map[int64]map[int64]struct{})
	t.dstToSrc = make(map[int64]int64)
	t.downs = make(map[int64]int64)
}
