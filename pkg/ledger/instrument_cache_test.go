// 文件: pkg/ledger/instrument_cache_test.go
// Redis 缓存层集成测试 (需要本地 Redis, 不可达则跳过)

package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedisAddr = "localhost:6379"

func setupCacheRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis %s unreachable: %v", testRedisAddr, err)
	}
	return rdb
}

// countingStore 统计底层读次数, 证明第二次读走的是缓存
type countingStore struct {
	store InstrumentStore
	gets  atomic.Int64
	lists atomic.Int64
}

func (c *countingStore) AddInstrument(ctx context.Context, inst *Instrument) error {
	return c.store.AddInstrument(ctx, inst)
}

func (c *countingStore) GetInstrumentByID(ctx context.Context, instrumentID string) (*Instrument, error) {
	c.gets.Add(1)
	return c.store.GetInstrumentByID(ctx, instrumentID)
}

func (c *countingStore) GetInstruments(ctx context.Context) ([]*Instrument, error) {
	c.lists.Add(1)
	return c.store.GetInstruments(ctx)
}

func TestCachedInstrumentRead(t *testing.T) {
	ctx := context.Background()
	rdb := setupCacheRedis(t)

	// 品种编号带时间戳, 避免撞上残留缓存
	instID := fmt.Sprintf("TESTCU%d", time.Now().UnixNano())
	key := instrumentKey(instID)
	defer rdb.Del(ctx, key, instrumentListKey)

	base := &countingStore{store: NewMemoryRepository()}
	cached := NewCachedInstrumentStore(base, rdb)
	require.NoError(t, cached.AddInstrument(ctx, &Instrument{InstrumentID: instID, Multiplier: 10}))

	// 首次 miss, 查底层并异步回填
	inst, err := cached.GetInstrumentByID(ctx, instID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, inst.Multiplier, 1e-9)
	assert.Equal(t, int64(1), base.gets.Load())

	require.Eventually(t, func() bool {
		return rdb.Exists(ctx, key).Val() == 1
	}, 2*time.Second, 10*time.Millisecond, "backfill not observed")

	// 回填后命中缓存, 底层不再被读
	inst, err = cached.GetInstrumentByID(ctx, instID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, inst.Multiplier, 1e-9)
	assert.Equal(t, int64(1), base.gets.Load())
}

func TestCachedInstrumentListInvalidation(t *testing.T) {
	ctx := context.Background()
	rdb := setupCacheRedis(t)
	defer rdb.Del(ctx, instrumentListKey)
	rdb.Del(ctx, instrumentListKey)

	base := &countingStore{store: NewMemoryRepository()}
	cached := NewCachedInstrumentStore(base, rdb)
	require.NoError(t, cached.AddInstrument(ctx, &Instrument{InstrumentID: "TESTCU1"}))

	_, err := cached.GetInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), base.lists.Load())

	require.Eventually(t, func() bool {
		return rdb.Exists(ctx, instrumentListKey).Val() == 1
	}, 2*time.Second, 10*time.Millisecond, "list backfill not observed")

	// 写入删列表缓存, 下一次列表读必须回底层
	require.NoError(t, cached.AddInstrument(ctx, &Instrument{InstrumentID: "TESTCU2"}))
	assert.Equal(t, int64(0), rdb.Exists(ctx, instrumentListKey).Val())

	insts, err := cached.GetInstruments(ctx)
	require.NoError(t, err)
	assert.Len(t, insts, 2)
	assert.Equal(t, int64(2), base.lists.Load())
}
