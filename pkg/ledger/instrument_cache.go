// 文件: pkg/ledger/instrument_cache.go
// 品种参考数据 Redis 缓存层
//
// 【设计模式】装饰器模式
// - 包装底层 InstrumentStore, 透明添加缓存能力
// - 读: 先查 Redis, miss 则查底层并回填
// - 写: 先写底层, 成功后删除列表缓存 (Cache Aside)
// 品种数据在一个引擎会话内不可变, 可以放心使用较长 TTL

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ InstrumentStore = (*CachedInstrumentStore)(nil)

const (
	instrumentKeyPattern = "ledger:instrument:%s"
	instrumentListKey    = "ledger:instrument:all"

	instrumentCacheTTL = 24 * time.Hour
	listCacheTTL       = 5 * time.Minute
)

type CachedInstrumentStore struct {
	store InstrumentStore
	redis *redis.Client
}

func NewCachedInstrumentStore(store InstrumentStore, rds *redis.Client) *CachedInstrumentStore {
	return &CachedInstrumentStore{store: store, redis: rds}
}

func instrumentKey(instrumentID string) string {
	return fmt.Sprintf(instrumentKeyPattern, instrumentID)
}

// GetInstrumentByID 查询品种 (带缓存)
func (c *CachedInstrumentStore) GetInstrumentByID(ctx context.Context, instrumentID string) (*Instrument, error) {
	key := instrumentKey(instrumentID)

	// 1. 查缓存
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var inst Instrument
		if json.Unmarshal(data, &inst) == nil {
			return &inst, nil
		}
	}

	// 2. Cache miss, 查底层
	inst, err := c.store.GetInstrumentByID(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存 (异步, 不阻塞主流程)
	go c.setCache(context.Background(), key, inst)

	return inst, nil
}

// GetInstruments 列出所有品种 (带缓存)
func (c *CachedInstrumentStore) GetInstruments(ctx context.Context) ([]*Instrument, error) {
	data, err := c.redis.Get(ctx, instrumentListKey).Bytes()
	if err == nil {
		var insts []*Instrument
		if json.Unmarshal(data, &insts) == nil {
			return insts, nil
		}
	}

	insts, err := c.store.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		if data, err := json.Marshal(insts); err == nil {
			c.redis.Set(context.Background(), instrumentListKey, data, listCacheTTL)
		}
	}()

	return insts, nil
}

// AddInstrument 新增品种 (写底层 + 删列表缓存)
func (c *CachedInstrumentStore) AddInstrument(ctx context.Context, inst *Instrument) error {
	if err := c.store.AddInstrument(ctx, inst); err != nil {
		return err
	}
	c.redis.Del(ctx, instrumentListKey)
	return nil
}

func (c *CachedInstrumentStore) setCache(ctx context.Context, key string, inst *Instrument) {
	data, err := json.Marshal(inst)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, data, instrumentCacheTTL)
}
