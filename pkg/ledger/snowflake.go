// 文件: pkg/ledger/snowflake.go
// 雪花算法 ID 生成器 (合约/手续费/保证金/回报编号)
// 使用开源库: github.com/bwmarrin/snowflake
//
// 雪花 ID 时间有序, 合约按 ContractID 升序即按建仓先后排序,
// 平仓 FIFO 选仓与成交撮合都依赖这一点

package ledger

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// InitSnowflake 初始化雪花算法
// nodeID: 节点ID (0-1023)
func InitSnowflake(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NextID 生成引擎内唯一 ID
func NextID() int64 {
	if node == nil {
		// 未初始化则使用默认节点0
		InitSnowflake(0)
	}
	return node.Generate().Int64()
}
