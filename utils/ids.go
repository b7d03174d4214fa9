package utils

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeID   int64 = 1
)

// SetNodeID 设置雪花算法节点号（多实例部署时区分实例），须在首次生成ID之前调用
func SetNodeID(id int64) {
	if id < 0 || id > 1023 {
		return
	}
	nodeID = id
}

// NextID 生成全局唯一的记录ID（成交、持仓）
func NextID() string {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node.Generate().String()
}
