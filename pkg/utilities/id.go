package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUUID returns a random v4 UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// IDGenerator hands out snowflake IDs from a single node so that the
// per-millisecond sequence is shared by every caller.
type IDGenerator struct {
	once   sync.Once
	nodeID int64
	node   *snowflake.Node
}

// NewIDGenerator returns a generator bound to nodeID (0..1023). Invalid
// nodes fall back to node 1.
func NewIDGenerator(nodeID int64) *IDGenerator {
	return &IDGenerator{nodeID: nodeID}
}

// Next returns the next snowflake ID as a string. If the node cannot be
// initialized it falls back to a KSUID string.
func (g *IDGenerator) Next() string {
	g.once.Do(func() {
		node, err := snowflake.NewNode(g.nodeID)
		if err != nil {
			node, err = snowflake.NewNode(1)
		}
		if err == nil {
			g.node = node
		}
	})
	if g.node == nil {
		return NewKSUID()
	}
	return g.node.Generate().String()
}
