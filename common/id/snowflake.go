package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const (
	NodeServer int64 = 1
	NodeCLI    int64 = 2
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the Snowflake node. The server and zwopctl use different nodes so
// audit event ids never collide. Later calls are no-ops.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()
	if node != nil {
		return nil
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	node = n
	return nil
}

// New returns a time-ordered id. Without Init it falls back to node 0, which
// is what tests get.
func New() int64 {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(0)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}

// NewString is New formatted for headers and stream fields.
func NewString() string {
	return strconv.FormatInt(New(), 10)
}
