// Package sequence hands out planboard sequence numbers. Numbers are
// snowflake identifiers: millisecond time, node and a per-millisecond step,
// so they increase for the lifetime of a process and never collide between
// nodes.
package sequence

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Generator produces sequence numbers.
type Generator interface {
	Next() int64
}

// Snowflake is the default Generator.
type Snowflake struct {
	mu   sync.Mutex
	node *snowflake.Node
	last int64
}

// New creates a Snowflake generator for the given node (0-1023).
func New(node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("sequence node %d: %w", node, err)
	}
	return &Snowflake{node: n}, nil
}

// Next returns the next sequence number.
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.node.Generate().Int64()
	// never hand out a value at or below the previous one
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id
}
