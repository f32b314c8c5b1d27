package chain

import (
	"fmt"
	"slices"
	"time"
)

// WholeChain asks Fork for a copy of every block.
const WholeChain = -1

// Fork returns an independent chain holding blocks [0, point]. Pass
// WholeChain to copy everything. The original is never modified, and the
// fork shares no mutable state with it.
func (c *Chain) Fork(point int) (*Chain, error) {
	blocks := c.snapshot()
	return forkBlocks(blocks, point, c.now)
}

func forkBlocks(blocks []Block, point int, now func() time.Time) (*Chain, error) {
	length := len(blocks) - 1
	switch {
	case point == WholeChain:
		point = length
	case point < 0 || point > length:
		return nil, fmt.Errorf("fork at %d on chain of length %d: %w", point, length, ErrInvalidForkPoint)
	}
	return &Chain{
		blocks: slices.Clone(blocks[:point+1]),
		now:    now,
	}, nil
}

// CommonAncestor returns a new chain holding the prefix c shares with other:
// every block up to the last index at which both chains hold equal blocks.
//
// Only the overlapping range is compared. When the shorter chain is a prefix
// of the longer one the result is the whole shorter chain, whether or not
// the longer chain is a valid extension of it.
func (c *Chain) CommonAncestor(other *Chain) *Chain {
	mine, theirs := c.snapshot(), other.snapshot()
	m := min(len(mine), len(theirs)) - 1

	point := m
	for i := 1; i <= m; i++ {
		if !mine[i].Equal(theirs[i]) {
			point = i - 1
			break
		}
	}

	f, _ := forkBlocks(mine, point, c.now) // point is always within [0, m]
	return f
}
