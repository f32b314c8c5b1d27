package chain

import (
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"time"
)

const (
	// GenesisTransaction is the payload of every genesis block.
	GenesisTransaction = "Genesis"

	// GenesisPreviousHash is the sentinel parent hash of every genesis block.
	// It must be identical across chains for CommonAncestor to be meaningful.
	GenesisPreviousHash = "arbitrary"
)

// Chain is an ordered, append-only sequence of blocks rooted at a genesis
// block. A Chain is safe for concurrent use; appends are serialised.
// The zero value is an empty chain that creates its genesis block on first
// use, stamped with the wall clock.
type Chain struct {
	once   sync.Once
	mu     sync.RWMutex
	blocks []Block
	now    func() time.Time
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a chain holding only the genesis block.
func New(opts ...Option) *Chain {
	c := newEmpty(opts...)
	c.blocks = append(c.blocks, NewBlock(0, c.now(), GenesisTransaction, GenesisPreviousHash))
	return c
}

// Restore rebuilds a chain from persisted records without recomputing any
// hash. The result is not verified; call Verify before trusting it.
func Restore(records []Record, opts ...Option) (*Chain, error) {
	if len(records) == 0 {
		return nil, ErrEmptyChain
	}
	c := newEmpty(opts...)
	c.blocks = make([]Block, len(records))
	for i, r := range records {
		c.blocks[i] = FromRecord(r)
	}
	return c, nil
}

func newEmpty(opts ...Option) *Chain {
	c := &Chain{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Append seals transaction into a new block at the tail and returns it.
//
// The block timestamp is the current clock reading, bumped to one nanosecond
// past the tail when the clock has not advanced, so timestamps are always
// strictly increasing.
func (c *Chain) Append(transaction string) Block {
	c.seed()
	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.blocks[len(c.blocks)-1]
	ts := normalize(c.now())
	if !ts.After(tail.timestamp) {
		ts = tail.timestamp.Add(time.Nanosecond)
	}

	b := NewBlock(len(c.blocks), ts, transaction, tail.hash)
	c.blocks = append(c.blocks, b)
	return b
}

// AppendValue appends the JSON encoding of v.
func (c *Chain) AppendValue(v any) (Block, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Block{}, fmt.Errorf("marshal transaction: %w", err)
	}
	return c.Append(string(data)), nil
}

// Len returns the number of blocks after genesis.
func (c *Chain) Len() int {
	c.seed()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks) - 1
}

// Block returns the block at index i, genesis included.
func (c *Chain) Block(i int) (Block, error) {
	c.seed()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.blocks) {
		return Block{}, fmt.Errorf("index %d: %w", i, ErrBlockNotFound)
	}
	return c.blocks[i], nil
}

// Head returns the tail block.
func (c *Chain) Head() Block {
	c.seed()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// All yields the index and record of every block, genesis first. The sequence
// reflects the chain at the moment iteration starts and may be ranged over
// any number of times.
func (c *Chain) All() iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		for i, b := range c.snapshot() {
			if !yield(i, b.Record()) {
				return
			}
		}
	}
}

// Records returns a copy of every block record, genesis first.
func (c *Chain) Records() []Record {
	blocks := c.snapshot()
	out := make([]Record, len(blocks))
	for i, b := range blocks {
		out[i] = b.Record()
	}
	return out
}

// snapshot returns the current block slice. Blocks are immutable and the
// backing array is only ever appended to, so the prefix stays stable after
// the lock is released.
func (c *Chain) snapshot() []Block {
	c.seed()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[:len(c.blocks):len(c.blocks)]
}

// seed gives a zero Chain its genesis block. Chains built by New, Restore or
// Fork already hold one and are left alone.
func (c *Chain) seed() {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.now == nil {
			c.now = time.Now
		}
		if len(c.blocks) == 0 {
			c.blocks = []Block{NewBlock(0, c.now(), GenesisTransaction, GenesisPreviousHash)}
		}
	})
}

type chainJSON struct {
	Blocks []Record `json:"blocks"`
}

// MarshalJSON encodes the chain as {"blocks":[...]}.
func (c *Chain) MarshalJSON() ([]byte, error) {
	return json.Marshal(chainJSON{Blocks: c.Records()})
}

// UnmarshalJSON replaces the chain's blocks with the decoded records. Stored
// hashes are kept verbatim.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var v chainJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v.Blocks) == 0 {
		return ErrEmptyChain
	}
	blocks := make([]Block, len(v.Blocks))
	for i, r := range v.Blocks {
		blocks[i] = FromRecord(r)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now == nil {
		c.now = time.Now
	}
	c.blocks = blocks
	return nil
}
