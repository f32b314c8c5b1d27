package chain

import (
	"errors"
	"fmt"
)

// Check names one of the integrity checks run by Verify.
type Check string

const (
	CheckGenesis      Check = "genesis"
	CheckIndex        Check = "index"
	CheckPreviousHash Check = "previous_hash"
	CheckHash         Check = "hash"
	CheckTimestamp    Check = "timestamp"
)

// Violation describes a single failed check at a block index.
type Violation struct {
	Index   int    `json:"index"`
	Check   Check  `json:"check"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("block %d: %s: %s", v.Index, v.Check, v.Message)
}

func (v Violation) String() string { return v.Error() }

// Violations is the diagnostic list returned by Verify.
type Violations []Violation

// Err joins the violations into one error wrapping ErrIntegrity, or returns
// nil when there are none.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(vs)+1)
	errs = append(errs, ErrIntegrity)
	for _, v := range vs {
		errs = append(errs, v)
	}
	return errors.Join(errs...)
}

// At returns the violations recorded for block i.
func (vs Violations) At(i int) Violations {
	var out Violations
	for _, v := range vs {
		if v.Index == i {
			out = append(out, v)
		}
	}
	return out
}

// Verify walks the chain and reports every broken invariant. All checks run
// for every block; a failure never hides a later one. A chain that fails
// verification is still usable.
func (c *Chain) Verify() (bool, Violations) {
	blocks := c.snapshot()
	vs := Violations{}

	g := blocks[0]
	if g.index != 0 || g.transaction != GenesisTransaction || g.previousHash != GenesisPreviousHash {
		vs = append(vs, Violation{
			Index:   0,
			Check:   CheckGenesis,
			Message: fmt.Sprintf("unexpected genesis block (index %d, transaction %q, previous hash %q)", g.index, g.transaction, g.previousHash),
		})
	}

	for i := 1; i < len(blocks); i++ {
		prev, curr := blocks[i-1], blocks[i]

		if curr.index != i {
			vs = append(vs, Violation{
				Index:   i,
				Check:   CheckIndex,
				Message: fmt.Sprintf("wrong block index: got %d", curr.index),
			})
		}
		if curr.previousHash != prev.hash {
			vs = append(vs, Violation{
				Index:   i,
				Check:   CheckPreviousHash,
				Message: fmt.Sprintf("wrong previous hash: got %q, want %q", curr.previousHash, prev.hash),
			})
		}
		if want := curr.RecomputeHash(); curr.hash != want {
			vs = append(vs, Violation{
				Index:   i,
				Check:   CheckHash,
				Message: fmt.Sprintf("wrong hash: got %q, want %q", curr.hash, want),
			})
		}
		if !prev.timestamp.Before(curr.timestamp) {
			vs = append(vs, Violation{
				Index:   i,
				Check:   CheckTimestamp,
				Message: fmt.Sprintf("backdating: %s is not after %s", curr.timestamp, prev.timestamp),
			})
		}
	}

	return len(vs) == 0, vs
}
