package chain_test

import (
	"errors"
	"testing"

	"github.com/jmerrifield20/minichain/internal/chain"
)

func TestFork_wholeChain(t *testing.T) {
	c := build(t, "a", "b", "c")
	f, err := c.Fork(chain.WholeChain)
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != c.Len() {
		t.Errorf("fork length: got %d, want %d", f.Len(), c.Len())
	}
	if !f.Head().Equal(c.Head()) {
		t.Error("whole-chain fork should share the head block")
	}
}

func TestFork_atPoint(t *testing.T) {
	c := build(t, "a", "b", "c")
	for point := 0; point <= c.Len(); point++ {
		f, err := c.Fork(point)
		if err != nil {
			t.Fatalf("Fork(%d): %v", point, err)
		}
		if f.Len() != point {
			t.Errorf("Fork(%d) length: got %d", point, f.Len())
		}
		want, _ := c.Block(point)
		if !f.Head().Equal(want) {
			t.Errorf("Fork(%d) head mismatch", point)
		}
	}
}

func TestFork_isolation(t *testing.T) {
	c := build(t, "a", "b", "c")
	before := c.Records()

	for _, point := range []int{chain.WholeChain, 0, 1, 3} {
		f, err := c.Fork(point)
		if err != nil {
			t.Fatal(err)
		}
		f.Append("fork-only")
		f.Append("fork-only-2")

		if c.Len() != 3 {
			t.Fatalf("Fork(%d): original length changed to %d", point, c.Len())
		}
		for i, r := range c.Records() {
			if !chain.FromRecord(r).Equal(chain.FromRecord(before[i])) {
				t.Errorf("Fork(%d): original block %d changed", point, i)
			}
		}
		if ok, vs := f.Verify(); !ok {
			t.Errorf("Fork(%d): fork invalid after append: %v", point, vs)
		}
	}

	// Appending to the original must not leak into an earlier fork either.
	f, _ := c.Fork(1)
	c.Append("original-only")
	if f.Len() != 1 {
		t.Errorf("fork length changed after original append: %d", f.Len())
	}
}

func TestFork_outOfRange(t *testing.T) {
	c := build(t, "a", "b")
	for _, point := range []int{c.Len() + 5, c.Len() + 1, -2, -100} {
		if _, err := c.Fork(point); !errors.Is(err, chain.ErrInvalidForkPoint) {
			t.Errorf("Fork(%d): expected ErrInvalidForkPoint, got %v", point, err)
		}
	}
}

func TestCommonAncestor_divergentTails(t *testing.T) {
	c1 := build(t, "A", "B", "C")
	c2, err := c1.Fork(chain.WholeChain)
	if err != nil {
		t.Fatal(err)
	}
	c1.Append("X")
	c2.Append("Y")

	root := c1.CommonAncestor(c2)
	if root.Len() != 3 {
		t.Fatalf("expected ancestor length 3, got %d", root.Len())
	}
	for i, r := range root.Records() {
		want, _ := c1.Block(i)
		if !chain.FromRecord(r).Equal(want) {
			t.Errorf("ancestor block %d does not match the shared prefix", i)
		}
	}

	// The result is independent of both inputs.
	root.Append("Z")
	if c1.Len() != 4 || c2.Len() != 4 {
		t.Error("appending to the ancestor changed an input chain")
	}
}

func TestCommonAncestor_independentChainsShareOnlyGenesis(t *testing.T) {
	c1 := build(t, "A", "B")
	c2 := chain.New(chain.WithClock(frozenClock))
	c2.Append("A")
	c2.Append("B")

	// Separately built chains differ in timestamps and hashes.
	root := c1.CommonAncestor(c2)
	if root.Len() != 0 {
		t.Errorf("expected genesis-only ancestor, got length %d", root.Len())
	}
}

func TestCommonAncestor_prefix(t *testing.T) {
	long := build(t, "A", "B", "C", "D")
	short, _ := long.Fork(2)

	if got := long.CommonAncestor(short).Len(); got != 2 {
		t.Errorf("long vs short: got %d, want 2", got)
	}
	if got := short.CommonAncestor(long).Len(); got != 2 {
		t.Errorf("short vs long: got %d, want 2", got)
	}
}

func TestCommonAncestor_self(t *testing.T) {
	c := build(t, "A", "B")
	if got := c.CommonAncestor(c).Len(); got != 2 {
		t.Errorf("chain vs itself: got %d, want 2", got)
	}
}

func TestCommonAncestor_divergenceAtFirstBlock(t *testing.T) {
	c1 := chain.New()
	c2, _ := c1.Fork(chain.WholeChain)
	c1.Append("X")
	c2.Append("Y")

	if got := c1.CommonAncestor(c2).Len(); got != 0 {
		t.Errorf("expected genesis-only ancestor, got %d", got)
	}
}
