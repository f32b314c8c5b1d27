package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"
)

// Block is a single immutable ledger entry. Fields are only reachable through
// accessors; use the With* methods to derive a modified copy.
type Block struct {
	index        int
	timestamp    time.Time
	transaction  string
	previousHash string
	hash         string
}

// Record is the exported, serialisable view of a Block.
type Record struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Transaction  string    `json:"transaction"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

// NewBlock builds a block and seals it with its content hash.
func NewBlock(index int, timestamp time.Time, transaction, previousHash string) Block {
	b := Block{
		index:        index,
		timestamp:    normalize(timestamp),
		transaction:  transaction,
		previousHash: previousHash,
	}
	b.hash = b.RecomputeHash()
	return b
}

// RestoreBlock rebuilds a block from persisted fields. The stored hash is kept
// as-is so that Verify can detect rows altered at rest.
func RestoreBlock(index int, timestamp time.Time, transaction, previousHash, hash string) Block {
	return Block{
		index:        index,
		timestamp:    normalize(timestamp),
		transaction:  transaction,
		previousHash: previousHash,
		hash:         hash,
	}
}

// FromRecord is RestoreBlock for a Record.
func FromRecord(r Record) Block {
	return RestoreBlock(r.Index, r.Timestamp, r.Transaction, r.PreviousHash, r.Hash)
}

func (b Block) Index() int           { return b.index }
func (b Block) Timestamp() time.Time { return b.timestamp }
func (b Block) Transaction() string  { return b.transaction }
func (b Block) PreviousHash() string { return b.previousHash }
func (b Block) Hash() string         { return b.hash }

// RecomputeHash derives the SHA-256 digest from the block's current fields,
// ignoring the stored hash. The digest input is
//
//	index|timestamp|len(transaction):transaction|len(previousHash):previousHash
//
// The free-form fields carry their byte length so a "|" inside them cannot
// move a field boundary.
func (b Block) RecomputeHash() string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(b.index)))
	h.Write([]byte{'|'})
	h.Write([]byte(b.timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	writeField(h, b.transaction)
	h.Write([]byte{'|'})
	writeField(h, b.previousHash)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	io.WriteString(w, strconv.Itoa(len(s)))
	io.WriteString(w, ":")
	io.WriteString(w, s)
}

// Equal reports whether every field of b and o matches, hash included.
func (b Block) Equal(o Block) bool {
	return b.index == o.index &&
		b.timestamp.Equal(o.timestamp) &&
		b.transaction == o.transaction &&
		b.previousHash == o.previousHash &&
		b.hash == o.hash
}

// WithIndex returns a resealed copy of b with a different index.
func (b Block) WithIndex(index int) Block {
	return NewBlock(index, b.timestamp, b.transaction, b.previousHash)
}

// WithTimestamp returns a resealed copy of b with a different timestamp.
func (b Block) WithTimestamp(ts time.Time) Block {
	return NewBlock(b.index, ts, b.transaction, b.previousHash)
}

// WithTransaction returns a resealed copy of b with a different payload.
func (b Block) WithTransaction(tx string) Block {
	return NewBlock(b.index, b.timestamp, tx, b.previousHash)
}

// WithPreviousHash returns a resealed copy of b linked to a different parent.
func (b Block) WithPreviousHash(prev string) Block {
	return NewBlock(b.index, b.timestamp, b.transaction, prev)
}

// Record returns the serialisable view of b.
func (b Block) Record() Record {
	return Record{
		Index:        b.index,
		Timestamp:    b.timestamp,
		Transaction:  b.transaction,
		PreviousHash: b.previousHash,
		Hash:         b.hash,
	}
}

// normalize drops the monotonic reading and location so that two blocks built
// from the same instant hash and compare identically.
func normalize(t time.Time) time.Time {
	return t.UTC().Round(0)
}
