// Package chain implements a minimal append-only hash chain.
//
// A Chain starts with a well-known genesis block whose transaction is
// GenesisTransaction and whose previous hash is GenesisPreviousHash. Every
// subsequent block records the SHA-256 of its predecessor, making any
// tampering detectable via Verify.
//
// Chains can be forked at any block and compared with CommonAncestor to find
// the prefix two divergent chains still share. The package performs no I/O;
// persistence and transport live in the store and handler packages.
package chain
