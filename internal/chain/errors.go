package chain

import "errors"

var (
	// ErrInvalidForkPoint is returned by Fork when the requested index lies
	// outside [0, Len()] and is not WholeChain.
	ErrInvalidForkPoint = errors.New("invalid fork point")

	// ErrBlockNotFound is returned by Block for an out-of-range index.
	ErrBlockNotFound = errors.New("block not found")

	// ErrEmptyChain is returned by Restore when no records are supplied.
	ErrEmptyChain = errors.New("chain has no blocks")

	// ErrIntegrity is wrapped by Violations.Err.
	ErrIntegrity = errors.New("chain integrity check failed")
)
