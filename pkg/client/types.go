package client

import "time"

// Info summarises a stored chain.
type Info struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
	Head   string `json:"head"`
}

// Block is one sealed block as served by the API.
type Block struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Transaction  string    `json:"transaction"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
}

// Violation is a single integrity failure reported by Verify.
type Violation struct {
	Index   int    `json:"index"`
	Check   string `json:"check"`
	Message string `json:"message"`
}

// VerifyResult is the outcome of verifying a chain.
type VerifyResult struct {
	Name       string      `json:"name"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// BlockPage is a window of blocks plus the chain's total length.
type BlockPage struct {
	Blocks []Block `json:"blocks"`
	Total  int     `json:"total"`
}

// Ancestor is the shared prefix of two chains.
type Ancestor struct {
	Length int     `json:"length"`
	Head   string  `json:"head"`
	Blocks []Block `json:"blocks"`
}

// Token is a writer token issued by POST /api/v1/auth/token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int       `json:"expires_in"`
}
