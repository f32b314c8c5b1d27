package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmerrifield20/minichain/internal/chain"
)

func readChain(path string) (*chain.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	c := chain.New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return c, nil
}

func writeChain(path string, c *chain.Chain) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write chain file: %w", err)
	}
	return nil
}
