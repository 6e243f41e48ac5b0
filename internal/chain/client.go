// Package chain talks to the EVM claim contract that pays out scratch card
// prizes.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultCallTimeout bounds a single eth_call when Config.Timeout is zero.
const DefaultCallTimeout = 5 * time.Second

// Config holds client configuration.
type Config struct {
	RPCURL       string
	ClaimAddress string // claim contract, 0x-prefixed
	Timeout      time.Duration
}

// Dial connects to the RPC endpoint. The returned client satisfies
// ethereum.ContractCaller.
func Dial(ctx context.Context, cfg Config) (*ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	return client, nil
}
