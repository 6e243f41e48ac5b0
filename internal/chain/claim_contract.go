package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

// ClaimContractABI lists the two pure functions the engine calls.
const ClaimContractABI = `[
	{"type":"function","name":"computeClaimMessageHash","stateMutability":"pure",
	 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"asset","type":"address"},{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"verifyClaimSignature","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"asset","type":"address"},{"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

const (
	methodComputeHash = "computeClaimMessageHash"
	methodVerify      = "verifyClaimSignature"
)

// ClaimContract calls the claim contract's hash and verify functions.
type ClaimContract struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     abi.ABI
	timeout time.Duration
}

// NewClaimContract binds caller to the contract at address.
func NewClaimContract(caller ethereum.ContractCaller, address string, timeout time.Duration) (*ClaimContract, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller required")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid claim contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(ClaimContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse claim ABI: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &ClaimContract{
		caller:  caller,
		address: common.HexToAddress(address),
		abi:     parsed,
		timeout: timeout,
	}, nil
}

// Address returns the bound contract address.
func (c *ClaimContract) Address() common.Address { return c.address }

// MessageHash returns computeClaimMessageHash(tokenId, amount, asset, deadline).
func (c *ClaimContract) MessageHash(ctx context.Context, m card.ClaimMessage) (common.Hash, error) {
	out, err := c.call(ctx, methodComputeHash, claimArgs(m)...)
	if err != nil {
		return common.Hash{}, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("%s: unexpected return type %T", methodComputeHash, out[0])
	}
	return common.Hash(raw), nil
}

// VerifySignature returns verifyClaimSignature(tokenId, amount, asset, deadline, sig).
func (c *ClaimContract) VerifySignature(ctx context.Context, m card.ClaimMessage, sig []byte) (bool, error) {
	out, err := c.call(ctx, methodVerify, append(claimArgs(m), sig)...)
	if err != nil {
		return false, err
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("%s: unexpected return type %T", methodVerify, out[0])
	}
	return ok, nil
}

func claimArgs(m card.ClaimMessage) []interface{} {
	amount := m.AmountUnits
	if amount == nil {
		amount = new(big.Int)
	}
	return []interface{}{
		new(big.Int).SetUint64(m.TokenID),
		amount,
		m.Asset,
		big.NewInt(m.Deadline),
	}
}

func (c *ClaimContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	callData, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	result, err := c.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(result) != 1 {
		return nil, fmt.Errorf("%s: expected 1 return value, got %d", method, len(result))
	}
	return result, nil
}
