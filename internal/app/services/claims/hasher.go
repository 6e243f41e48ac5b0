package claims

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/metrics"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Hash sources reported to metrics.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// MessageHasher computes the hash a claim signature commits to.
type MessageHasher interface {
	MessageHash(ctx context.Context, m card.ClaimMessage) (common.Hash, error)
}

// SignatureVerifier checks a signature the way the payout contract will.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, m card.ClaimMessage, sig []byte) (bool, error)
}

var claimArguments = func() abi.Arguments {
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	address, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: uint256}, {Type: uint256}, {Type: address}, {Type: uint256}}
}()

// LocalHasher reproduces the contract's abi.encode + keccak256 in process.
type LocalHasher struct{}

// EncodeMessage returns abi.encode(uint256, uint256, address, uint256).
func EncodeMessage(m card.ClaimMessage) ([]byte, error) {
	amount := m.AmountUnits
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 || m.Deadline < 0 {
		return nil, fmt.Errorf("claim message fields must be non-negative")
	}
	return claimArguments.Pack(new(big.Int).SetUint64(m.TokenID), amount, m.Asset, big.NewInt(m.Deadline))
}

func (LocalHasher) MessageHash(_ context.Context, m card.ClaimMessage) (common.Hash, error) {
	encoded, err := EncodeMessage(m)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode claim message: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// FallbackHasher prefers the remote contract hash and falls back to the
// local encoding when the remote call fails.
type FallbackHasher struct {
	Primary  MessageHasher // may be nil
	Fallback MessageHasher
	Log      *logger.Logger
}

// NewFallbackHasher returns a hasher that uses remote when set.
func NewFallbackHasher(remote MessageHasher, log *logger.Logger) *FallbackHasher {
	if log == nil {
		log = logger.NewDefault("claims")
	}
	return &FallbackHasher{Primary: remote, Fallback: LocalHasher{}, Log: log}
}

func (h *FallbackHasher) MessageHash(ctx context.Context, m card.ClaimMessage) (common.Hash, error) {
	if h.Primary != nil {
		hash, err := h.Primary.MessageHash(ctx, m)
		if err == nil {
			metrics.RecordHashSource(SourceRemote)
			return hash, nil
		}
		h.Log.WithError(err).
			WithField("token_id", m.TokenID).
			Warn("remote claim hash unavailable, using local encoding")
	}
	hash, err := h.Fallback.MessageHash(ctx, m)
	if err != nil {
		return common.Hash{}, err
	}
	metrics.RecordHashSource(SourceLocal)
	return hash, nil
}

// ProbeMessage is the tuple Check hashes on both sides.
var ProbeMessage = card.ClaimMessage{
	TokenID:     1,
	AmountUnits: big.NewInt(1_000_000),
	Asset:       common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
	Deadline:    4_102_444_800, // 2100-01-01
}

// Check compares the remote and local hashes of ProbeMessage. A mismatch is
// an error: signatures produced by the fallback would never verify. An
// unreachable remote is only logged.
func (h *FallbackHasher) Check(ctx context.Context) error {
	if h.Primary == nil {
		return nil
	}
	remote, err := h.Primary.MessageHash(ctx, ProbeMessage)
	if err != nil {
		h.Log.WithError(err).Warn("remote claim hash unreachable at startup; local encoding will be used")
		return nil
	}
	local, err := h.Fallback.MessageHash(ctx, ProbeMessage)
	if err != nil {
		return err
	}
	if remote != local {
		return fmt.Errorf("%w: remote claim hash %s differs from local %s", card.ErrConfiguration, remote.Hex(), local.Hex())
	}
	h.Log.WithField("probe_hash", local.Hex()).Info("claim hash encoding matches contract")
	return nil
}
