package claims

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// KeyVersionV1 is the default derivation version for DeriveKeySigner.
const KeyVersionV1 = "v1"

var hkdfSalt = []byte("scratchcards-claim-signer")

// Signer produces claim signatures. SignHash signs the EIP-191 personal
// message digest of hash and returns 65 bytes r||s||v with v in {27, 28}.
type Signer interface {
	Address() common.Address
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimSpace(hexKey)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("signer private key is required")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return newKeySigner(key), nil
}

// DeriveKeySigner derives the signing key from a master seed with
// HKDF-SHA256. Each keyVersion yields an independent key.
func DeriveKeySigner(masterKeySeed []byte, keyVersion string) (*KeySigner, error) {
	if len(masterKeySeed) == 0 {
		return nil, fmt.Errorf("master key seed is required")
	}
	keyVersion = strings.TrimSpace(keyVersion)
	if keyVersion == "" {
		return nil, fmt.Errorf("keyVersion is required")
	}

	reader := hkdf.New(sha256.New, masterKeySeed, hkdfSalt, []byte("claim-signer-"+keyVersion))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	// Map OKM into [1, n-1] so the scalar is always a valid private key.
	n := crypto.S256().Params().N
	d := new(big.Int).SetBytes(okm)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	key, err := crypto.ToECDSA(d.FillBytes(make([]byte, 32)))
	if err != nil {
		return nil, fmt.Errorf("derived key: %w", err)
	}
	return newKeySigner(key), nil
}

// KeyVersionFromTime returns a rotation version string for t.
func KeyVersionFromTime(t time.Time) string {
	return "v" + strconv.FormatInt(t.Unix(), 10)
}

func newKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *KeySigner) Address() common.Address { return s.address }

func (s *KeySigner) SignHash(_ context.Context, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over the EIP-191
// digest of hash. v may be 0/1 or 27/28.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if v := normalized[crypto.RecoveryIDOffset]; v == 27 || v == 28 {
		normalized[crypto.RecoveryIDOffset] = v - 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
