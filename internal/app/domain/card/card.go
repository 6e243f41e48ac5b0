// Package card defines the scratch card model: prize outcomes, card faces and
// the persisted card record.
package card

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Card is one scratch card bound to an NFT token. Grid and Outcome are fixed
// at creation; Revealed flips once, Claimed flips once and only after Revealed.
type Card struct {
	ID            string    `json:"id"`
	TokenID       uint64    `json:"token_id"`     // unique per contract
	ContractRef   string    `json:"contract_ref"` // NFT contract address
	Grid          Grid      `json:"grid"`
	Outcome       Outcome   `json:"outcome"`
	Revealed      bool      `json:"revealed"`
	Claimed       bool      `json:"claimed"`
	MinterRef     string    `json:"minter_ref"`
	RevealedByRef string    `json:"revealed_by_ref,omitempty"`
	RevealedAt    time.Time `json:"revealed_at,omitempty"`
	ClaimedAt     time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with c.
func (c Card) Clone() Card {
	c.Grid = c.Grid.Clone()
	return c
}

// ClaimAuthorization is a signed, time-bounded permission for the payout
// contract to release a prize for one token. It is never persisted.
type ClaimAuthorization struct {
	TokenID     uint64         `json:"token_id"`
	AmountUnits *big.Int       `json:"amount_units"` // smallest asset unit, floor-rounded
	Asset       common.Address `json:"asset"`
	Deadline    int64          `json:"deadline"` // unix seconds
	MessageHash common.Hash    `json:"message_hash"`
	Signature   hexutil.Bytes  `json:"signature"`
	Signer      common.Address `json:"signer"`
}

// ClaimMessage is the tuple a claim signature commits to. Its hash is
// keccak256(abi.encode(uint256 tokenId, uint256 amountUnits, address asset,
// uint256 deadline)).
type ClaimMessage struct {
	TokenID     uint64
	AmountUnits *big.Int
	Asset       common.Address
	Deadline    int64
}
