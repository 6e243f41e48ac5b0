package card

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OutcomeKind tags the shape of an Outcome.
type OutcomeKind string

const (
	KindNoWin   OutcomeKind = "no_win"
	KindPeerWin OutcomeKind = "peer_win" // free card for a designated peer
	KindAmount  OutcomeKind = "amount"
)

// Outcome is the prize hidden behind a card. Exactly one of the three kinds is
// set; Amount and Asset are only meaningful for KindAmount.
type Outcome struct {
	Kind   OutcomeKind
	Amount decimal.Decimal
	Asset  string
}

// NoWin returns the losing outcome.
func NoWin() Outcome { return Outcome{Kind: KindNoWin} }

// PeerWin returns the outcome that grants a complimentary card to a peer.
func PeerWin() Outcome { return Outcome{Kind: KindPeerWin} }

// AmountOf returns a funds prize of value in asset.
func AmountOf(value decimal.Decimal, asset string) Outcome {
	return Outcome{Kind: KindAmount, Amount: value, Asset: asset}
}

// IsWin reports whether the outcome encodes a winning row.
func (o Outcome) IsWin() bool {
	return o.Kind == KindPeerWin || o.Kind == KindAmount
}

// WithAsset returns a copy bound to asset. Non-amount outcomes are unchanged.
func (o Outcome) WithAsset(asset string) Outcome {
	if o.Kind != KindAmount {
		return o
	}
	o.Asset = asset
	return o
}

// Equal compares outcomes by kind, numeric amount and case-insensitive asset.
func (o Outcome) Equal(other Outcome) bool {
	if o.Kind != other.Kind {
		return false
	}
	if o.Kind != KindAmount {
		return true
	}
	return o.Amount.Equal(other.Amount) && strings.EqualFold(o.Asset, other.Asset)
}

// Validate checks the tagged-union invariant.
func (o Outcome) Validate() error {
	switch o.Kind {
	case KindNoWin, KindPeerWin:
		return nil
	case KindAmount:
		if !o.Amount.IsPositive() {
			return fmt.Errorf("%w: prize amount must be positive, got %s", ErrConfiguration, o.Amount)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown outcome kind %q", ErrConfiguration, o.Kind)
	}
}

func (o Outcome) String() string {
	if o.Kind == KindAmount {
		return fmt.Sprintf("%s(%s %s)", o.Kind, o.Amount, o.Asset)
	}
	return string(o.Kind)
}

type outcomeJSON struct {
	Kind   OutcomeKind      `json:"kind"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Asset  string           `json:"asset,omitempty"`
}

// MarshalJSON omits amount and asset for non-amount outcomes.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{Kind: o.Kind}
	if o.Kind == KindAmount {
		amount := o.Amount
		out.Amount = &amount
		out.Asset = o.Asset
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates an outcome.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	decoded := Outcome{Kind: in.Kind}
	if in.Kind == KindAmount {
		if in.Amount == nil {
			return fmt.Errorf("%w: amount outcome without amount", ErrConfiguration)
		}
		decoded.Amount = *in.Amount
		decoded.Asset = in.Asset
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*o = decoded
	return nil
}
