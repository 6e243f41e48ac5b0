package prizes

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

// DrawRange is the exclusive upper bound of the uniform draw.
const DrawRange = 100.0

// Band is one cumulative slice of the draw range. A draw r matches the first
// band with r < Upper. A band that RequiresPeers yields Fallback when the
// caller has no peer pool.
type Band struct {
	Upper         float64
	Outcome       card.Outcome
	RequiresPeers bool
	Fallback      card.Outcome
}

// Policy is the ordered prize table. Amount outcomes carry no asset; the
// provisioner binds the configured prize asset.
type Policy struct {
	Bands []Band
}

// DefaultPolicy is the reference prize table.
func DefaultPolicy() Policy {
	amount := func(v string) card.Outcome {
		return card.AmountOf(decimal.RequireFromString(v), "")
	}
	return Policy{Bands: []Band{
		{Upper: 20, Outcome: card.NoWin()},
		{Upper: 35, Outcome: card.PeerWin(), RequiresPeers: true, Fallback: card.NoWin()},
		{Upper: 60, Outcome: amount("0.5")},
		{Upper: 75, Outcome: amount("0.75")},
		{Upper: 85, Outcome: amount("1")},
		{Upper: 92, Outcome: amount("1.5")},
		{Upper: 97, Outcome: amount("2")},
		{Upper: 98, Outcome: amount("5")},
		{Upper: 100, Outcome: card.NoWin()},
	}}
}

// Validate checks ordering, coverage and band shapes.
func (p Policy) Validate() error {
	if len(p.Bands) == 0 {
		return fmt.Errorf("%w: prize policy has no bands", card.ErrConfiguration)
	}
	prev := 0.0
	for i, b := range p.Bands {
		if b.Upper <= prev {
			return fmt.Errorf("%w: band %d upper %.4f not above %.4f", card.ErrConfiguration, i, b.Upper, prev)
		}
		prev = b.Upper
		if err := b.Outcome.Validate(); err != nil {
			return fmt.Errorf("band %d: %w", i, err)
		}
		if b.Outcome.Kind == card.KindPeerWin && !b.RequiresPeers {
			return fmt.Errorf("%w: band %d pays a peer win without requiring peers", card.ErrConfiguration, i)
		}
		if b.RequiresPeers {
			if b.Fallback.Kind == card.KindPeerWin {
				return fmt.Errorf("%w: band %d falls back to a peer win", card.ErrConfiguration, i)
			}
			if err := b.Fallback.Validate(); err != nil {
				return fmt.Errorf("band %d fallback: %w", i, err)
			}
		}
	}
	if prev != DrawRange {
		return fmt.Errorf("%w: bands end at %.4f, want %.0f", card.ErrConfiguration, prev, DrawRange)
	}
	return nil
}

// Probabilities returns the share of the draw range each outcome receives,
// keyed by Outcome.String().
func (p Policy) Probabilities(peersAvailable bool) map[string]float64 {
	out := make(map[string]float64)
	prev := 0.0
	for _, b := range p.Bands {
		o := b.Outcome
		if b.RequiresPeers && !peersAvailable {
			o = b.Fallback
		}
		out[o.String()] += (b.Upper - prev) / DrawRange
		prev = b.Upper
	}
	return out
}

// BandSpec is the file form of a Band.
type BandSpec struct {
	Upper    float64 `yaml:"upper" json:"upper"`
	Outcome  string  `yaml:"outcome" json:"outcome"` // no_win, peer_win, amount
	Amount   string  `yaml:"amount,omitempty" json:"amount,omitempty"`
	Fallback string  `yaml:"fallback,omitempty" json:"fallback,omitempty"` // peer_win only, defaults to no_win
}

// PolicyFromSpecs converts file bands into a validated Policy.
func PolicyFromSpecs(specs []BandSpec) (Policy, error) {
	policy := Policy{Bands: make([]Band, 0, len(specs))}
	for i, s := range specs {
		b := Band{Upper: s.Upper}
		switch card.OutcomeKind(s.Outcome) {
		case card.KindNoWin:
			b.Outcome = card.NoWin()
		case card.KindPeerWin:
			b.Outcome = card.PeerWin()
			b.RequiresPeers = true
			b.Fallback = card.NoWin()
			if s.Fallback != "" && card.OutcomeKind(s.Fallback) != card.KindNoWin {
				return Policy{}, fmt.Errorf("%w: band %d fallback %q unsupported", card.ErrConfiguration, i, s.Fallback)
			}
		case card.KindAmount:
			v, err := decimal.NewFromString(s.Amount)
			if err != nil {
				return Policy{}, fmt.Errorf("%w: band %d amount %q: %v", card.ErrConfiguration, i, s.Amount, err)
			}
			b.Outcome = card.AmountOf(v, "")
		default:
			return Policy{}, fmt.Errorf("%w: band %d outcome %q", card.ErrConfiguration, i, s.Outcome)
		}
		policy.Bands = append(policy.Bands, b)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}
