// Package prizes draws the weighted prize hidden behind a scratch card.
package prizes

import (
	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/services/random"
)

// Drawer maps one uniform draw to a prize outcome.
type Drawer struct {
	policy Policy
	src    random.Source
}

// NewDrawer validates policy and binds it to src.
func NewDrawer(policy Policy, src random.Source) (*Drawer, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Drawer{policy: policy, src: src}, nil
}

// Draw takes r uniformly from [0, 100) and resolves it. Amount outcomes are
// returned without an asset.
func (d *Drawer) Draw(peersAvailable bool) card.Outcome {
	return d.DrawAt(d.src.Float64()*DrawRange, peersAvailable)
}

// DrawAt resolves a given draw. The first band with r < Upper wins; a peer
// band without peers yields its fallback in place.
func (d *Drawer) DrawAt(r float64, peersAvailable bool) card.Outcome {
	for _, b := range d.policy.Bands {
		if r >= b.Upper {
			continue
		}
		if b.RequiresPeers && !peersAvailable {
			return b.Fallback
		}
		return b.Outcome
	}
	return card.NoWin()
}

// Policy returns the table the drawer uses.
func (d *Drawer) Policy() Policy {
	return d.policy
}
