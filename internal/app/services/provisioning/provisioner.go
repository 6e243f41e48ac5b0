// Package provisioning creates the cards behind freshly minted tokens. It is
// idempotent per (contract, token): cards that already exist are returned
// unchanged, and concurrent callers converge on the single stored card.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/metrics"
	"github.com/R3E-Network/scratchcards/internal/app/services/grids"
	"github.com/R3E-Network/scratchcards/internal/app/services/prizes"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Game is the face material shared by every card of a contract.
type Game struct {
	PrizeAsset   string
	DecoyAmounts []decimal.Decimal
	DecoyAssets  []string
}

// Validate reports missing face material as a configuration error.
func (g Game) Validate() error {
	switch {
	case g.PrizeAsset == "":
		return fmt.Errorf("%w: prize asset is empty", card.ErrConfiguration)
	case len(g.DecoyAmounts) == 0:
		return fmt.Errorf("%w: decoy amounts are empty", card.ErrConfiguration)
	case len(g.DecoyAssets) == 0:
		return fmt.Errorf("%w: decoy assets are empty", card.ErrConfiguration)
	}
	return nil
}

// Request asks for the cards behind TokenIDs.
type Request struct {
	ContractRef  string
	TokenIDs     []uint64
	PeerPool     []card.Peer
	RecipientRef string
}

// Provisioner draws, lays out and stores new cards.
type Provisioner struct {
	store     storage.CardStore
	drawer    *prizes.Drawer
	generator *grids.Generator
	game      Game
	log       *logger.Logger
}

// New creates a provisioner. The game is validated up front so a bad
// configuration fails before any card is written.
func New(store storage.CardStore, drawer *prizes.Drawer, generator *grids.Generator, game Game, log *logger.Logger) (*Provisioner, error) {
	if err := game.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault("provisioning")
	}
	return &Provisioner{store: store, drawer: drawer, generator: generator, game: game, log: log}, nil
}

// Provision returns one card per distinct token id, sorted by token id.
// Existing cards are returned as stored; missing ones are created. A create
// that loses a race re-reads the winner's card.
func (p *Provisioner) Provision(ctx context.Context, req Request) ([]card.Card, error) {
	ids := uniqueIDs(req.TokenIDs)
	if len(ids) == 0 {
		return []card.Card{}, nil
	}

	existing, err := p.store.FindCardsByTokenIDs(ctx, req.ContractRef, ids)
	if err != nil {
		return nil, fmt.Errorf("find cards: %w", err)
	}
	byID := make(map[uint64]card.Card, len(ids))
	for _, c := range existing {
		byID[c.TokenID] = c
	}
	metrics.RecordProvisioned("existing", len(byID))

	for _, id := range ids {
		if _, ok := byID[id]; ok {
			continue
		}
		c, err := p.createOne(ctx, req, id)
		if err != nil {
			return nil, err
		}
		byID[id] = c
	}

	out := make([]card.Card, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (p *Provisioner) createOne(ctx context.Context, req Request, tokenID uint64) (card.Card, error) {
	outcome := p.drawer.Draw(len(req.PeerPool) > 0).WithAsset(p.game.PrizeAsset)
	metrics.RecordDraw(string(outcome.Kind))

	face, err := p.generator.Generate(grids.GenerateRequest{
		Outcome:      outcome,
		PrizeAsset:   p.game.PrizeAsset,
		DecoyAmounts: p.game.DecoyAmounts,
		DecoyAssets:  p.game.DecoyAssets,
		PeerPool:     req.PeerPool,
	})
	if err != nil {
		if errors.Is(err, card.ErrUnintendedMatch) {
			metrics.RecordGridFailure()
		}
		return card.Card{}, fmt.Errorf("generate card %d: %w", tokenID, err)
	}

	res, err := p.store.CreateCard(ctx, card.Card{
		TokenID:     tokenID,
		ContractRef: req.ContractRef,
		Grid:        face.Grid,
		Outcome:     outcome,
		MinterRef:   req.RecipientRef,
	})
	if err != nil {
		return card.Card{}, fmt.Errorf("create card %d: %w", tokenID, err)
	}

	if !res.Conflict {
		metrics.RecordProvisioned("created", 1)
		entry := p.log.WithField("contract", req.ContractRef).
			WithField("token_id", tokenID).
			WithField("outcome", outcome.String())
		if peer, ok := grids.RewardedPeer(face.Grid, outcome); ok {
			entry = entry.WithField("rewarded_peer", peer.ID)
		}
		entry.Info("card provisioned")
		return res.Card, nil
	}

	metrics.RecordProvisioned("conflict", 1)
	winner, err := p.store.GetCard(ctx, req.ContractRef, tokenID)
	if errors.Is(err, card.ErrCardNotFound) {
		p.log.WithField("contract", req.ContractRef).
			WithField("token_id", tokenID).
			Error("create conflicted but card is absent")
		return card.Card{}, fmt.Errorf("%w: token %d", card.ErrProvisioningInconsistency, tokenID)
	}
	if err != nil {
		return card.Card{}, fmt.Errorf("re-read card %d: %w", tokenID, err)
	}
	p.log.WithField("contract", req.ContractRef).
		WithField("token_id", tokenID).
		Debug("card created concurrently, using stored card")
	return winner, nil
}

func uniqueIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
