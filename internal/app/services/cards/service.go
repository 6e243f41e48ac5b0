// Package cards exposes stored cards and the one-time scratch transition.
package cards

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/metrics"
	"github.com/R3E-Network/scratchcards/internal/app/services/grids"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// ScratchResult is a revealed card with the line it shows. WinningRow is nil
// for a losing card; RewardedPeer is set only for a peer win.
type ScratchResult struct {
	Card         card.Card  `json:"card"`
	WinningRow   *int       `json:"winning_row"`
	RewardedPeer *card.Peer `json:"rewarded_peer,omitempty"`
}

// Service reads and scratches cards.
type Service struct {
	store storage.CardStore
	log   *logger.Logger
}

// New creates a card service.
func New(store storage.CardStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cards")
	}
	return &Service{store: store, log: log}
}

// Get returns one card.
func (s *Service) Get(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	c, err := s.store.GetCard(ctx, contractRef, tokenID)
	if err != nil {
		return card.Card{}, fmt.Errorf("get card %d: %w", tokenID, err)
	}
	return c, nil
}

// Scratch reveals a card exactly once. A second call fails with
// card.ErrAlreadyRevealed and changes nothing.
func (s *Service) Scratch(ctx context.Context, contractRef string, tokenID uint64, revealedBy string) (ScratchResult, error) {
	c, err := s.store.UpdateCardRevealed(ctx, contractRef, tokenID, revealedBy)
	if err != nil {
		if !errors.Is(err, card.ErrAlreadyRevealed) && !errors.Is(err, card.ErrCardNotFound) {
			s.log.WithError(err).WithField("token_id", tokenID).Warn("scratch failed")
		}
		return ScratchResult{}, fmt.Errorf("scratch card %d: %w", tokenID, err)
	}
	metrics.RecordReveal()

	res := ScratchResult{Card: c}
	if row, ok := grids.FindWinningRow(c.Grid, c.Outcome); ok {
		res.WinningRow = &row
	} else if c.Outcome.IsWin() {
		s.log.WithField("contract", contractRef).
			WithField("token_id", tokenID).
			WithField("outcome", c.Outcome.String()).
			Error("revealed winning card shows no winning row")
	}
	if peer, ok := grids.RewardedPeer(c.Grid, c.Outcome); ok {
		res.RewardedPeer = &peer
	}

	s.log.WithField("contract", contractRef).
		WithField("token_id", tokenID).
		WithField("revealed_by", revealedBy).
		WithField("outcome", c.Outcome.String()).
		Info("card revealed")
	return res, nil
}
