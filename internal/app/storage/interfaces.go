package storage

import (
	"context"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

// CreateResult is the tagged outcome of CreateCard: either the stored card, or
// a Conflict because another writer already holds (contract, token).
type CreateResult struct {
	Card     card.Card
	Conflict bool
}

// Created wraps a freshly stored card.
func Created(c card.Card) CreateResult { return CreateResult{Card: c} }

// Conflict reports a duplicate (contract, token).
func Conflict() CreateResult { return CreateResult{Conflict: true} }

// CardStore persists scratch cards. Uniqueness of (ContractRef, TokenID) and the
// atomicity of each per-card transition are the store's responsibility.
type CardStore interface {
	// FindCardsByTokenIDs returns the stored cards among tokenIDs, in any order.
	FindCardsByTokenIDs(ctx context.Context, contractRef string, tokenIDs []uint64) ([]card.Card, error)
	// GetCard returns card.ErrCardNotFound when absent.
	GetCard(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error)
	// CreateCard never returns card.ErrDuplicateTokenID; duplicates are a Conflict.
	CreateCard(ctx context.Context, c card.Card) (CreateResult, error)
	// UpdateCardRevealed flips revealed, or fails with card.ErrAlreadyRevealed.
	UpdateCardRevealed(ctx context.Context, contractRef string, tokenID uint64, revealedBy string) (card.Card, error)
	// UpdateCardClaimed flips claimed, or fails with card.ErrAlreadyClaimed or
	// card.ErrNotRevealed.
	UpdateCardClaimed(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error)
}
