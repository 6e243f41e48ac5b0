package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu    sync.RWMutex
	cards map[cardKey]card.Card
	now   func() time.Time
}

type cardKey struct {
	contract string
	tokenID  uint64
}

var _ storage.CardStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		cards: make(map[cardKey]card.Card),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func keyOf(contractRef string, tokenID uint64) cardKey {
	return cardKey{contract: strings.ToLower(contractRef), tokenID: tokenID}
}

func (s *Store) FindCardsByTokenIDs(_ context.Context, contractRef string, tokenIDs []uint64) ([]card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []card.Card
	seen := make(map[uint64]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := s.cards[keyOf(contractRef, id)]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetCard(_ context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[keyOf(contractRef, tokenID)]
	if !ok {
		return card.Card{}, card.ErrCardNotFound
	}
	return c.Clone(), nil
}

func (s *Store) CreateCard(_ context.Context, c card.Card) (storage.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(c.ContractRef, c.TokenID)
	if _, exists := s.cards[key]; exists {
		return storage.Conflict(), nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c = c.Clone()

	s.cards[key] = c
	return storage.Created(c.Clone()), nil
}

func (s *Store) UpdateCardRevealed(_ context.Context, contractRef string, tokenID uint64, revealedBy string) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(contractRef, tokenID)
	c, ok := s.cards[key]
	if !ok {
		return card.Card{}, card.ErrCardNotFound
	}
	if c.Revealed {
		return card.Card{}, card.ErrAlreadyRevealed
	}
	now := s.now()
	c.Revealed = true
	c.RevealedByRef = revealedBy
	c.RevealedAt = now
	c.UpdatedAt = now

	s.cards[key] = c
	return c.Clone(), nil
}

func (s *Store) UpdateCardClaimed(_ context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(contractRef, tokenID)
	c, ok := s.cards[key]
	if !ok {
		return card.Card{}, card.ErrCardNotFound
	}
	if c.Claimed {
		return card.Card{}, card.ErrAlreadyClaimed
	}
	if !c.Revealed {
		return card.Card{}, card.ErrNotRevealed
	}
	now := s.now()
	c.Claimed = true
	c.ClaimedAt = now
	c.UpdatedAt = now

	s.cards[key] = c
	return c.Clone(), nil
}
