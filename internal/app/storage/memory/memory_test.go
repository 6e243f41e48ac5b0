package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
)

const contract = "0xCardContract"

func newCard(tokenID uint64) card.Card {
	var g card.Grid
	for i := range g {
		g[i] = card.AmountCell(decimal.NewFromInt(int64(i%5+1)), "0xA")
	}
	g[0] = card.PeerCell(card.Peer{ID: "peer"})
	return card.Card{TokenID: tokenID, ContractRef: contract, Grid: g, Outcome: card.NoWin(), MinterRef: "alice"}
}

func TestStoreCreateAndFind(t *testing.T) {
	store := New()
	ctx := context.Background()

	res, err := store.CreateCard(ctx, newCard(1))
	require.NoError(t, err)
	require.False(t, res.Conflict)
	assert.NotEmpty(t, res.Card.ID)
	assert.False(t, res.Card.CreatedAt.IsZero())

	dup, err := store.CreateCard(ctx, newCard(1))
	require.NoError(t, err)
	assert.True(t, dup.Conflict)

	// contract refs are case-insensitive addresses
	got, err := store.GetCard(ctx, "0xcardcontract", 1)
	require.NoError(t, err)
	assert.Equal(t, res.Card.ID, got.ID)

	found, err := store.FindCardsByTokenIDs(ctx, contract, []uint64{1, 2, 1})
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = store.GetCard(ctx, contract, 2)
	assert.ErrorIs(t, err, card.ErrCardNotFound)
}

func TestStoreReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateCard(ctx, newCard(7))
	require.NoError(t, err)

	got, err := store.GetCard(ctx, contract, 7)
	require.NoError(t, err)
	got.Grid[0].Peer.ID = "mutated"
	got.Revealed = true

	again, err := store.GetCard(ctx, contract, 7)
	require.NoError(t, err)
	assert.Equal(t, "peer", again.Grid[0].Peer.ID)
	assert.False(t, again.Revealed)
}

func TestStoreTransitions(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.CreateCard(ctx, newCard(3))
	require.NoError(t, err)

	_, err = store.UpdateCardClaimed(ctx, contract, 3)
	assert.ErrorIs(t, err, card.ErrNotRevealed)

	revealed, err := store.UpdateCardRevealed(ctx, contract, 3, "bob")
	require.NoError(t, err)
	assert.True(t, revealed.Revealed)
	assert.Equal(t, "bob", revealed.RevealedByRef)

	_, err = store.UpdateCardRevealed(ctx, contract, 3, "bob")
	assert.ErrorIs(t, err, card.ErrAlreadyRevealed)

	claimed, err := store.UpdateCardClaimed(ctx, contract, 3)
	require.NoError(t, err)
	assert.True(t, claimed.Claimed)

	_, err = store.UpdateCardClaimed(ctx, contract, 3)
	assert.ErrorIs(t, err, card.ErrAlreadyClaimed)

	_, err = store.UpdateCardRevealed(ctx, contract, 99, "bob")
	assert.ErrorIs(t, err, card.ErrCardNotFound)
}

func TestStoreConcurrentReveal(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.CreateCard(ctx, newCard(4))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.UpdateCardRevealed(ctx, contract, 4, "x"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
