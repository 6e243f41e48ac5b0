package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/platform/migrations"
)

const contract = "0xABCDEF0000000000000000000000000000000001"

func sampleCard(tokenID uint64) card.Card {
	var g card.Grid
	for i := range g {
		g[i] = card.AmountCell(decimal.NewFromInt(int64(i%4+1)), "0xA")
	}
	g[5] = card.PeerCell(card.Peer{ID: "peer-1", DisplayName: "Peer"})
	return card.Card{
		TokenID:     tokenID,
		ContractRef: contract,
		Grid:        g,
		Outcome:     card.AmountOf(decimal.RequireFromString("0.75"), "0xA"),
		MinterRef:   "minter",
	}
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cards.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.Apply(context.Background(), db, migrations.DialectSQLite))
	return New(db, "sqlite")
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	res, err := store.CreateCard(ctx, sampleCard(10))
	require.NoError(t, err)
	require.False(t, res.Conflict)
	require.NotEmpty(t, res.Card.ID)

	dup, err := store.CreateCard(ctx, sampleCard(10))
	require.NoError(t, err)
	assert.True(t, dup.Conflict)

	got, err := store.GetCard(ctx, contract, 10)
	require.NoError(t, err)
	assert.Equal(t, res.Card.ID, got.ID)
	assert.True(t, got.Outcome.Equal(sampleCard(10).Outcome))
	assert.Equal(t, "peer-1", got.Grid[5].Peer.ID)
	assert.True(t, got.Grid[0].Amount.Equal(decimal.NewFromInt(1)))
	assert.False(t, got.Revealed)

	_, err = store.UpdateCardClaimed(ctx, contract, 10)
	assert.ErrorIs(t, err, card.ErrNotRevealed)

	revealed, err := store.UpdateCardRevealed(ctx, contract, 10, "bob")
	require.NoError(t, err)
	assert.True(t, revealed.Revealed)
	assert.Equal(t, "bob", revealed.RevealedByRef)
	assert.False(t, revealed.RevealedAt.IsZero())

	_, err = store.UpdateCardRevealed(ctx, contract, 10, "carol")
	assert.ErrorIs(t, err, card.ErrAlreadyRevealed)

	claimed, err := store.UpdateCardClaimed(ctx, contract, 10)
	require.NoError(t, err)
	assert.True(t, claimed.Claimed)

	_, err = store.UpdateCardClaimed(ctx, contract, 10)
	assert.ErrorIs(t, err, card.ErrAlreadyClaimed)

	_, err = store.UpdateCardRevealed(ctx, contract, 11, "bob")
	assert.ErrorIs(t, err, card.ErrCardNotFound)
}

func TestSQLiteStoreFindCardsByTokenIDs(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []uint64{1, 2, 3} {
		_, err := store.CreateCard(ctx, sampleCard(id))
		require.NoError(t, err)
	}

	found, err := store.FindCardsByTokenIDs(ctx, contract, []uint64{2, 3, 4})
	require.NoError(t, err)
	require.Len(t, found, 2)

	other, err := store.FindCardsByTokenIDs(ctx, "0xother", []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, other)

	none, err := store.FindCardsByTokenIDs(ctx, contract, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStoreConcurrentCreate(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.CreateCard(ctx, sampleCard(42))
			if err == nil && !res.Conflict {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestPostgresUniqueViolationIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO scratch_cards").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectExec("INSERT INTO scratch_cards").WillReturnError(&pq.Error{Code: "23502", Message: "not null"})

	store := New(db, "postgres")
	res, err := store.CreateCard(context.Background(), sampleCard(1))
	require.NoError(t, err)
	assert.True(t, res.Conflict)

	_, err = store.CreateCard(context.Background(), sampleCard(1))
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionClassifiesFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := sampleCard(5)
	gridJSON, _ := json.Marshal(c.Grid)
	outcomeJSON, _ := json.Marshal(c.Outcome)
	now := time.Now().UTC()
	columns := []string{"id", "contract_ref", "token_id", "grid", "outcome", "revealed", "claimed",
		"minter_ref", "revealed_by_ref", "revealed_at", "claimed_at", "created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE scratch_cards\s+SET claimed = TRUE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT .* FROM scratch_cards WHERE contract_ref = \$1 AND token_id = \$2`).
		WithArgs("0xabcdef0000000000000000000000000000000001", 5).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"id-5", "0xabcdef0000000000000000000000000000000001", 5, string(gridJSON), string(outcomeJSON),
			false, false, "minter", "", nil, nil, now, now))
	mock.ExpectRollback()

	store := New(db, "postgres")
	_, err = store.UpdateCardClaimed(context.Background(), contract, 5)
	assert.ErrorIs(t, err, card.ErrNotRevealed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Apply(context.Background(), db, migrations.DialectPostgres))

	store := New(db, "postgres")
	ctx := context.Background()
	tokenID := uint64(time.Now().UnixNano() & 0x7fffffff)

	res, err := store.CreateCard(ctx, sampleCard(tokenID))
	require.NoError(t, err)
	require.False(t, res.Conflict)

	dup, err := store.CreateCard(ctx, sampleCard(tokenID))
	require.NoError(t, err)
	assert.True(t, dup.Conflict)

	_, err = store.UpdateCardRevealed(ctx, contract, tokenID, "bob")
	require.NoError(t, err)
	_, err = store.UpdateCardClaimed(ctx, contract, tokenID)
	require.NoError(t, err)
	_, err = store.UpdateCardClaimed(ctx, contract, tokenID)
	assert.ErrorIs(t, err, card.ErrAlreadyClaimed)
}
