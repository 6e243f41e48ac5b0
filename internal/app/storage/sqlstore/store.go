// Package sqlstore implements storage.CardStore on PostgreSQL or SQLite
// through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store implements storage.CardStore backed by a SQL database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.CardStore = (*Store)(nil)

// New wraps an open database handle. driverName selects the placeholder
// style ("postgres" or "sqlite").
func New(db *sql.DB, driverName string) *Store {
	return &Store{
		db:  sqlx.NewDb(db, driverName),
		now: func() time.Time { return time.Now().UTC() },
	}
}

type cardRow struct {
	ID            string       `db:"id"`
	ContractRef   string       `db:"contract_ref"`
	TokenID       uint64       `db:"token_id"`
	Grid          string       `db:"grid"`
	Outcome       string       `db:"outcome"`
	Revealed      bool         `db:"revealed"`
	Claimed       bool         `db:"claimed"`
	MinterRef     string       `db:"minter_ref"`
	RevealedByRef string       `db:"revealed_by_ref"`
	RevealedAt    sql.NullTime `db:"revealed_at"`
	ClaimedAt     sql.NullTime `db:"claimed_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

const selectCard = `
	SELECT id, contract_ref, token_id, grid, outcome, revealed, claimed, minter_ref,
	       revealed_by_ref, revealed_at, claimed_at, created_at, updated_at
	FROM scratch_cards`

func (r cardRow) toCard() (card.Card, error) {
	c := card.Card{
		ID:            r.ID,
		TokenID:       r.TokenID,
		ContractRef:   r.ContractRef,
		Revealed:      r.Revealed,
		Claimed:       r.Claimed,
		MinterRef:     r.MinterRef,
		RevealedByRef: r.RevealedByRef,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.RevealedAt.Valid {
		c.RevealedAt = r.RevealedAt.Time.UTC()
	}
	if r.ClaimedAt.Valid {
		c.ClaimedAt = r.ClaimedAt.Time.UTC()
	}
	if err := json.Unmarshal([]byte(r.Grid), &c.Grid); err != nil {
		return card.Card{}, fmt.Errorf("decode grid for token %d: %w", r.TokenID, err)
	}
	if err := json.Unmarshal([]byte(r.Outcome), &c.Outcome); err != nil {
		return card.Card{}, fmt.Errorf("decode outcome for token %d: %w", r.TokenID, err)
	}
	return c, nil
}

func normalize(contractRef string) string { return strings.ToLower(contractRef) }

func (s *Store) FindCardsByTokenIDs(ctx context.Context, contractRef string, tokenIDs []uint64) ([]card.Card, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(selectCard+` WHERE contract_ref = ? AND token_id IN (?)`, normalize(contractRef), tokenIDs)
	if err != nil {
		return nil, err
	}

	var rows []cardRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]card.Card, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCard()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) GetCard(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	return getCard(ctx, s.db, contractRef, tokenID)
}

type queryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func getCard(ctx context.Context, q queryer, contractRef string, tokenID uint64) (card.Card, error) {
	var r cardRow
	err := sqlx.GetContext(ctx, q, &r, q.Rebind(selectCard+` WHERE contract_ref = ? AND token_id = ?`), normalize(contractRef), tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return card.Card{}, card.ErrCardNotFound
	}
	if err != nil {
		return card.Card{}, err
	}
	return r.toCard()
}

func (s *Store) CreateCard(ctx context.Context, c card.Card) (storage.CreateResult, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.ContractRef = normalize(c.ContractRef)
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	gridJSON, err := json.Marshal(c.Grid)
	if err != nil {
		return storage.CreateResult{}, err
	}
	outcomeJSON, err := json.Marshal(c.Outcome)
	if err != nil {
		return storage.CreateResult{}, err
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO scratch_cards (id, contract_ref, token_id, grid, outcome, revealed, claimed,
		                           minter_ref, revealed_by_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, FALSE, FALSE, ?, '', ?, ?)
	`), c.ID, c.ContractRef, c.TokenID, string(gridJSON), string(outcomeJSON), c.MinterRef, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.Conflict(), nil
	}
	if err != nil {
		return storage.CreateResult{}, err
	}

	c.Revealed, c.Claimed, c.RevealedByRef = false, false, ""
	c.RevealedAt, c.ClaimedAt = time.Time{}, time.Time{}
	return storage.Created(c), nil
}

func (s *Store) UpdateCardRevealed(ctx context.Context, contractRef string, tokenID uint64, revealedBy string) (card.Card, error) {
	now := s.now()
	return s.transition(ctx, contractRef, tokenID, `
		UPDATE scratch_cards
		SET revealed = TRUE, revealed_by_ref = ?, revealed_at = ?, updated_at = ?
		WHERE contract_ref = ? AND token_id = ? AND revealed = FALSE
	`, []any{revealedBy, now, now}, func(c card.Card) error {
		if c.Revealed {
			return card.ErrAlreadyRevealed
		}
		return nil
	})
}

func (s *Store) UpdateCardClaimed(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	now := s.now()
	return s.transition(ctx, contractRef, tokenID, `
		UPDATE scratch_cards
		SET claimed = TRUE, claimed_at = ?, updated_at = ?
		WHERE contract_ref = ? AND token_id = ? AND revealed = TRUE AND claimed = FALSE
	`, []any{now, now}, func(c card.Card) error {
		if c.Claimed {
			return card.ErrAlreadyClaimed
		}
		if !c.Revealed {
			return card.ErrNotRevealed
		}
		return nil
	})
}

// transition runs a conditional UPDATE. When no row changes, the current row
// is read back inside the same transaction and classify names the reason.
func (s *Store) transition(ctx context.Context, contractRef string, tokenID uint64, update string, setArgs []any, classify func(card.Card) error) (card.Card, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return card.Card{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	args := append(setArgs, normalize(contractRef), tokenID)
	res, err := tx.ExecContext(ctx, tx.Rebind(update), args...)
	if err != nil {
		return card.Card{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return card.Card{}, err
	}

	current, err := getCard(ctx, tx, contractRef, tokenID)
	if err != nil {
		return card.Card{}, err
	}
	if affected == 0 {
		if err := classify(current); err != nil {
			return card.Card{}, err
		}
		return card.Card{}, fmt.Errorf("token %d: transition not applied", tokenID)
	}
	if err := tx.Commit(); err != nil {
		return card.Card{}, err
	}
	return current, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
