// Package redisstore implements storage.CardStore on Redis. Each card is a
// JSON document under its own key; transitions are optimistic WATCH/MULTI
// transactions on that key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
)

const (
	keyCard = "scratchcards:card:%s:%d"

	maxTxRetries = 8
)

// ErrTxContention is returned when a card key kept changing under WATCH.
var ErrTxContention = errors.New("redisstore: too much contention on card key")

// Store implements storage.CardStore backed by Redis.
type Store struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ storage.CardStore = (*Store)(nil)

// New wraps a connected client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func cardKey(contractRef string, tokenID uint64) string {
	return fmt.Sprintf(keyCard, strings.ToLower(contractRef), tokenID)
}

func decode(data string) (card.Card, error) {
	var c card.Card
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return card.Card{}, fmt.Errorf("decode card: %w", err)
	}
	return c, nil
}

func (s *Store) FindCardsByTokenIDs(ctx context.Context, contractRef string, tokenIDs []uint64) ([]card.Card, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokenIDs))
	for i, id := range tokenIDs {
		cmds[i] = pipe.Get(ctx, cardKey(contractRef, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	var out []card.Card
	seen := make(map[uint64]bool, len(tokenIDs))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) || seen[tokenIDs[i]] {
			continue
		}
		if err != nil {
			return nil, err
		}
		c, err := decode(data)
		if err != nil {
			return nil, err
		}
		seen[tokenIDs[i]] = true
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) GetCard(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	data, err := s.client.Get(ctx, cardKey(contractRef, tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return card.Card{}, card.ErrCardNotFound
	}
	if err != nil {
		return card.Card{}, err
	}
	return decode(data)
}

func (s *Store) CreateCard(ctx context.Context, c card.Card) (storage.CreateResult, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.ContractRef = strings.ToLower(c.ContractRef)
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Revealed, c.Claimed = false, false

	data, err := json.Marshal(c)
	if err != nil {
		return storage.CreateResult{}, err
	}
	ok, err := s.client.SetNX(ctx, cardKey(c.ContractRef, c.TokenID), data, 0).Result()
	if err != nil {
		return storage.CreateResult{}, err
	}
	if !ok {
		return storage.Conflict(), nil
	}
	return storage.Created(c), nil
}

func (s *Store) UpdateCardRevealed(ctx context.Context, contractRef string, tokenID uint64, revealedBy string) (card.Card, error) {
	return s.transition(ctx, contractRef, tokenID, func(c *card.Card, now time.Time) error {
		if c.Revealed {
			return card.ErrAlreadyRevealed
		}
		c.Revealed = true
		c.RevealedByRef = revealedBy
		c.RevealedAt = now
		return nil
	})
}

func (s *Store) UpdateCardClaimed(ctx context.Context, contractRef string, tokenID uint64) (card.Card, error) {
	return s.transition(ctx, contractRef, tokenID, func(c *card.Card, now time.Time) error {
		if c.Claimed {
			return card.ErrAlreadyClaimed
		}
		if !c.Revealed {
			return card.ErrNotRevealed
		}
		c.Claimed = true
		c.ClaimedAt = now
		return nil
	})
}

func (s *Store) transition(ctx context.Context, contractRef string, tokenID uint64, apply func(*card.Card, time.Time) error) (card.Card, error) {
	key := cardKey(contractRef, tokenID)
	var updated card.Card

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return card.ErrCardNotFound
		}
		if err != nil {
			return err
		}
		c, err := decode(data)
		if err != nil {
			return err
		}
		now := s.now()
		if err := apply(&c, now); err != nil {
			return err
		}
		c.UpdatedAt = now

		encoded, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			updated = c
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return card.Card{}, err
		}
		return updated, nil
	}
	return card.Card{}, ErrTxContention
}
