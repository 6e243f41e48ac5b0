// Package claims issues signed payout authorizations for revealed winning
// cards and records on-chain claim confirmations.
package claims

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/metrics"
	"github.com/R3E-Network/scratchcards/internal/app/services/grids"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Defaults for Config.
const (
	DefaultDeadlineOffset   = 15 * time.Minute
	DefaultBatchConcurrency = 8
)

// Config tunes the authorizer.
type Config struct {
	DefaultDeadlineOffset time.Duration
	BatchConcurrency      int
	// PeerWinAsset is named in authorizations for peer wins, which pay 0.
	PeerWinAsset common.Address
}

// Request asks for one authorization. A zero DeadlineOffset uses the default.
type Request struct {
	ContractRef    string
	TokenID        uint64
	DeadlineOffset time.Duration
}

// Failure is one token that could not be processed in a batch.
type Failure struct {
	TokenID uint64 `json:"token_id"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// BatchResult partitions a batch authorization.
type BatchResult struct {
	Successful []card.ClaimAuthorization `json:"successful"`
	Failed     []Failure                 `json:"failed"`
}

// ConfirmResult partitions a batch confirmation.
type ConfirmResult struct {
	Successful []uint64  `json:"successful"`
	Failed     []Failure `json:"failed"`
}

// Authorizer signs claim authorizations. It reads cards but never marks them
// claimed; ConfirmClaims does that after the chain accepts the claim.
type Authorizer struct {
	store    storage.CardStore
	hasher   MessageHasher
	signer   Signer
	verifier SignatureVerifier
	decimals AssetDecimals
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// NewAuthorizer creates an authorizer. signer may be nil, in which case every
// authorization fails with card.ErrSignerUnavailable.
func NewAuthorizer(store storage.CardStore, hasher MessageHasher, signer Signer, decimals AssetDecimals, cfg Config, log *logger.Logger) *Authorizer {
	if hasher == nil {
		hasher = LocalHasher{}
	}
	if cfg.DefaultDeadlineOffset <= 0 {
		cfg.DefaultDeadlineOffset = DefaultDeadlineOffset
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if log == nil {
		log = logger.NewDefault("claims")
	}
	return &Authorizer{
		store:    store,
		hasher:   hasher,
		signer:   signer,
		decimals: decimals,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// WithVerifier adds a remote signature check after the local one.
func (a *Authorizer) WithVerifier(v SignatureVerifier) *Authorizer {
	a.verifier = v
	return a
}

// Authorize issues a signed authorization for one revealed, unclaimed,
// winning card.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (auth card.ClaimAuthorization, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordClaimAuthorization(resultLabel(err), time.Since(start))
	}()

	offset := req.DeadlineOffset
	if offset < 0 {
		return card.ClaimAuthorization{}, fmt.Errorf("%w: deadline offset must be positive", card.ErrConfiguration)
	}
	if offset == 0 {
		offset = a.cfg.DefaultDeadlineOffset
	}

	c, err := a.store.GetCard(ctx, req.ContractRef, req.TokenID)
	if err != nil {
		return card.ClaimAuthorization{}, fmt.Errorf("load card %d: %w", req.TokenID, err)
	}
	switch {
	case c.Claimed:
		return card.ClaimAuthorization{}, card.ErrAlreadyClaimed
	case !c.Revealed:
		return card.ClaimAuthorization{}, card.ErrNotRevealed
	case !c.Outcome.IsWin():
		return card.ClaimAuthorization{}, card.ErrNotWinner
	}
	if verr := grids.Verify(c.Grid, c.Outcome); verr != nil {
		a.log.WithError(verr).
			WithField("contract", req.ContractRef).
			WithField("token_id", req.TokenID).
			Error("persisted grid does not encode persisted outcome")
		return card.ClaimAuthorization{}, fmt.Errorf("%w: %v", card.ErrInconsistentGrid, verr)
	}
	if a.signer == nil {
		return card.ClaimAuthorization{}, card.ErrSignerUnavailable
	}

	msg, err := a.message(c, offset)
	if err != nil {
		return card.ClaimAuthorization{}, err
	}
	hash, err := a.hasher.MessageHash(ctx, msg)
	if err != nil {
		return card.ClaimAuthorization{}, fmt.Errorf("hash claim message: %w", err)
	}
	sig, err := a.signer.SignHash(ctx, hash)
	if err != nil {
		return card.ClaimAuthorization{}, fmt.Errorf("%w: %v", card.ErrSignerUnavailable, err)
	}
	if err := a.verify(ctx, msg, hash, sig); err != nil {
		a.log.WithError(err).WithField("token_id", req.TokenID).Error("claim signature failed self-check")
		return card.ClaimAuthorization{}, err
	}

	a.log.WithField("contract", req.ContractRef).
		WithField("token_id", req.TokenID).
		WithField("amount_units", msg.AmountUnits.String()).
		WithField("deadline", msg.Deadline).
		Info("claim authorized")

	return card.ClaimAuthorization{
		TokenID:     msg.TokenID,
		AmountUnits: msg.AmountUnits,
		Asset:       msg.Asset,
		Deadline:    msg.Deadline,
		MessageHash: hash,
		Signature:   sig,
		Signer:      a.signer.Address(),
	}, nil
}

func (a *Authorizer) message(c card.Card, offset time.Duration) (card.ClaimMessage, error) {
	msg := card.ClaimMessage{
		TokenID:  c.TokenID,
		Deadline: a.now().Unix() + int64(math.Ceil(offset.Seconds())),
	}
	switch c.Outcome.Kind {
	case card.KindAmount:
		if !common.IsHexAddress(c.Outcome.Asset) {
			return card.ClaimMessage{}, fmt.Errorf("%w: prize asset %q is not an address", card.ErrConfiguration, c.Outcome.Asset)
		}
		msg.Asset = common.HexToAddress(c.Outcome.Asset)
		msg.AmountUnits = a.decimals.Units(c.Outcome.Amount, msg.Asset)
	case card.KindPeerWin:
		msg.Asset = a.cfg.PeerWinAsset
		msg.AmountUnits = new(big.Int)
	}
	return msg, nil
}

func (a *Authorizer) verify(ctx context.Context, msg card.ClaimMessage, hash common.Hash, sig []byte) error {
	recovered, err := RecoverSigner(hash, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", card.ErrSignatureVerificationFailed, err)
	}
	if recovered != a.signer.Address() {
		return fmt.Errorf("%w: recovered %s, expected %s", card.ErrSignatureVerificationFailed, recovered.Hex(), a.signer.Address().Hex())
	}
	if a.verifier == nil {
		return nil
	}
	ok, err := a.verifier.VerifySignature(ctx, msg, sig)
	if err != nil {
		a.log.WithError(err).WithField("token_id", msg.TokenID).Warn("remote signature check unavailable; local check passed")
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: contract rejected signature", card.ErrSignatureVerificationFailed)
	}
	return nil
}

// AuthorizeBatch authorizes each token independently. One token's failure
// never affects another; failures are reported, not returned.
func (a *Authorizer) AuthorizeBatch(ctx context.Context, contractRef string, tokenIDs []uint64, offset time.Duration) BatchResult {
	var (
		mu  sync.Mutex
		res BatchResult
	)
	a.forEach(ctx, dedupe(tokenIDs), func(ctx context.Context, id uint64) {
		auth, err := a.Authorize(ctx, Request{ContractRef: contractRef, TokenID: id, DeadlineOffset: offset})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed = append(res.Failed, Failure{TokenID: id, Reason: err.Error(), Err: err})
			return
		}
		res.Successful = append(res.Successful, auth)
	})

	sort.Slice(res.Successful, func(i, j int) bool { return res.Successful[i].TokenID < res.Successful[j].TokenID })
	sortFailures(res.Failed)
	return res
}

// ConfirmClaims marks each token claimed in its own storage transaction,
// after the payout has been observed on chain.
func (a *Authorizer) ConfirmClaims(ctx context.Context, contractRef string, tokenIDs []uint64) ConfirmResult {
	var (
		mu  sync.Mutex
		res ConfirmResult
	)
	a.forEach(ctx, dedupe(tokenIDs), func(ctx context.Context, id uint64) {
		_, err := a.store.UpdateCardClaimed(ctx, contractRef, id)
		metrics.RecordClaimConfirmed(resultLabel(err))
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed = append(res.Failed, Failure{TokenID: id, Reason: err.Error(), Err: err})
			return
		}
		a.log.WithField("contract", contractRef).WithField("token_id", id).Info("claim confirmed")
		res.Successful = append(res.Successful, id)
	})

	sort.Slice(res.Successful, func(i, j int) bool { return res.Successful[i] < res.Successful[j] })
	sortFailures(res.Failed)
	return res
}

func (a *Authorizer) forEach(ctx context.Context, ids []uint64, fn func(context.Context, uint64)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.BatchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			fn(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func dedupe(ids []uint64) []uint64 {
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

func sortFailures(f []Failure) {
	sort.Slice(f, func(i, j int) bool { return f[i].TokenID < f[j].TokenID })
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, card.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, card.ErrNotRevealed):
		return "not_revealed"
	case errors.Is(err, card.ErrNotWinner):
		return "not_winner"
	case errors.Is(err, card.ErrCardNotFound):
		return "not_found"
	case errors.Is(err, card.ErrSignerUnavailable):
		return "signer_unavailable"
	case errors.Is(err, card.ErrSignatureVerificationFailed):
		return "verification_failed"
	case errors.Is(err, card.ErrInconsistentGrid):
		return "inconsistent_grid"
	default:
		return "error"
	}
}
