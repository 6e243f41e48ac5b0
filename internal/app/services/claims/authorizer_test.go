package claims

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/services/grids"
	"github.com/R3E-Network/scratchcards/internal/app/services/random"
	"github.com/R3E-Network/scratchcards/internal/app/storage/memory"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

const (
	contractRef = "0x00000000000000000000000000000000000000c0"
	usdc        = "0x00000000000000000000000000000000000000aa"
)

var fixedNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	store  *memory.Store
	signer *KeySigner
	auth   *Authorizer
	gen    *grids.Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := DeriveKeySigner([]byte("authorizer-test-seed"), KeyVersionV1)
	require.NoError(t, err)
	decimals, err := NewAssetDecimals(map[string]int32{usdc: 6})
	require.NoError(t, err)

	store := memory.New()
	auth := NewAuthorizer(store, LocalHasher{}, signer, decimals, Config{}, logger.NewNop())
	auth.now = func() time.Time { return fixedNow }
	gen := grids.NewGenerator(random.NewSeeded(3), grids.DefaultSettings(), logger.NewNop())
	return &fixture{store: store, signer: signer, auth: auth, gen: gen}
}

// seed stores a card for outcome and optionally reveals it.
func (f *fixture) seed(t *testing.T, tokenID uint64, outcome card.Outcome, reveal bool) {
	t.Helper()
	peers := []card.Peer{{ID: "peer-a"}, {ID: "peer-b"}}
	res, err := f.gen.Generate(grids.GenerateRequest{
		Outcome:      outcome,
		PrizeAsset:   usdc,
		DecoyAmounts: []decimal.Decimal{decimal.RequireFromString("0.5"), decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.NewFromInt(5)},
		DecoyAssets:  []string{usdc},
		PeerPool:     peers,
	})
	require.NoError(t, err)
	_, err = f.store.CreateCard(context.Background(), card.Card{
		TokenID:     tokenID,
		ContractRef: contractRef,
		Grid:        res.Grid,
		Outcome:     outcome.WithAsset(usdc),
	})
	require.NoError(t, err)
	if reveal {
		_, err = f.store.UpdateCardRevealed(context.Background(), contractRef, tokenID, "owner")
		require.NoError(t, err)
	}
}

func TestAuthorizeAmountWin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, card.AmountOf(decimal.RequireFromString("0.75"), usdc), true)

	auth, err := f.auth.Authorize(context.Background(), Request{ContractRef: contractRef, TokenID: 1, DeadlineOffset: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), auth.TokenID)
	assert.Equal(t, big.NewInt(750_000), auth.AmountUnits)
	assert.Equal(t, common.HexToAddress(usdc), auth.Asset)
	assert.Equal(t, fixedNow.Unix()+60, auth.Deadline)
	assert.Greater(t, auth.Deadline, fixedNow.Unix())
	require.Len(t, auth.Signature, 65)
	assert.Contains(t, []byte{27, 28}, auth.Signature[64])
	assert.Equal(t, f.signer.Address(), auth.Signer)

	expected, err := LocalHasher{}.MessageHash(context.Background(), card.ClaimMessage{
		TokenID: 1, AmountUnits: big.NewInt(750_000), Asset: common.HexToAddress(usdc), Deadline: auth.Deadline,
	})
	require.NoError(t, err)
	assert.Equal(t, expected, auth.MessageHash)

	recovered, err := RecoverSigner(auth.MessageHash, auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, f.signer.Address(), recovered)

	// authorizing never claims
	c, err := f.store.GetCard(context.Background(), contractRef, 1)
	require.NoError(t, err)
	assert.False(t, c.Claimed)
}

func TestAuthorizeIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, card.AmountOf(decimal.NewFromInt(2), usdc), true)

	req := Request{ContractRef: contractRef, TokenID: 2, DeadlineOffset: time.Hour}
	first, err := f.auth.Authorize(context.Background(), req)
	require.NoError(t, err)
	second, err := f.auth.Authorize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.MessageHash, second.MessageHash)
	assert.Equal(t, first.Signature, second.Signature, "RFC 6979 signatures are deterministic")
}

func TestAuthorizePeerWinAuthorizesZero(t *testing.T) {
	f := newFixture(t)
	f.auth.cfg.PeerWinAsset = common.HexToAddress(usdc)
	f.seed(t, 3, card.PeerWin(), true)

	auth, err := f.auth.Authorize(context.Background(), Request{ContractRef: contractRef, TokenID: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, auth.AmountUnits.Sign())
	assert.Equal(t, fixedNow.Add(DefaultDeadlineOffset).Unix(), auth.Deadline)
}

func TestAuthorizeStateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 10, card.AmountOf(decimal.NewFromInt(1), usdc), false)
	f.seed(t, 11, card.NoWin(), true)
	f.seed(t, 12, card.AmountOf(decimal.NewFromInt(1), usdc), true)
	_, err := f.store.UpdateCardClaimed(ctx, contractRef, 12)
	require.NoError(t, err)

	cases := map[uint64]error{
		10: card.ErrNotRevealed,
		11: card.ErrNotWinner,
		12: card.ErrAlreadyClaimed,
		13: card.ErrCardNotFound,
	}
	for id, want := range cases {
		_, err := f.auth.Authorize(ctx, Request{ContractRef: contractRef, TokenID: id})
		assert.ErrorIs(t, err, want, "token %d", id)
	}

	_, err = f.auth.Authorize(ctx, Request{ContractRef: contractRef, TokenID: 10, DeadlineOffset: -time.Second})
	assert.ErrorIs(t, err, card.ErrConfiguration)
}

func TestAuthorizeWithoutSigner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 4, card.AmountOf(decimal.NewFromInt(1), usdc), true)
	f.auth.signer = nil

	_, err := f.auth.Authorize(context.Background(), Request{ContractRef: contractRef, TokenID: 4})
	assert.ErrorIs(t, err, card.ErrSignerUnavailable)
}

func TestAuthorizeDetectsInconsistentGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var g card.Grid
	for i := range g {
		g[i] = card.AmountCell(decimal.NewFromInt(int64(i%2+1)), usdc)
	}
	_, err := f.store.CreateCard(ctx, card.Card{
		TokenID: 5, ContractRef: contractRef, Grid: g,
		Outcome: card.AmountOf(decimal.NewFromInt(5), usdc),
	})
	require.NoError(t, err)
	_, err = f.store.UpdateCardRevealed(ctx, contractRef, 5, "owner")
	require.NoError(t, err)

	_, err = f.auth.Authorize(ctx, Request{ContractRef: contractRef, TokenID: 5})
	assert.ErrorIs(t, err, card.ErrInconsistentGrid)
}

// wrongSigner signs with one key but reports another address.
type wrongSigner struct {
	*KeySigner
	claimed common.Address
}

func (w wrongSigner) Address() common.Address { return w.claimed }

func TestAuthorizeRejectsUnverifiableSignature(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 6, card.AmountOf(decimal.NewFromInt(1), usdc), true)
	other, err := DeriveKeySigner([]byte("other-seed"), KeyVersionV1)
	require.NoError(t, err)
	f.auth.signer = wrongSigner{KeySigner: f.signer, claimed: other.Address()}

	auth, err := f.auth.Authorize(context.Background(), Request{ContractRef: contractRef, TokenID: 6})
	assert.ErrorIs(t, err, card.ErrSignatureVerificationFailed)
	assert.Nil(t, auth.Signature)
}

type stubVerifier struct {
	ok  bool
	err error
}

func (s stubVerifier) VerifySignature(context.Context, card.ClaimMessage, []byte) (bool, error) {
	return s.ok, s.err
}

func TestAuthorizeRemoteVerification(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 7, card.AmountOf(decimal.NewFromInt(1), usdc), true)
	req := Request{ContractRef: contractRef, TokenID: 7}

	f.auth.WithVerifier(stubVerifier{ok: false})
	_, err := f.auth.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, card.ErrSignatureVerificationFailed)

	f.auth.WithVerifier(stubVerifier{err: errors.New("rpc down")})
	_, err = f.auth.Authorize(context.Background(), req)
	assert.NoError(t, err)

	f.auth.WithVerifier(stubVerifier{ok: true})
	_, err = f.auth.Authorize(context.Background(), req)
	assert.NoError(t, err)
}

func TestAuthorizeBatchIsPerToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 20, card.AmountOf(decimal.NewFromInt(1), usdc), true)
	f.seed(t, 21, card.NoWin(), true)
	f.seed(t, 22, card.AmountOf(decimal.NewFromInt(2), usdc), true)

	res := f.auth.AuthorizeBatch(context.Background(), contractRef, []uint64{22, 21, 20, 23, 20}, time.Minute)

	require.Len(t, res.Successful, 2)
	assert.Equal(t, uint64(20), res.Successful[0].TokenID)
	assert.Equal(t, uint64(22), res.Successful[1].TokenID)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, uint64(21), res.Failed[0].TokenID)
	assert.ErrorIs(t, res.Failed[0].Err, card.ErrNotWinner)
	assert.Equal(t, uint64(23), res.Failed[1].TokenID)
	assert.ErrorIs(t, res.Failed[1].Err, card.ErrCardNotFound)
}

func TestConfirmClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 30, card.AmountOf(decimal.NewFromInt(1), usdc), true)
	f.seed(t, 31, card.AmountOf(decimal.NewFromInt(1), usdc), false)

	res := f.auth.ConfirmClaims(ctx, contractRef, []uint64{31, 30})
	assert.Equal(t, []uint64{30}, res.Successful)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, card.ErrNotRevealed)

	again := f.auth.ConfirmClaims(ctx, contractRef, []uint64{30})
	assert.Empty(t, again.Successful)
	require.Len(t, again.Failed, 1)
	assert.ErrorIs(t, again.Failed[0].Err, card.ErrAlreadyClaimed)

	_, err := f.auth.Authorize(ctx, Request{ContractRef: contractRef, TokenID: 30})
	assert.ErrorIs(t, err, card.ErrAlreadyClaimed)
}
