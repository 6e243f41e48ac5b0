package grids

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/services/random"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decoyAmounts() []decimal.Decimal {
	return []decimal.Decimal{dec("0.5"), dec("0.75"), dec("1"), dec("1.5"), dec("2"), dec("5"), dec("10")}
}

func peers(n int) []card.Peer {
	out := make([]card.Peer, n)
	for i := range out {
		out[i] = card.Peer{ID: fmt.Sprintf("peer-%d", i), DisplayName: fmt.Sprintf("Peer %d", i)}
	}
	return out
}

func newGenerator(seed uint64) *Generator {
	return NewGenerator(random.NewSeeded(seed), DefaultSettings(), logger.NewNop())
}

func TestGenerateHoldsInvariantForAllOutcomes(t *testing.T) {
	outcomes := []card.Outcome{
		card.NoWin(),
		card.PeerWin(),
		card.AmountOf(dec("0.5"), ""),
		card.AmountOf(dec("2"), ""),
		card.AmountOf(dec("5"), ""),
	}
	pools := map[string][]card.Peer{"no peers": nil, "one peer": peers(1), "many peers": peers(6)}

	for poolName, pool := range pools {
		for _, outcome := range outcomes {
			if outcome.Kind == card.KindPeerWin && len(pool) == 0 {
				continue
			}
			t.Run(poolName+"/"+outcome.String(), func(t *testing.T) {
				gen := newGenerator(uint64(len(pool)) + 11)
				for i := 0; i < 300; i++ {
					res, err := gen.Generate(GenerateRequest{
						Outcome:      outcome,
						PrizeAsset:   "0xPRIZE",
						DecoyAmounts: decoyAmounts(),
						DecoyAssets:  []string{"0xPRIZE", "0xOTHER"},
						PeerPool:     pool,
					})
					require.NoError(t, err)

					expected := outcome.WithAsset("0xPRIZE")
					row, ok := FindWinningRow(res.Grid, expected)
					require.Equal(t, outcome.IsWin(), ok)
					if ok {
						require.Equal(t, res.WinningRow, row)
						require.Len(t, MatchingRows(res.Grid), 1)
					} else {
						require.Equal(t, -1, res.WinningRow)
						require.Empty(t, MatchingRows(res.Grid))
					}
				}
			})
		}
	}
}

func TestGenerateRoundTripAmount(t *testing.T) {
	gen := newGenerator(99)
	outcome := card.AmountOf(dec("2"), "ASSET_X")

	res, err := gen.Generate(GenerateRequest{
		Outcome:      outcome,
		PrizeAsset:   "ASSET_X",
		DecoyAmounts: decoyAmounts(),
		DecoyAssets:  []string{"ASSET_X", "ASSET_Y"},
	})
	require.NoError(t, err)

	row, ok := FindWinningRow(res.Grid, outcome)
	require.True(t, ok)
	assert.Equal(t, res.WinningRow, row)
	for _, c := range res.Grid.Row(row) {
		assert.True(t, c.Amount.Equal(dec("2")))
		assert.Equal(t, "ASSET_X", c.Asset)
		assert.Nil(t, c.Peer)
	}
}

func TestGeneratePeerWinUsesOnePeer(t *testing.T) {
	gen := newGenerator(5)
	pool := peers(3)

	res, err := gen.Generate(GenerateRequest{
		Outcome:      card.PeerWin(),
		PrizeAsset:   "0xPRIZE",
		DecoyAmounts: decoyAmounts(),
		DecoyAssets:  []string{"0xPRIZE"},
		PeerPool:     pool,
	})
	require.NoError(t, err)

	peer, ok := RewardedPeer(res.Grid, card.PeerWin())
	require.True(t, ok)
	for _, c := range res.Grid.Row(res.WinningRow) {
		require.NotNil(t, c.Peer)
		assert.Equal(t, peer.ID, c.Peer.ID)
		assert.Empty(t, c.Asset)
		assert.True(t, c.Amount.IsZero())
	}
}

func TestGenerateFlagsDegenerateDecoyPool(t *testing.T) {
	gen := newGenerator(1)

	_, err := gen.Generate(GenerateRequest{
		Outcome:      card.NoWin(),
		PrizeAsset:   "A",
		DecoyAmounts: []decimal.Decimal{dec("1")},
		DecoyAssets:  []string{"A"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, card.ErrUnintendedMatch))
	assert.True(t, errors.Is(err, card.ErrConfiguration))
}

func TestGenerateDegeneratePoolRescuedByPeers(t *testing.T) {
	gen := NewGenerator(random.NewSeeded(8), Settings{PeerCellProbability: 0.5}, logger.NewNop())

	res, err := gen.Generate(GenerateRequest{
		Outcome:      card.NoWin(),
		PrizeAsset:   "A",
		DecoyAmounts: []decimal.Decimal{dec("1")},
		DecoyAssets:  []string{"A"},
		PeerPool:     peers(4),
	})
	require.NoError(t, err)
	assert.Empty(t, MatchingRows(res.Grid))
}

func TestGenerateRejectsBadConfiguration(t *testing.T) {
	gen := newGenerator(2)
	base := GenerateRequest{
		Outcome:      card.NoWin(),
		PrizeAsset:   "A",
		DecoyAmounts: decoyAmounts(),
		DecoyAssets:  []string{"A"},
	}

	cases := map[string]func(r *GenerateRequest){
		"no decoy amounts":     func(r *GenerateRequest) { r.DecoyAmounts = nil },
		"no decoy assets":      func(r *GenerateRequest) { r.DecoyAssets = nil },
		"peer win no pool":     func(r *GenerateRequest) { r.Outcome = card.PeerWin() },
		"amount without asset": func(r *GenerateRequest) { r.Outcome = card.AmountOf(dec("1"), ""); r.PrizeAsset = "" },
		"non positive amount":  func(r *GenerateRequest) { r.Outcome = card.AmountOf(dec("0"), "A") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := gen.Generate(req)
			assert.ErrorIs(t, err, card.ErrConfiguration)
		})
	}
}

func TestNewGeneratorAppliesDefaults(t *testing.T) {
	gen := NewGenerator(random.NewSeeded(1), Settings{PeerCellProbability: 4}, nil)
	assert.Equal(t, DefaultSettings(), gen.settings)
}
