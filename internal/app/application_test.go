package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/scratchcards/internal/app/domain/card"
	"github.com/R3E-Network/scratchcards/internal/app/services/claims"
	"github.com/R3E-Network/scratchcards/internal/app/services/provisioning"
	"github.com/R3E-Network/scratchcards/internal/app/services/random"
	"github.com/R3E-Network/scratchcards/internal/app/storage/sqlstore"
	"github.com/R3E-Network/scratchcards/internal/config"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

const contract = "0x00000000000000000000000000000000000000c0"

func TestNewDefaultsToMemoryAndBuiltInPolicy(t *testing.T) {
	application, err := New(Stores{}, Options{Random: random.NewSeeded(1)}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	defer application.Stop(context.Background())

	require.NotNil(t, application.Policy)
	assert.NotEmpty(t, application.Policy.Game.PrizeAsset)

	cards, err := application.Provisioner.Provision(context.Background(), provisioning.Request{
		ContractRef: contract,
		TokenIDs:    []uint64{1, 2},
	})
	require.NoError(t, err)
	require.Len(t, cards, 2)

	// without a signer, winning cards cannot be authorized
	for _, c := range cards {
		if !c.Outcome.IsWin() {
			continue
		}
		_, err := application.Cards.Scratch(context.Background(), contract, c.TokenID, "alice")
		require.NoError(t, err)
		_, err = application.Claims.Authorize(context.Background(), claims.Request{ContractRef: contract, TokenID: c.TokenID})
		assert.ErrorIs(t, err, card.ErrSignerUnavailable)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	policy, err := config.LoadPolicy("")
	require.NoError(t, err)
	cfg := &config.Config{Policy: policy}
	cfg.Storage.Backend = config.BackendMemory
	cfg.Logging.Level = "error"
	return cfg
}

func TestOpenSQLiteRunsMigrations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.AutoMigrate = true
	cfg.Database.DSN = filepath.Join(t.TempDir(), "cards.db")
	cfg.Signer.MasterSeed = "0x00112233445566778899aabbccddeeff"

	ctx := context.Background()
	application, err := Open(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	defer application.Stop(ctx)

	_, ok := application.Store.(*sqlstore.Store)
	require.True(t, ok)

	cards, err := application.Provisioner.Provision(ctx, provisioning.Request{ContractRef: contract, TokenIDs: []uint64{7}})
	require.NoError(t, err)
	require.Len(t, cards, 1)

	stored, err := application.Cards.Get(ctx, contract, 7)
	require.NoError(t, err)
	assert.Equal(t, cards[0].ID, stored.ID)
	assert.True(t, cards[0].Outcome.Equal(stored.Outcome))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "cassandra"
	_, err := Open(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	s, err := loadSigner(config.SignerConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	seeded, err := loadSigner(config.SignerConfig{MasterSeed: "0a0b0c"})
	require.NoError(t, err)
	derived, err := claims.DeriveKeySigner([]byte{0x0a, 0x0b, 0x0c}, claims.KeyVersionV1)
	require.NoError(t, err)
	assert.Equal(t, derived.Address(), seeded.Address())

	rotated, err := loadSigner(config.SignerConfig{MasterSeed: "0a0b0c", KeyVersion: "v2"})
	require.NoError(t, err)
	assert.NotEqual(t, seeded.Address(), rotated.Address())

	_, err = loadSigner(config.SignerConfig{MasterSeed: "not hex"})
	assert.Error(t, err)

	keyed, err := loadSigner(config.SignerConfig{PrivateKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"})
	require.NoError(t, err)
	assert.NotEqual(t, [20]byte{}, [20]byte(keyed.Address()))
}
