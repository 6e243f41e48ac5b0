package app

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/R3E-Network/scratchcards/internal/app/services/claims"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
	"github.com/R3E-Network/scratchcards/internal/app/storage/memory"
	"github.com/R3E-Network/scratchcards/internal/app/storage/redisstore"
	"github.com/R3E-Network/scratchcards/internal/app/storage/sqlstore"
	"github.com/R3E-Network/scratchcards/internal/app/system"
	"github.com/R3E-Network/scratchcards/internal/chain"
	"github.com/R3E-Network/scratchcards/internal/config"
	"github.com/R3E-Network/scratchcards/internal/platform/migrations"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Open builds the application described by cfg: it connects the configured
// store (applying migrations when asked), dials the claim contract and loads
// the signer. Connections are closed by Stop.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging.LoggerConfig())
	}

	var closers []system.Func
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Stop(ctx)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, system.Func{ServiceName: "card-store", OnStop: closeStore})
	}

	opts := Options{Policy: cfg.Policy, Claims: cfg.Claims}

	if cfg.Chain.RPCURL != "" {
		client, err := chain.Dial(ctx, chain.Config{
			RPCURL:       cfg.Chain.RPCURL,
			ClaimAddress: cfg.Chain.ClaimContract,
			Timeout:      cfg.Chain.CallTimeout,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, system.Func{ServiceName: "chain-client", OnStop: func(context.Context) error {
			client.Close()
			return nil
		}})
		contract, err := chain.NewClaimContract(client, cfg.Chain.ClaimContract, cfg.Chain.CallTimeout)
		if err != nil {
			cleanup()
			return nil, err
		}
		opts.RemoteHasher = contract
		opts.Verifier = contract
		log.WithField("contract", contract.Address().Hex()).Info("claim contract configured")
	} else {
		log.Warn("CHAIN_RPC_URL not set; claim hashes computed locally without remote verification")
	}

	signer, err := loadSigner(cfg.Signer)
	if err != nil {
		cleanup()
		return nil, err
	}
	if signer != nil {
		opts.Signer = signer
	}

	application, err := New(Stores{Cards: store}, opts, log)
	if err != nil {
		cleanup()
		return nil, err
	}
	for _, c := range closers {
		if err := application.Attach(c); err != nil {
			cleanup()
			return nil, err
		}
	}
	return application, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.CardStore, func(context.Context) error, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.New(), nil, nil

	case config.BackendRedis:
		client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("addr", cfg.Redis.Addr).Info("redis card store connected")
		return redisstore.New(client), func(context.Context) error { return client.Close() }, nil

	case config.BackendPostgres, config.BackendSQLite:
		db, err := openDatabase(ctx, cfg.Storage.Backend, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.AutoMigrate {
			if err := migrations.Apply(ctx, db, cfg.Storage.Backend); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("apply migrations: %w", err)
			}
			if v, dirty, err := migrations.Version(ctx, db, cfg.Storage.Backend); err == nil {
				log.WithField("version", v).WithField("dirty", dirty).Info("schema migrated")
			}
		}
		log.WithField("driver", cfg.Storage.Backend).Info("sql card store connected")
		return sqlstore.New(db, cfg.Storage.Backend), func(context.Context) error { return db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// openDatabase opens a pooled handle and verifies it with a ping. The driver
// names match the backend names: lib/pq registers "postgres" and
// modernc.org/sqlite registers "sqlite".
func openDatabase(ctx context.Context, driver string, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == config.BackendSQLite {
		// one writer avoids SQLITE_BUSY under concurrent transitions
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// loadSigner returns nil when neither a key nor a seed is configured.
func loadSigner(cfg config.SignerConfig) (claims.Signer, error) {
	switch {
	case strings.TrimSpace(cfg.PrivateKey) != "":
		return claims.NewKeySigner(cfg.PrivateKey)
	case strings.TrimSpace(cfg.MasterSeed) != "":
		raw := strings.TrimPrefix(strings.TrimSpace(cfg.MasterSeed), "0x")
		seed, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("CLAIM_SIGNER_SEED must be hex: %w", err)
		}
		version := cfg.KeyVersion
		if strings.TrimSpace(version) == "" {
			version = claims.KeyVersionV1
		}
		return claims.DeriveKeySigner(seed, version)
	default:
		return nil, nil
	}
}
