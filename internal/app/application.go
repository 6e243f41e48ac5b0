package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/scratchcards/internal/app/services/cards"
	"github.com/R3E-Network/scratchcards/internal/app/services/claims"
	"github.com/R3E-Network/scratchcards/internal/app/services/grids"
	"github.com/R3E-Network/scratchcards/internal/app/services/prizes"
	"github.com/R3E-Network/scratchcards/internal/app/services/provisioning"
	"github.com/R3E-Network/scratchcards/internal/app/services/random"
	"github.com/R3E-Network/scratchcards/internal/app/storage"
	"github.com/R3E-Network/scratchcards/internal/app/storage/memory"
	"github.com/R3E-Network/scratchcards/internal/app/system"
	"github.com/R3E-Network/scratchcards/internal/config"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Cards storage.CardStore
}

// Options carries everything besides storage that the services need.
type Options struct {
	// Policy is the game; nil loads the built-in reference policy.
	Policy *config.Policy
	Claims config.ClaimsConfig
	// Signer may be nil, in which case claim authorization reports the signer
	// as unavailable.
	Signer claims.Signer
	// RemoteHasher and Verifier are the claim contract; nil keeps hashing
	// local and skips remote verification.
	RemoteHasher claims.MessageHasher
	Verifier     claims.SignatureVerifier
	// Random defaults to a crypto-seeded source.
	Random random.Source
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store       storage.CardStore
	Policy      *config.Policy
	Cards       *cards.Service
	Provisioner *provisioning.Provisioner
	Claims      *claims.Authorizer
	Hasher      *claims.FallbackHasher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Cards == nil {
		log.Warn("no card store configured; using in-memory store")
		stores.Cards = memory.New()
	}

	policy := opts.Policy
	if policy == nil {
		loaded, err := config.LoadPolicy("")
		if err != nil {
			return nil, fmt.Errorf("load built-in policy: %w", err)
		}
		policy = loaded
	}

	src := opts.Random
	if src == nil {
		svc, err := random.New(log)
		if err != nil {
			return nil, fmt.Errorf("init random source: %w", err)
		}
		src = svc
	}

	drawer, err := prizes.NewDrawer(policy.Prizes, src)
	if err != nil {
		return nil, fmt.Errorf("build prize drawer: %w", err)
	}
	generator := grids.NewGenerator(src, policy.Grids, log)
	provisioner, err := provisioning.New(stores.Cards, drawer, generator, policy.Game, log)
	if err != nil {
		return nil, fmt.Errorf("build provisioner: %w", err)
	}

	hasher := claims.NewFallbackHasher(opts.RemoteHasher, log)
	authorizer := claims.NewAuthorizer(stores.Cards, hasher, opts.Signer, policy.AssetDecimals, claims.Config{
		DefaultDeadlineOffset: opts.Claims.DeadlineOffset,
		BatchConcurrency:      opts.Claims.BatchConcurrency,
		PeerWinAsset:          policy.PeerWinAsset,
	}, log)
	if opts.Verifier != nil {
		authorizer.WithVerifier(opts.Verifier)
	}
	if opts.Signer == nil {
		log.Warn("claim signer not configured; claim authorization disabled")
	} else {
		log.WithField("signer", opts.Signer.Address().Hex()).Info("claim signer loaded")
	}

	manager := system.NewManager()
	if err := manager.Register(system.Func{
		ServiceName: "claim-hash-check",
		OnStart:     hasher.Check,
	}); err != nil {
		return nil, fmt.Errorf("register claim hash check: %w", err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Store:       stores.Cards,
		Policy:      policy,
		Cards:       cards.New(stores.Cards, log),
		Provisioner: provisioner,
		Claims:      authorizer,
		Hasher:      hasher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
