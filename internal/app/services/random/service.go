package random

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand/v2"
	"sync"

	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Source is the randomness consumed by the prize drawer and grid generator.
type Source interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// IntN returns a uniform value in [0, n). n must be positive.
	IntN(n int) int
}

// Service is a concurrency-safe Source backed by a ChaCha8 stream keyed from
// crypto/rand.
type Service struct {
	mu  sync.Mutex
	rng *mrand.Rand
	log *logger.Logger
}

// New constructs a random service with a fresh 32-byte seed.
func New(log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("random")
	}
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	log.Debug("random source seeded")
	return &Service{rng: mrand.New(mrand.NewChaCha8(seed)), log: log}, nil
}

// NewSeeded constructs a deterministic service. Tests and replays only.
func NewSeeded(seed uint64) *Service {
	return &Service{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), log: logger.NewNop()}
}

// Float64 implements Source.
func (s *Service) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN implements Source.
func (s *Service) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Fixed replays a scripted sequence of Float64 draws; IntN derives from the same
// sequence. It panics when exhausted.
type Fixed struct {
	mu     sync.Mutex
	values []float64
}

// NewFixed returns a Source that yields values in order.
func NewFixed(values ...float64) *Fixed {
	return &Fixed{values: values}
}

// Float64 implements Source.
func (f *Fixed) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		panic("random: fixed source exhausted")
	}
	v := f.values[0]
	f.values = f.values[1:]
	return v
}

// IntN implements Source.
func (f *Fixed) IntN(n int) int {
	i := int(f.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}
