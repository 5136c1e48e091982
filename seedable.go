package traits

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/goliatone/go-traits/pkg/observe"
)

// fallbackSeed supplies the base seed for instances that were never rooted.
// Unseeded use stays random; tests swap the function to pin it.
var fallbackSeed = func() int64 { return time.Now().UnixNano() }

// SeedRecord captures one seeding event in an instance's history.
type SeedRecord struct {
	Seed int64
	Key  string
	At   time.Time
}

// Seedable adds reproducible seeding to any type that embeds it. The zero
// value is ready to use; bookkeeping is created lazily on the first seeded
// call.
//
// Seeds for calls without an explicit seed are derived deterministically from
// the innermost active seed (or the root seed at depth zero), the seed key,
// and a per-key call counter, so a fixed root seed and call sequence always
// reproduce the same seeds. Nested seeded calls derive from the enclosing
// active seed rather than overwriting it.
//
// A Seedable instance is not safe for concurrent use; callers sharing one
// across goroutines must synchronize externally.
type Seedable struct {
	root     *int64
	history  []SeedRecord
	counters map[string]uint64
	active   []activeSeed
	emitter  *observe.Emitter
}

type activeSeed struct {
	seed int64
	rng  *rand.Rand
}

// SeedOption configures a single seeded call.
type SeedOption func(*seedCall)

type seedCall struct {
	seed   *int64
	subKey string
}

// WithSeed supplies an explicit seed used verbatim for the call.
func WithSeed(seed int64) SeedOption {
	return func(call *seedCall) {
		call.seed = &seed
	}
}

// WithSeedKey appends a sub-key to the call's seed key, disambiguating
// multiple seeded regions inside one method.
func WithSeedKey(sub string) SeedOption {
	return func(call *seedCall) {
		call.subKey = sub
	}
}

// SetRootSeed fixes the seed every depth-zero derivation starts from.
func (s *Seedable) SetRootSeed(seed int64) {
	s.root = &seed
}

// RootSeed returns the root seed, if one was ever set.
func (s *Seedable) RootSeed() (int64, bool) {
	if s.root == nil {
		return 0, false
	}
	return *s.root, true
}

// Observe routes seeding events through emitter. A nil emitter disables
// emission.
func (s *Seedable) Observe(emitter *observe.Emitter) {
	s.emitter = emitter
}

// RunSeeded resolves a seed for key, records it, and runs fn with a
// pseudo-random source initialized from that seed. The seed stays on the
// active stack for the duration of the call and is popped on every exit path,
// so nested seeded calls derive from it and the enclosing context is restored
// even when fn fails or panics.
func (s *Seedable) RunSeeded(key string, fn func(*rand.Rand) error, opts ...SeedOption) error {
	rng := s.beginSeeded(key, opts)
	defer s.endSeeded()
	return fn(rng)
}

// SeededResult is RunSeeded for value-returning methods.
func SeededResult[T any](s *Seedable, key string, fn func(*rand.Rand) (T, error), opts ...SeedOption) (T, error) {
	rng := s.beginSeeded(key, opts)
	defer s.endSeeded()
	return fn(rng)
}

// LastSeed returns the most recently recorded seed for key.
func (s *Seedable) LastSeed(key string) (int64, bool) {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Key == key {
			return s.history[i].Seed, true
		}
	}
	return 0, false
}

// SeedHistory returns a defensive copy of the append-only seed history.
func (s *Seedable) SeedHistory() []SeedRecord {
	if len(s.history) == 0 {
		return nil
	}
	out := make([]SeedRecord, len(s.history))
	copy(out, s.history)
	return out
}

// ActiveSeed returns the innermost active seed while a seeded call is in
// progress.
func (s *Seedable) ActiveSeed() (int64, bool) {
	if len(s.active) == 0 {
		return 0, false
	}
	return s.active[len(s.active)-1].seed, true
}

// ActiveRNG returns the pseudo-random source of the innermost seeded call,
// for helpers that run deep inside one.
func (s *Seedable) ActiveRNG() (*rand.Rand, bool) {
	if len(s.active) == 0 {
		return nil, false
	}
	return s.active[len(s.active)-1].rng, true
}

func (s *Seedable) beginSeeded(key string, opts []SeedOption) *rand.Rand {
	call := seedCall{}
	for _, opt := range opts {
		if opt != nil {
			opt(&call)
		}
	}
	effective := key
	if call.subKey != "" {
		effective = key + ":" + call.subKey
	}

	if s.counters == nil {
		s.counters = map[string]uint64{}
	}
	counter := s.counters[effective]
	s.counters[effective] = counter + 1

	var seed int64
	if call.seed != nil {
		seed = *call.seed
	} else {
		seed = s.deriveSeed(effective, counter)
	}

	s.history = append(s.history, SeedRecord{Seed: seed, Key: effective, At: time.Now()})
	rng := rand.New(rand.NewSource(seed))
	s.active = append(s.active, activeSeed{seed: seed, rng: rng})
	s.emit(effective, seed)
	return rng
}

func (s *Seedable) endSeeded() {
	if len(s.active) == 0 {
		return
	}
	s.active = s.active[:len(s.active)-1]
}

// deriveSeed hashes (parent seed, key, counter) with FNV-1a 64 and masks the
// sign bit so derived seeds are always non-negative.
func (s *Seedable) deriveSeed(key string, counter uint64) int64 {
	parent, ok := s.parentSeed()
	if !ok {
		parent = fallbackSeed()
	}

	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(parent))
	h.Write(buf[:])
	h.Write([]byte(key))
	binary.LittleEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])
	return int64(h.Sum64() &^ (1 << 63))
}

func (s *Seedable) parentSeed() (int64, bool) {
	if len(s.active) > 0 {
		return s.active[len(s.active)-1].seed, true
	}
	if s.root != nil {
		return *s.root, true
	}
	return 0, false
}

func (s *Seedable) emit(key string, seed int64) {
	if !s.emitter.Enabled() {
		return
	}
	_ = s.emitter.Emit(context.Background(), observe.Event{
		Verb:     observe.VerbSeedApplied,
		Trait:    "seedable",
		Key:      key,
		Metadata: map[string]any{"seed": seed, "depth": len(s.active)},
	})
}
