package gating

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Persistence is the durable backend for profiles. Implementations must
// support atomic read-modify-write per key; a nil Persistence keeps
// profiles in memory only.
type Persistence interface {
	LoadProfile(ctx context.Context, projectID, retrievalType string) (*State, error)
	SaveProfile(ctx context.Context, state *State) error
}

// hotProfiles is the size of the in-memory LRU in front of the backend.
const hotProfiles = 512

// managed pairs a profile with its single-writer lock. Concurrent updates
// to the same (project, type) key serialize on mu; different keys never
// contend.
type managed struct {
	mu      sync.Mutex
	profile *Profile
}

// Defaults overrides the initial parameters of freshly created profiles.
// Zero-valued fields keep the built-in defaults.
type Defaults struct {
	BaseThreshold  float64
	MinThreshold   float64
	MaxThreshold   float64
	TargetChunks   int
	AdaptationRate float64
	Method         OutlierMethod
	K              float64
}

// Store owns gating profiles: lazy creation, hot LRU caching in front of
// the backend, and the serialized update path that is the profiles' only
// writer. Without a backend every profile stays resident, since eviction
// would discard live adaptive state; with one, the LRU holds the hot set
// and flushes state on eviction.
type Store struct {
	persist  Persistence
	logger   *zap.Logger
	defaults Defaults

	mu       sync.Mutex
	cache    *lru.Cache[string, *managed] // nil when persist is nil
	resident map[string]*managed          // used when persist is nil
}

// NewStore creates a profile store. persist may be nil.
func NewStore(persist Persistence, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		persist: persist,
		logger:  logger.Named("gating"),
	}
	if persist == nil {
		s.resident = make(map[string]*managed)
		return s
	}
	s.cache, _ = lru.NewWithEvict[string, *managed](hotProfiles, s.flushEvicted)
	return s
}

// flushEvicted persists a profile falling out of the hot set so its
// adaptive state survives. A writer that obtained its slot before the
// eviction can still race the reloaded copy; profile saves are
// last-write-wins on the backend.
func (s *Store) flushEvicted(key string, m *managed) {
	m.mu.Lock()
	state := m.profile.ToState()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persist.SaveProfile(ctx, state); err != nil {
		s.logger.Warn("evicted profile flush failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// lookup and insert abstract the two residency modes. Both are called
// under s.mu.
func (s *Store) lookup(key string) (*managed, bool) {
	if s.cache != nil {
		return s.cache.Get(key)
	}
	m, ok := s.resident[key]
	return m, ok
}

func (s *Store) insert(key string, m *managed) {
	if s.cache != nil {
		s.cache.Add(key, m)
		return
	}
	s.resident[key] = m
}

// SetDefaults installs profile defaults. Call before the first Filter;
// already-created profiles are unaffected.
func (s *Store) SetDefaults(d Defaults) {
	s.defaults = d
}

func (s *Store) applyDefaults(p *Profile) {
	d := s.defaults
	if d.BaseThreshold > 0 {
		p.BaseThreshold = d.BaseThreshold
		p.CurrentThreshold = d.BaseThreshold
	}
	if d.MinThreshold > 0 {
		p.MinThreshold = d.MinThreshold
	}
	if d.MaxThreshold > 0 {
		p.MaxThreshold = d.MaxThreshold
	}
	if d.TargetChunks > 0 {
		p.TargetChunks = d.TargetChunks
	}
	if d.AdaptationRate > 0 {
		p.AdaptationRate = d.AdaptationRate
	}
	if d.Method != "" {
		p.Method = d.Method
	}
	if d.K > 0 {
		p.K = d.K
	}
}

func profileKey(projectID, retrievalType string) string {
	return projectID + "/" + retrievalType
}

// get returns the managed slot for a key, loading from the backend or
// creating a fresh profile on first use.
func (s *Store) get(ctx context.Context, projectID, retrievalType string) (*managed, error) {
	key := profileKey(projectID, retrievalType)

	s.mu.Lock()
	if m, ok := s.lookup(key); ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	var profile *Profile
	if s.persist != nil {
		state, err := s.persist.LoadProfile(ctx, projectID, retrievalType)
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", key, err)
		}
		if state != nil {
			profile = FromState(state)
		}
	}
	if profile == nil {
		profile = NewProfile(projectID, retrievalType)
		s.applyDefaults(profile)
		s.logger.Debug("profile created",
			zap.String("project_id", projectID),
			zap.String("retrieval_type", retrievalType))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another goroutine may have raced the load; keep the first one.
	if m, ok := s.lookup(key); ok {
		return m, nil
	}
	m := &managed{profile: profile}
	s.insert(key, m)
	return m, nil
}

// Update applies fn to the profile under its single-writer lock, then
// persists the result. This is the only mutation path for profiles.
func (s *Store) Update(ctx context.Context, projectID, retrievalType string, fn func(*Profile)) error {
	m, err := s.get(ctx, projectID, retrievalType)
	if err != nil {
		return err
	}

	m.mu.Lock()
	fn(m.profile)
	m.profile.UpdatedAt = time.Now().UTC()
	state := m.profile.ToState()
	m.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveProfile(ctx, state); err != nil {
			// Persistence lag is recoverable; the in-memory profile stays
			// authoritative until the next successful save.
			s.logger.Warn("profile save failed",
				zap.String("project_id", projectID),
				zap.String("retrieval_type", retrievalType),
				zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns a consistent copy of the profile's persistable state.
func (s *Store) Snapshot(ctx context.Context, projectID, retrievalType string) (*State, error) {
	m, err := s.get(ctx, projectID, retrievalType)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.ToState(), nil
}

// CurrentThreshold returns the profile's live threshold.
func (s *Store) CurrentThreshold(ctx context.Context, projectID, retrievalType string) (float64, error) {
	m, err := s.get(ctx, projectID, retrievalType)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.CurrentThreshold, nil
}
