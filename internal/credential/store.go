package credential

import (
	"log"
	"sync"
	"time"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/repository"
)

// Store holds every known upstream credential, its health state, usage
// counters and per-model denylist. Selection is a read; mutating one
// credential's health is a short write. Mutations are last-write-wins
// per credential.
type Store struct {
	mu    sync.RWMutex
	creds map[string]*domain.Credential // by UUID

	repo repository.CredentialRepository // 可为 nil（纯内存模式）
}

func NewStore(repo repository.CredentialRepository) *Store {
	return &Store{
		creds: make(map[string]*domain.Credential),
		repo:  repo,
	}
}

// LoadAll primes the store from the persistence layer at startup.
func (s *Store) LoadAll() error {
	if s.repo == nil {
		return nil
	}
	creds, err := s.repo.List()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range creds {
		s.creds[c.UUID] = c
	}
	log.Printf("[CredentialStore] Loaded %d credentials", len(creds))
	return nil
}

// Put inserts or replaces a credential (configuration sync / import).
func (s *Store) Put(c *domain.Credential) {
	if c == nil || c.UUID == "" {
		return
	}
	s.mu.Lock()
	s.creds[c.UUID] = c
	s.mu.Unlock()
	s.persist(c)
}

// Select picks a credential for the given provider kind and resolved
// model. Healthy candidates win; ties break on oldest last_used_at so
// load spreads across the pool. With no healthy candidate it falls back
// to the least-recently-failed unhealthy one instead of failing.
func (s *Store) Select(kind domain.ProviderKind, model string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var healthy, unhealthy []*domain.Credential
	for _, c := range s.creds {
		if c.Kind != kind || c.IsDisabled {
			continue
		}
		if !c.SupportsModel(model) {
			continue
		}
		if c.IsHealthy {
			healthy = append(healthy, c)
		} else {
			unhealthy = append(unhealthy, c)
		}
	}

	if pick := oldestUsed(healthy); pick != nil {
		return pick.Clone(), nil
	}
	// 没有健康候选时选最早失败的那个，给它自愈机会
	if pick := oldestFailed(unhealthy); pick != nil {
		return pick.Clone(), nil
	}
	return nil, domain.ErrNoCredentialsAvailable
}

// SelectByName returns the named credential regardless of health state
// (explicit override).
func (s *Store) SelectByName(name string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.creds {
		if c.Name == name {
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

// SelectByUUID returns the credential with the given UUID regardless of
// health state (explicit override).
func (s *Store) SelectByUUID(uuid string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.creds[uuid]; ok {
		return c.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

// List returns clones of every credential, for the routes listing.
func (s *Store) List() []*domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, c.Clone())
	}
	return out
}

func (s *Store) MarkHealthy(uuid string) {
	s.mutate(uuid, func(c *domain.Credential) {
		c.IsHealthy = true
		c.LastErrorMessage = ""
		c.LastHealthCheckAt = time.Now()
	})
}

func (s *Store) MarkUnhealthy(uuid string, reason string) {
	s.mutate(uuid, func(c *domain.Credential) {
		c.IsHealthy = false
		c.ErrorCount++
		c.LastErrorMessage = reason
		c.LastHealthCheckAt = time.Now()
	})
	log.Printf("[CredentialStore] Credential %s marked unhealthy: %s", uuid, reason)
}

func (s *Store) RecordUsage(uuid string) {
	s.mutate(uuid, func(c *domain.Credential) {
		c.UsageCount++
		c.LastUsedAt = time.Now()
	})
}

// MarkModelUnsupported records an upstream "model not supported"
// rejection so selection skips this pairing next time.
func (s *Store) MarkModelUnsupported(uuid string, model string) {
	s.mutate(uuid, func(c *domain.Credential) {
		for _, m := range c.NotSupportedModels {
			if m == model {
				return
			}
		}
		c.NotSupportedModels = append(c.NotSupportedModels, model)
	})
	log.Printf("[CredentialStore] Credential %s does not support model %s", uuid, model)
}

func (s *Store) mutate(uuid string, fn func(*domain.Credential)) {
	s.mu.Lock()
	c, ok := s.creds[uuid]
	if ok {
		fn(c)
		c.UpdatedAt = time.Now()
	}
	var snapshot *domain.Credential
	if ok {
		snapshot = c.Clone()
	}
	s.mu.Unlock()
	if snapshot != nil {
		s.persist(snapshot)
	}
}

// persist is best-effort: a storage failure never blocks the request path.
func (s *Store) persist(c *domain.Credential) {
	if s.repo == nil {
		return
	}
	go func() {
		if err := s.repo.Update(c); err != nil {
			log.Printf("[CredentialStore] Failed to persist credential %s: %v", c.UUID, err)
		}
	}()
}

func oldestUsed(creds []*domain.Credential) *domain.Credential {
	var pick *domain.Credential
	for _, c := range creds {
		if pick == nil || c.LastUsedAt.Before(pick.LastUsedAt) {
			pick = c
		}
	}
	return pick
}

func oldestFailed(creds []*domain.Credential) *domain.Credential {
	var pick *domain.Credential
	for _, c := range creds {
		if pick == nil || c.LastHealthCheckAt.Before(pick.LastHealthCheckAt) {
			pick = c
		}
	}
	return pick
}
