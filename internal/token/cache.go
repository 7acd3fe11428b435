package token

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/awsl-project/relay/internal/domain"
	"golang.org/x/sync/singleflight"
)

// 到期前的安全余量
const expiryMargin = 60 * time.Second

// Cache caches decoded OAuth bearer tokens per credential UUID. Refresh
// for one UUID is single-flight: concurrent callers observe exactly one
// upstream token exchange and share its result. A failed refresh never
// evicts the stale entry; a later successful refresh replaces it whole.
type Cache struct {
	mu     sync.RWMutex
	tokens map[string]*domain.CachedToken

	group      singleflight.Group
	refreshers map[domain.ProviderKind]Refresher
}

func NewCache() *Cache {
	return &Cache{
		tokens:     make(map[string]*domain.CachedToken),
		refreshers: defaultRefreshers(),
	}
}

// SetRefresher overrides the refresher for a provider kind. Call before
// the cache starts serving requests.
func (c *Cache) SetRefresher(kind domain.ProviderKind, r Refresher) {
	c.refreshers[kind] = r
}

// GetValidToken returns a bearer for the credential, refreshing when the
// cached one is missing or inside the expiry margin. Key-backed
// credentials return the stored key directly.
func (c *Cache) GetValidToken(ctx context.Context, cred *domain.Credential) (string, error) {
	if !cred.Kind.IsOAuthKind() {
		if cred.Secret == nil || cred.Secret.Key == nil || cred.Secret.Key.APIKey == "" {
			return "", domain.NewProxyErrorWithMessage(domain.ErrInvalidInput, false, "credential has no API key")
		}
		return cred.Secret.Key.APIKey, nil
	}

	c.mu.RLock()
	entry := c.tokens[cred.UUID]
	c.mu.RUnlock()
	if entry != nil && time.Now().Before(entry.ExpiresAt.Add(-expiryMargin)) {
		return entry.Bearer, nil
	}

	return c.RefreshAndCache(ctx, cred, false)
}

// RefreshAndCache performs a single-flight refresh for the credential.
// force bypasses the freshness re-check inside the flight (used after an
// upstream 401/402/403).
func (c *Cache) RefreshAndCache(ctx context.Context, cred *domain.Credential, force bool) (string, error) {
	v, err, _ := c.group.Do(cred.UUID, func() (any, error) {
		// 其他协程可能刚刷新过
		if !force {
			c.mu.RLock()
			entry := c.tokens[cred.UUID]
			c.mu.RUnlock()
			if entry != nil && time.Now().Before(entry.ExpiresAt.Add(-expiryMargin)) {
				return entry.Bearer, nil
			}
		}

		refresher, ok := c.refreshers[cred.Kind]
		if !ok {
			return nil, domain.NewProxyErrorWithMessage(
				domain.ErrUnsupportedCredentialType, false,
				fmt.Sprintf("no token refresher for credential kind %q", cred.Kind))
		}

		fresh, err := refresher.Refresh(ctx, cred)
		if err != nil {
			// 保留旧 entry，等下次刷新成功再替换
			log.Printf("[TokenCache] Refresh failed for credential %s: %v", cred.UUID, err)
			return nil, domain.NewProxyErrorWithMessage(domain.ErrTokenRefreshFailed, true, err.Error())
		}
		fresh.CredentialUUID = cred.UUID

		c.mu.Lock()
		c.tokens[cred.UUID] = fresh
		c.mu.Unlock()

		log.Printf("[TokenCache] Refreshed token for credential %s, expires at %s",
			cred.UUID, fresh.ExpiresAt.Format(time.RFC3339))
		return fresh.Bearer, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached entry so the next read refreshes.
func (c *Cache) Invalidate(uuid string) {
	c.mu.Lock()
	delete(c.tokens, uuid)
	c.mu.Unlock()
}

// Peek returns the cached entry without freshness checks. Test and
// observability helper only.
func (c *Cache) Peek(uuid string) *domain.CachedToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[uuid]
}
