package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awsl-project/relay/internal/domain"
)

type countingRefresher struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &domain.CachedToken{
		Bearer:    "bearer-fresh",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func oauthCred(uuid string) *domain.Credential {
	return &domain.Credential{
		UUID: uuid,
		Kind: domain.ProviderKindKiro,
		Secret: &domain.SecretMaterial{
			OAuth: &domain.OAuthSecret{RefreshToken: "rt"},
		},
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	refresher := &countingRefresher{delay: 50 * time.Millisecond}
	cache := NewCache()
	cache.SetRefresher(domain.ProviderKindKiro, refresher)

	cred := oauthCred("cred-1")
	const n = 20

	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetValidToken(context.Background(), cred)
		}(i)
	}
	wg.Wait()

	if got := refresher.calls.Load(); got != 1 {
		t.Errorf("refresher called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if results[i] != "bearer-fresh" {
			t.Errorf("caller %d got %q, want bearer-fresh", i, results[i])
		}
	}
}

func TestCachedTokenServedWithoutRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	cache := NewCache()
	cache.SetRefresher(domain.ProviderKindKiro, refresher)
	cred := oauthCred("cred-2")

	if _, err := cache.GetValidToken(context.Background(), cred); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.GetValidToken(context.Background(), cred); err != nil {
		t.Fatal(err)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Errorf("refresher called %d times, want 1", got)
	}
}

func TestFailedRefreshKeepsStaleEntry(t *testing.T) {
	cache := NewCache()
	good := &countingRefresher{}
	cache.SetRefresher(domain.ProviderKindKiro, good)
	cred := oauthCred("cred-3")

	if _, err := cache.GetValidToken(context.Background(), cred); err != nil {
		t.Fatal(err)
	}

	// 强制刷新失败不能清掉已有 entry
	cache.SetRefresher(domain.ProviderKindKiro, &countingRefresher{err: errors.New("upstream down")})
	if _, err := cache.RefreshAndCache(context.Background(), cred, true); err == nil {
		t.Fatal("expected refresh error")
	}
	if !errors.Is(errFromRefresh(cache, cred), domain.ErrTokenRefreshFailed) {
		t.Error("expected ErrTokenRefreshFailed")
	}
	if cache.Peek(cred.UUID) == nil {
		t.Error("stale entry evicted by failed refresh")
	}
}

func errFromRefresh(cache *Cache, cred *domain.Credential) error {
	_, err := cache.RefreshAndCache(context.Background(), cred, true)
	return err
}

func TestKeyCredentialReturnsStoredKey(t *testing.T) {
	cache := NewCache()
	cred := &domain.Credential{
		UUID: "key-1",
		Kind: domain.ProviderKindOpenAIKey,
		Secret: &domain.SecretMaterial{
			Key: &domain.KeySecret{APIKey: "sk-test"},
		},
	}
	bearer, err := cache.GetValidToken(context.Background(), cred)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "sk-test" {
		t.Errorf("bearer = %q, want sk-test", bearer)
	}
}

func TestUnsupportedKindRejected(t *testing.T) {
	cache := NewCache()
	cred := oauthCred("cred-4")
	cred.Kind = domain.ProviderKindCodex

	_, err := cache.GetValidToken(context.Background(), cred)
	if !errors.Is(err, domain.ErrUnsupportedCredentialType) {
		t.Errorf("err = %v, want ErrUnsupportedCredentialType", err)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	cache := NewCache()
	cache.SetRefresher(domain.ProviderKindKiro, refresher)
	cred := oauthCred("cred-5")

	if _, err := cache.GetValidToken(context.Background(), cred); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate(cred.UUID)
	if _, err := cache.GetValidToken(context.Background(), cred); err != nil {
		t.Fatal(err)
	}
	if got := refresher.calls.Load(); got != 2 {
		t.Errorf("refresher called %d times, want 2", got)
	}
}
