package router

import (
	"errors"
	"testing"
	"time"

	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/credential"
	"github.com/awsl-project/relay/internal/domain"
)

func testStore(creds ...*domain.Credential) *credential.Store {
	store := credential.NewStore(nil)
	for _, c := range creds {
		store.Put(c)
	}
	return store
}

func testCred(uuid, name string, kind domain.ProviderKind) *domain.Credential {
	return &domain.Credential{
		UUID:      uuid,
		Name:      name,
		Kind:      kind,
		IsHealthy: true,
		CreatedAt: time.Now(),
	}
}

func TestKindOrderForModel(t *testing.T) {
	tests := []struct {
		model string
		first domain.ProviderKind
		count int
	}{
		{"claude-sonnet-4-5", domain.ProviderKindKiro, 3},
		{"gpt-4o", domain.ProviderKindOpenAIKey, 2},
		{"o1-preview", domain.ProviderKindOpenAIKey, 2},
		{"gemini-2.5-pro", domain.ProviderKindAntigravity, 3},
		{"some-model", domain.ProviderKindKiro, 6},
	}

	for _, tt := range tests {
		order := kindOrderForModel(tt.model)
		if len(order) != tt.count {
			t.Errorf("kindOrderForModel(%q) length = %d, want %d", tt.model, len(order), tt.count)
		}
		if order[0] != tt.first {
			t.Errorf("kindOrderForModel(%q)[0] = %s, want %s", tt.model, order[0], tt.first)
		}
	}
}

func TestSelectCredentialBySelector(t *testing.T) {
	kiro := testCred("uuid-1", "kiro-main", domain.ProviderKindKiro)
	anti := testCred("uuid-2", "anti-main", domain.ProviderKindAntigravity)
	r := &Router{store: testStore(kiro, anti)}
	snap := &config.Snapshot{}

	// 按名字
	cred, err := r.selectCredential(snap, "anti-main", "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("select by name: %v", err)
	}
	if cred.UUID != "uuid-2" {
		t.Errorf("selected %s, want uuid-2", cred.UUID)
	}

	// 按 UUID
	cred, err = r.selectCredential(snap, "uuid-1", "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("select by uuid: %v", err)
	}
	if cred.UUID != "uuid-1" {
		t.Errorf("selected %s, want uuid-1", cred.UUID)
	}

	// 按 kind
	cred, err = r.selectCredential(snap, string(domain.ProviderKindAntigravity), "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("select by kind: %v", err)
	}
	if cred.Kind != domain.ProviderKindAntigravity {
		t.Errorf("selected kind %s", cred.Kind)
	}

	// 无匹配
	if _, err = r.selectCredential(snap, "no-such", "claude-sonnet-4-5"); !errors.Is(err, domain.ErrNoCredentialsAvailable) {
		t.Errorf("expected ErrNoCredentialsAvailable, got %v", err)
	}
}

func TestSelectCredentialWalksKindOrder(t *testing.T) {
	anti := testCred("uuid-2", "anti-main", domain.ProviderKindAntigravity)
	openai := testCred("uuid-3", "openai-main", domain.ProviderKindOpenAIKey)
	r := &Router{store: testStore(anti, openai)}
	snap := &config.Snapshot{}

	// claude 顺序是 kiro → antigravity → claude_key，池里没有 kiro
	cred, err := r.selectCredential(snap, "", "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("selectCredential: %v", err)
	}
	if cred.Kind != domain.ProviderKindAntigravity {
		t.Errorf("selected kind %s, want antigravity", cred.Kind)
	}

	cred, err = r.selectCredential(snap, "", "gpt-4o")
	if err != nil {
		t.Fatalf("selectCredential: %v", err)
	}
	if cred.Kind != domain.ProviderKindOpenAIKey {
		t.Errorf("selected kind %s, want openai_key", cred.Kind)
	}
}

func TestSelectCredentialDefaultFallback(t *testing.T) {
	fallback := testCred("uuid-9", "backup", domain.ProviderKindClaudeKey)
	// gpt 的 kind 顺序不含 claude_key，只能靠默认凭证兜底
	r := &Router{store: testStore(fallback)}

	if _, err := r.selectCredential(&config.Snapshot{}, "", "gpt-4o"); !errors.Is(err, domain.ErrNoCredentialsAvailable) {
		t.Fatalf("expected ErrNoCredentialsAvailable without default, got %v", err)
	}

	cred, err := r.selectCredential(&config.Snapshot{DefaultCredential: "backup"}, "", "gpt-4o")
	if err != nil {
		t.Fatalf("selectCredential with default: %v", err)
	}
	if cred.UUID != "uuid-9" {
		t.Errorf("selected %s, want uuid-9", cred.UUID)
	}
}

func TestIsAuthFailure(t *testing.T) {
	authErr := domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, false, "bad token")
	authErr.HTTPStatusCode = 401
	if !isAuthFailure(authErr) {
		t.Error("401 proxy error should be an auth failure")
	}

	rateErr := domain.NewProxyErrorWithMessage(domain.ErrUpstreamError, true, "slow down")
	rateErr.HTTPStatusCode = 429
	if isAuthFailure(rateErr) {
		t.Error("429 proxy error is not an auth failure")
	}

	if isAuthFailure(errors.New("plain")) {
		t.Error("plain error is not an auth failure")
	}
}
