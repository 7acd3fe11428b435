package config

import (
	"strings"
	"sync"
	"time"

	"github.com/awsl-project/relay/internal/domain"
)

// CredentialSeed 配置文件里声明的凭证，启动时同步进 Store
type CredentialSeed struct {
	UUID     string              `json:"uuid,omitempty"`
	Name     string              `json:"name"`
	Kind     domain.ProviderKind `json:"kind"`
	Disabled bool                `json:"disabled,omitempty"`

	// OAuth 类：凭证文件路径
	OAuthFile string `json:"oauthFile,omitempty"`

	// key 类
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// RetryPolicy controls backoff between dispatch attempts. The forced
// token-refresh retry on auth failures is separate and always exactly one.
type RetryPolicy struct {
	MaxAttempts    int           `json:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff"`
}

// Snapshot 一次性解析好的只读配置；热更新时整体替换
type Snapshot struct {
	// 网关共享鉴权 key，空表示不鉴权
	AuthKey string `json:"authKey,omitempty"`

	// Model 别名表: RequestModel → ResolvedModel，支持 * 通配
	ModelAliases map[string]string `json:"modelAliases,omitempty"`

	// 没有池内候选时回退的单凭证名称
	DefaultCredential string `json:"defaultCredential,omitempty"`

	Credentials []CredentialSeed `json:"credentials,omitempty"`

	Retry RetryPolicy `json:"retry"`
}

// ResolveModel applies the alias table: exact match first, then wildcard
// patterns, otherwise the model passes through unchanged.
func (s *Snapshot) ResolveModel(model string) string {
	if s == nil || len(s.ModelAliases) == 0 {
		return model
	}
	if mapped, ok := s.ModelAliases[model]; ok {
		return mapped
	}
	for pattern, mapped := range s.ModelAliases {
		if strings.Contains(pattern, "*") && matchWildcard(pattern, model) {
			return mapped
		}
	}
	return model
}

// matchWildcard 通配符匹配，* 匹配任意段
func matchWildcard(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// Holder hands out the current snapshot and applies reloads by atomic
// swap. Readers never observe a torn mix of old and new rules.
type Holder struct {
	mu   sync.RWMutex
	snap *Snapshot
}

func NewHolder(initial *Snapshot) *Holder {
	if initial == nil {
		initial = &Snapshot{}
	}
	return &Holder{snap: initial}
}

// Load returns the current snapshot. Callers keep using the returned
// pointer for the whole request; a concurrent Swap does not affect them.
func (h *Holder) Load() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Swap replaces the snapshot wholesale.
func (h *Holder) Swap(s *Snapshot) {
	if s == nil {
		return
	}
	h.mu.Lock()
	h.snap = s
	h.mu.Unlock()
}
