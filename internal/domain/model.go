package domain

import "time"

// 请求使用的公开协议
type ClientFormat string

var (
	ClientFormatClaude ClientFormat = "claude"
	ClientFormatOpenAI ClientFormat = "openai"
)

// ProviderKind 上游帐号类型（闭集）
type ProviderKind string

const (
	// OAuth file backed
	ProviderKindKiro        ProviderKind = "kiro"
	ProviderKindGemini      ProviderKind = "gemini"
	ProviderKindAntigravity ProviderKind = "antigravity"
	ProviderKindCodex       ProviderKind = "codex"
	ProviderKindClaude      ProviderKind = "claude"

	// API key backed
	ProviderKindOpenAIKey ProviderKind = "openai-key"
	ProviderKindClaudeKey ProviderKind = "claude-key"
	ProviderKindGeminiKey ProviderKind = "gemini-key"
	ProviderKindVertexKey ProviderKind = "vertex-key"
)

// IsOAuthKind reports whether the kind carries an OAuth credential file
// rather than a plain API key.
func (k ProviderKind) IsOAuthKind() bool {
	switch k {
	case ProviderKindKiro, ProviderKindGemini, ProviderKindAntigravity,
		ProviderKindCodex, ProviderKindClaude:
		return true
	}
	return false
}

// OAuthSecret 是 OAuth 类凭证的 secret_material
type OAuthSecret struct {
	// 凭证文件路径，refresh 时每次重新读盘
	FilePath string `json:"filePath"`

	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`

	// Kiro: "social" 或 "idc"
	AuthMethod string `json:"authMethod,omitempty"`

	// Kiro IdC
	ClientID     string `json:"clientID,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`

	// Antigravity / Gemini
	ProjectID string `json:"projectID,omitempty"`
	Email     string `json:"email,omitempty"`

	// CodeWhisperer profile ARN
	ProfileARN string `json:"profileARN,omitempty"`

	Region string `json:"region,omitempty"`
}

// KeySecret 是 API-key 类凭证的 secret_material
type KeySecret struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseURL,omitempty"`
}

// SecretMaterial: 每个 ProviderKind 只允许一种形态
type SecretMaterial struct {
	OAuth *OAuthSecret `json:"oauth,omitempty"`
	Key   *KeySecret   `json:"key,omitempty"`
}

// Credential 上游凭证
type Credential struct {
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Kind ProviderKind `json:"kind"`

	// 展示的名称
	Name string `json:"name"`

	Secret *SecretMaterial `json:"secret"`

	IsHealthy  bool `json:"isHealthy"`
	IsDisabled bool `json:"isDisabled"`

	UsageCount int64 `json:"usageCount"`
	ErrorCount int64 `json:"errorCount"`

	LastUsedAt        time.Time `json:"lastUsedAt"`
	LastErrorMessage  string    `json:"lastErrorMessage,omitempty"`
	LastHealthCheckAt time.Time `json:"lastHealthCheckAt"`

	// 上游明确拒绝过的 model
	NotSupportedModels []string `json:"notSupportedModels,omitempty"`
}

// SupportsModel reports whether the upstream has not previously rejected
// the model for this credential.
func (c *Credential) SupportsModel(model string) bool {
	for _, m := range c.NotSupportedModels {
		if m == model {
			return false
		}
	}
	return true
}

// Clone returns a deep-enough copy for handing outside the store's lock.
func (c *Credential) Clone() *Credential {
	cp := *c
	if c.Secret != nil {
		sec := *c.Secret
		if c.Secret.OAuth != nil {
			o := *c.Secret.OAuth
			sec.OAuth = &o
		}
		if c.Secret.Key != nil {
			k := *c.Secret.Key
			sec.Key = &k
		}
		cp.Secret = &sec
	}
	cp.NotSupportedModels = append([]string(nil), c.NotSupportedModels...)
	return &cp
}

// CachedToken 由 Token Cache 独占；refresh 时整体替换，不原地修改
type CachedToken struct {
	CredentialUUID string
	Bearer         string
	ExpiresAt      time.Time
}

// RequestContext is created once per inbound call and threaded through
// the pipeline.
type RequestContext struct {
	RequestID     string
	ClientFormat  ClientFormat
	OriginalModel string
	ResolvedModel string
	ProviderHint  string
	IsStream      bool
	RetryCount    int
	CredentialID  string
	StartedAt     time.Time
}

// 追踪记录，请求结束时投影落库
type RequestLog struct {
	ID        uint64    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	RequestID    string       `json:"requestID"`
	ClientFormat ClientFormat `json:"clientFormat"`

	RequestModel  string `json:"requestModel"`
	ResolvedModel string `json:"resolvedModel"`

	CredentialUUID string `json:"credentialUUID"`
	CredentialName string `json:"credentialName"`

	IsStream   bool `json:"isStream"`
	RetryCount int  `json:"retryCount"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	// COMPLETED / FAILED
	Status     string `json:"status"`
	HTTPStatus int    `json:"httpStatus"`
	Error      string `json:"error,omitempty"`

	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`

	// 按默认价格表估算的费用，microUSD
	CostMicroUSD uint64 `json:"costMicroUSD"`
}

// ParsedUpstreamResponse 二进制流解析结果
type ParsedUpstreamResponse struct {
	TextContent         string
	ToolCalls           []ToolCall
	UsageCredits        float64
	ContextUsagePercent float64
}

// ToolCall is one reassembled upstream tool invocation. Arguments holds
// the raw JSON text exactly as accumulated, never re-escaped.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}
