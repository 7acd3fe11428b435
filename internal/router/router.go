package router

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/awsl-project/relay/internal/assembler"
	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/credential"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
	"github.com/awsl-project/relay/internal/token"
	"github.com/awsl-project/relay/internal/upstream"
)

// ProxyRequest 是进入路由层的一次请求。Body 已经转成 Claude 枢轴格式。
type ProxyRequest struct {
	RequestID    string
	ClientFormat domain.ClientFormat

	// Claude 格式请求体和解析结果
	ClaudeBody []byte
	Claude     *converter.ClaudeRequest

	// 客户端请求的模型名
	Model string

	// 路径里携带的显式凭证选择：名称 → UUID → ProviderKind
	Selector string

	Stream     bool
	SessionKey string
}

// Outcome summarizes a dispatched request for logging.
type Outcome struct {
	CredentialUUID string
	CredentialName string
	ResolvedModel  string
	InputTokens    int
	OutputTokens   int
	RetryCount     int
}

// Router picks a credential, obtains its bearer, dispatches to the
// upstream client and writes the client-facing response.
type Router struct {
	cfg       *config.Holder
	store     *credential.Store
	tokens    *token.Cache
	upstreams *upstream.Registry
	asm       *assembler.Assembler
}

func NewRouter(cfg *config.Holder, store *credential.Store, tokens *token.Cache, upstreams *upstream.Registry) *Router {
	return &Router{
		cfg:       cfg,
		store:     store,
		tokens:    tokens,
		upstreams: upstreams,
		asm:       assembler.New(),
	}
}

// Assembler exposes the shared assembler (count_tokens reuses its estimator).
func (r *Router) Assembler() *assembler.Assembler {
	return r.asm
}

// 无显式选择时按模型家族尝试的 kind 顺序
func kindOrderForModel(model string) []domain.ProviderKind {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		return []domain.ProviderKind{domain.ProviderKindKiro, domain.ProviderKindAntigravity, domain.ProviderKindClaudeKey}
	case strings.Contains(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		return []domain.ProviderKind{domain.ProviderKindOpenAIKey, domain.ProviderKindAntigravity}
	case strings.Contains(lower, "gemini"):
		return []domain.ProviderKind{domain.ProviderKindAntigravity, domain.ProviderKindGeminiKey, domain.ProviderKindVertexKey}
	}
	return []domain.ProviderKind{
		domain.ProviderKindKiro,
		domain.ProviderKindAntigravity,
		domain.ProviderKindOpenAIKey,
		domain.ProviderKindClaudeKey,
		domain.ProviderKindGeminiKey,
		domain.ProviderKindVertexKey,
	}
}

// selectCredential resolves the selector (name → UUID → kind) or walks the
// model's kind order, then falls back to the configured default credential.
func (r *Router) selectCredential(snap *config.Snapshot, selector, model string) (*domain.Credential, error) {
	if selector != "" {
		if cred, err := r.store.SelectByName(selector); err == nil {
			return cred, nil
		}
		if cred, err := r.store.SelectByUUID(selector); err == nil {
			return cred, nil
		}
		if cred, err := r.store.Select(domain.ProviderKind(selector), model); err == nil {
			return cred, nil
		}
		return nil, domain.NewProxyErrorWithMessage(domain.ErrNoCredentialsAvailable, false,
			"no credential matches selector "+selector)
	}

	for _, kind := range kindOrderForModel(model) {
		if cred, err := r.store.Select(kind, model); err == nil {
			return cred, nil
		}
	}

	// 池里没有候选时回退到配置的默认凭证
	if snap.DefaultCredential != "" {
		if cred, err := r.store.SelectByName(snap.DefaultCredential); err == nil {
			return cred, nil
		}
	}

	return nil, domain.ErrNoCredentialsAvailable
}

// Execute dispatches one request and writes the response on success. The
// returned Outcome is valid even when err != nil (for logging).
func (r *Router) Execute(ctx context.Context, w http.ResponseWriter, preq *ProxyRequest) (*Outcome, error) {
	snap := r.cfg.Load()
	resolved := snap.ResolveModel(preq.Model)

	outcome := &Outcome{ResolvedModel: resolved}

	cred, err := r.selectCredential(snap, preq.Selector, resolved)
	if err != nil {
		return outcome, err
	}
	outcome.CredentialUUID = cred.UUID
	outcome.CredentialName = cred.Name

	client, err := r.upstreams.For(cred.Kind)
	if err != nil {
		return outcome, err
	}

	upReq := &upstream.Request{
		RequestModel: preq.Model,
		Model:        resolved,
		ClaudeBody:   preq.ClaudeBody,
		Stream:       preq.Stream,
		ClientFormat: preq.ClientFormat,
		SessionKey:   preq.SessionKey,
	}

	log.Printf("[Router] request=%s model=%s resolved=%s credential=%s kind=%s stream=%v",
		preq.RequestID, preq.Model, resolved, cred.Name, cred.Kind, preq.Stream)

	// key 类上游能直接中继 SSE 时走流式路径
	if streamer, ok := client.(upstream.Streamer); ok && preq.Stream {
		if err := r.streamWithRetry(ctx, w, streamer, cred, upReq, outcome); err != nil {
			r.recordFailure(cred, err)
			return outcome, err
		}
		r.recordSuccess(cred)
		return outcome, nil
	}

	parsed, err := r.collectWithRetry(ctx, client, cred, upReq, outcome)
	if err != nil {
		r.noteModelRejection(cred, resolved, err)
		r.recordFailure(cred, err)
		return outcome, err
	}
	r.recordSuccess(cred)

	r.writeResponse(w, preq, parsed, outcome)
	return outcome, nil
}

// collectWithRetry runs the collected-response path with the forced
// refresh retry: an upstream 401/402/403 invalidates the cached bearer,
// refreshes once and replays the request exactly once.
func (r *Router) collectWithRetry(ctx context.Context, client upstream.Client, cred *domain.Credential, upReq *upstream.Request, outcome *Outcome) (*domain.ParsedUpstreamResponse, error) {
	bearer, err := r.tokens.GetValidToken(ctx, cred)
	if err != nil {
		return nil, err
	}

	parsed, err := client.Collect(ctx, cred, bearer, upReq)
	if err == nil || !isAuthFailure(err) {
		return parsed, err
	}

	bearer, err = r.forceRefresh(ctx, cred, outcome)
	if err != nil {
		return nil, err
	}
	return client.Collect(ctx, cred, bearer, upReq)
}

// streamWithRetry mirrors collectWithRetry for the relayed-SSE path. An
// auth failure surfaces before any bytes reach the client, so the single
// replay is safe.
func (r *Router) streamWithRetry(ctx context.Context, w http.ResponseWriter, streamer upstream.Streamer, cred *domain.Credential, upReq *upstream.Request, outcome *Outcome) error {
	bearer, err := r.tokens.GetValidToken(ctx, cred)
	if err != nil {
		return err
	}

	err = streamer.Stream(ctx, w, cred, bearer, upReq)
	if err == nil || !isAuthFailure(err) {
		return err
	}

	bearer, err = r.forceRefresh(ctx, cred, outcome)
	if err != nil {
		return err
	}
	return streamer.Stream(ctx, w, cred, bearer, upReq)
}

func (r *Router) forceRefresh(ctx context.Context, cred *domain.Credential, outcome *Outcome) (string, error) {
	log.Printf("[Router] credential %s got auth failure, forcing token refresh", cred.Name)
	r.tokens.Invalidate(cred.UUID)
	bearer, err := r.tokens.RefreshAndCache(ctx, cred, true)
	if err != nil {
		return "", err
	}
	outcome.RetryCount++
	return bearer, nil
}

// isAuthFailure reports whether the error carries an upstream 401/402/403.
func isAuthFailure(err error) bool {
	var perr *domain.ProxyError
	if errors.As(err, &perr) {
		return domain.IsAuthStatus(perr.HTTPStatusCode)
	}
	return false
}

// noteModelRejection marks the model in the credential's denylist when the
// upstream explicitly refused it.
func (r *Router) noteModelRejection(cred *domain.Credential, model string, err error) {
	var perr *domain.ProxyError
	if !errors.As(err, &perr) {
		return
	}
	msg := strings.ToLower(perr.Message)
	if strings.Contains(msg, "model") &&
		(strings.Contains(msg, "not supported") || strings.Contains(msg, "unsupported")) {
		log.Printf("[Router] credential %s rejects model %s, adding to denylist", cred.Name, model)
		r.store.MarkModelUnsupported(cred.UUID, model)
	}
}

func (r *Router) recordSuccess(cred *domain.Credential) {
	r.store.MarkHealthy(cred.UUID)
	r.store.RecordUsage(cred.UUID)
}

func (r *Router) recordFailure(cred *domain.Credential, err error) {
	var perr *domain.ProxyError
	if errors.As(err, &perr) {
		// 5xx、网络错误和刷新后仍失败的鉴权错误才影响健康状态
		if perr.IsNetworkError || perr.HTTPStatusCode >= 500 || domain.IsAuthStatus(perr.HTTPStatusCode) {
			r.store.MarkUnhealthy(cred.UUID, perr.Error())
		}
		return
	}
	if errors.Is(err, domain.ErrTokenRefreshFailed) {
		r.store.MarkUnhealthy(cred.UUID, err.Error())
	}
}

// writeResponse renders the collected result in the caller's format,
// either as a single JSON body or as a synthesized SSE stream.
func (r *Router) writeResponse(w http.ResponseWriter, preq *ProxyRequest, parsed *domain.ParsedUpstreamResponse, outcome *Outcome) {
	usage := r.asm.Usage(preq.Claude, parsed)
	outcome.InputTokens = usage.InputTokens
	outcome.OutputTokens = usage.OutputTokens

	if preq.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		var body []byte
		if preq.ClientFormat == domain.ClientFormatOpenAI {
			body = r.asm.OpenAISSE(preq.Model, parsed, usage)
		} else {
			body = r.asm.ClaudeSSE(preq.Model, parsed, usage)
		}
		_, _ = w.Write(body)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		return
	}

	var payload interface{}
	if preq.ClientFormat == domain.ClientFormatOpenAI {
		payload = r.asm.OpenAIResponse(preq.Model, parsed, usage)
	} else {
		payload = r.asm.ClaudeResponse(preq.Model, parsed, usage)
	}

	body, err := jsonutil.FastMarshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
