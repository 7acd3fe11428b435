package handler

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/event"
	"github.com/awsl-project/relay/internal/jsonutil"
	"github.com/awsl-project/relay/internal/pricing"
	"github.com/awsl-project/relay/internal/repository"
	"github.com/awsl-project/relay/internal/router"
)

const (
	endpointMessages        = "/v1/messages"
	endpointChatCompletions = "/v1/chat/completions"
	endpointCountTokens     = "/v1/messages/count_tokens"
)

// ProxyHandler 是两个公开协议入口的共同实现
type ProxyHandler struct {
	cfg    *config.Holder
	router *router.Router
	conv   *converter.Registry
	logs   repository.RequestLogRepository
	events event.Broadcaster
}

func NewProxyHandler(cfg *config.Holder, rt *router.Router, conv *converter.Registry, logs repository.RequestLogRepository, events event.Broadcaster) *ProxyHandler {
	if events == nil {
		events = &event.NopBroadcaster{}
	}
	return &ProxyHandler{cfg: cfg, router: rt, conv: conv, logs: logs, events: events}
}

// SetBroadcaster wires the event sink after construction; the WebSocket
// hub both consumes this handler and receives its request logs.
func (h *ProxyHandler) SetBroadcaster(events event.Broadcaster) {
	if events != nil {
		h.events = events
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	selector, endpoint, ok := splitProxyPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown endpoint "+r.URL.Path)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if endpoint == endpointCountTokens {
		h.handleCountTokens(w, body)
		return
	}

	format := domain.ClientFormatClaude
	if endpoint == endpointChatCompletions {
		format = domain.ClientFormatOpenAI
	}

	preq, err := h.buildProxyRequest(format, selector, body, sessionKeyFor(r))
	if err != nil {
		writeProxyError(w, err)
		return
	}

	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	start := time.Now()
	outcome, execErr := h.router.Execute(r.Context(), rw, preq)
	h.recordRequest(preq, outcome, start, rw.statusCode, execErr)

	if execErr != nil {
		if rw.wrote {
			// 流已经开始，只能在流内报告
			writeStreamError(w, execErr)
			return
		}
		writeProxyError(w, execErr)
	}
}

// buildProxyRequest normalizes the inbound body to the Claude pivot format.
func (h *ProxyHandler) buildProxyRequest(format domain.ClientFormat, selector string, body []byte, sessionKey string) (*router.ProxyRequest, error) {
	claudeBody := body
	if format == domain.ClientFormatOpenAI {
		var oreq converter.OpenAIRequest
		if err := jsonutil.SafeUnmarshal(body, &oreq); err != nil {
			return nil, domain.NewProxyErrorWithMessage(domain.ErrInvalidInput, false, "malformed request body")
		}
		converted, err := h.conv.TransformRequest(converter.FormatOpenAI, converter.FormatClaude, body, oreq.Model, oreq.Stream)
		if err != nil {
			return nil, err
		}
		claudeBody = converted
	}

	var creq converter.ClaudeRequest
	if err := jsonutil.SafeUnmarshal(claudeBody, &creq); err != nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrInvalidInput, false, "malformed request body")
	}
	if creq.Model == "" {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrInvalidInput, false, "model is required")
	}
	if len(creq.Messages) == 0 {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrInvalidInput, false, "messages must not be empty")
	}

	return &router.ProxyRequest{
		RequestID:    "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		ClientFormat: format,
		ClaudeBody:   claudeBody,
		Claude:       &creq,
		Model:        creq.Model,
		Selector:     selector,
		Stream:       creq.Stream,
		SessionKey:   sessionKey,
	}, nil
}

// handleCountTokens 本地估算，不触达上游
func (h *ProxyHandler) handleCountTokens(w http.ResponseWriter, body []byte) {
	var creq converter.ClaudeRequest
	if err := jsonutil.SafeUnmarshal(body, &creq); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	tokens := h.router.Assembler().Estimator().EstimateInputTokens(&creq)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"input_tokens":%d}`, tokens)
}

// splitProxyPath 拆出可选的凭证选择段：/:selector/v1/...
func splitProxyPath(path string) (selector, endpoint string, ok bool) {
	switch path {
	case endpointMessages, endpointChatCompletions, endpointCountTokens:
		return "", path, true
	}
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.Index(trimmed, "/")
	if idx <= 0 {
		return "", "", false
	}
	selector, rest := trimmed[:idx], trimmed[idx:]
	switch rest {
	case endpointMessages, endpointChatCompletions:
		return selector, rest, true
	}
	return "", "", false
}

// recordRequest persists and broadcasts the request log. Both are
// best-effort and never block the response path.
func (h *ProxyHandler) recordRequest(preq *router.ProxyRequest, outcome *router.Outcome, start time.Time, status int, execErr error) {
	end := time.Now()
	rec := &domain.RequestLog{
		RequestID:    preq.RequestID,
		ClientFormat: preq.ClientFormat,
		RequestModel: preq.Model,
		IsStream:     preq.Stream,
		StartTime:    start,
		EndTime:      end,
		Duration:     end.Sub(start),
		Status:       "COMPLETED",
		HTTPStatus:   status,
	}
	if outcome != nil {
		rec.ResolvedModel = outcome.ResolvedModel
		rec.CredentialUUID = outcome.CredentialUUID
		rec.CredentialName = outcome.CredentialName
		rec.InputTokens = outcome.InputTokens
		rec.OutputTokens = outcome.OutputTokens
		rec.RetryCount = outcome.RetryCount
		rec.CostMicroUSD = pricing.DefaultPriceTable().Cost(outcome.ResolvedModel,
			uint64(outcome.InputTokens), uint64(outcome.OutputTokens))
	}
	if execErr != nil {
		rec.Status = "FAILED"
		rec.Error = execErr.Error()
		rec.HTTPStatus = statusForError(execErr)
	}

	go func() {
		if h.logs != nil {
			if err := h.logs.Create(rec); err != nil {
				log.Printf("[Proxy] failed to persist request log: %v", err)
			}
		}
		h.events.BroadcastRequestLog(rec)
	}()
}
