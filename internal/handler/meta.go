package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/awsl-project/relay/internal/credential"
	"github.com/awsl-project/relay/internal/jsonutil"
)

// 对外公布的静态模型目录
var modelCatalog = []string{
	"claude-opus-4-5",
	"claude-sonnet-4-5",
	"claude-sonnet-4",
	"claude-haiku-4-5",
	"claude-3-5-haiku",
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gpt-4o",
	"gpt-4o-mini",
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func catalogList() *modelList {
	created := time.Now().Unix()
	list := &modelList{Object: "list"}
	for _, id := range modelCatalog {
		list.Data = append(list.Data, modelEntry{ID: id, Object: "model", Created: created, OwnedBy: "relay"})
	}
	return list
}

// ModelsHandler serves GET /v1/models.
func ModelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	data, _ := jsonutil.FastMarshal(catalogList())
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// HealthHandler serves GET /health, exempt from authentication.
func HealthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	}
}

type routeEntry struct {
	Name     string   `json:"name"`
	UUID     string   `json:"uuid"`
	Kind     string   `json:"kind"`
	Healthy  bool     `json:"healthy"`
	Disabled bool     `json:"disabled"`
	Examples []string `json:"examples"`
}

// RoutesHandler 列出全部凭证路由和调用示例
type RoutesHandler struct {
	store *credential.Store
}

func NewRoutesHandler(store *credential.Store) *RoutesHandler {
	return &RoutesHandler{store: store}
}

func (h *RoutesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	routes := []routeEntry{}
	for _, cred := range h.store.List() {
		routes = append(routes, routeEntry{
			Name:     cred.Name,
			UUID:     cred.UUID,
			Kind:     string(cred.Kind),
			Healthy:  cred.IsHealthy,
			Disabled: cred.IsDisabled,
			Examples: []string{
				fmt.Sprintf("POST /%s/v1/messages", cred.Name),
				fmt.Sprintf("POST /%s/v1/chat/completions", cred.Name),
			},
		})
	}
	data, _ := jsonutil.FastMarshal(map[string]interface{}{"routes": routes})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
