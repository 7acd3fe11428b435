package core

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awsl-project/relay/internal/config"
	"github.com/awsl-project/relay/internal/converter"
	"github.com/awsl-project/relay/internal/credential"
	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/handler"
	"github.com/awsl-project/relay/internal/repository"
	"github.com/awsl-project/relay/internal/repository/sqlite"
	"github.com/awsl-project/relay/internal/router"
	"github.com/awsl-project/relay/internal/token"
	"github.com/awsl-project/relay/internal/upstream"
)

// ServerComponents 包含服务器运行所需的所有组件
type ServerComponents struct {
	DB             *sqlite.DB
	CredentialRepo repository.CredentialRepository
	RequestLogRepo repository.RequestLogRepository

	Config     *config.Holder
	Store      *credential.Store
	Tokens     *token.Cache
	Converters *converter.Registry
	Upstreams  *upstream.Registry
	Router     *router.Router

	ProxyHandler  *handler.ProxyHandler
	WebSocketHub  *handler.WebSocketHub
	RoutesHandler *handler.RoutesHandler
}

// BuildComponents wires the full pipeline: database → repositories →
// credential store → token cache → converters → upstream clients →
// router → HTTP/WS handlers.
func BuildComponents(cfg *config.Holder, dbPath string) (*ServerComponents, error) {
	var db *sqlite.DB
	var err error
	if strings.Contains(dbPath, "://") {
		db, err = sqlite.NewDBWithDSN(dbPath)
	} else {
		db, err = sqlite.NewDB(dbPath)
	}
	if err != nil {
		return nil, err
	}

	credRepo := sqlite.NewCredentialRepository(db)
	logRepo := sqlite.NewRequestLogRepository(db)

	store := credential.NewStore(credRepo)
	if err := store.LoadAll(); err != nil {
		db.Close()
		return nil, err
	}
	SyncCredentials(cfg.Load(), store)

	converters := converter.NewRegistry()
	upstreams := upstream.NewRegistry(converters)
	tokens := token.NewCache()
	rt := router.NewRouter(cfg, store, tokens, upstreams)

	proxy := handler.NewProxyHandler(cfg, rt, converters, logRepo, nil)
	hub := handler.NewWebSocketHub(proxy)
	// 请求日志同时推送给连接中的 WebSocket 客户端
	proxy.SetBroadcaster(hub)

	return &ServerComponents{
		DB:             db,
		CredentialRepo: credRepo,
		RequestLogRepo: logRepo,
		Config:         cfg,
		Store:          store,
		Tokens:         tokens,
		Converters:     converters,
		Upstreams:      upstreams,
		Router:         rt,
		ProxyHandler:   proxy,
		WebSocketHub:   hub,
		RoutesHandler:  handler.NewRoutesHandler(store),
	}, nil
}

// SyncCredentials 把配置声明的凭证同步进 Store，按名称对齐：
// 新名称创建，已有名称更新 secret 和禁用位
func SyncCredentials(snap *config.Snapshot, store *credential.Store) {
	byName := make(map[string]*domain.Credential)
	for _, c := range store.List() {
		byName[c.Name] = c
	}

	for _, seed := range snap.Credentials {
		if seed.Name == "" || seed.Kind == "" {
			log.Printf("[Core] skipping credential seed without name or kind")
			continue
		}
		secret := secretFromSeed(&seed)
		if secret == nil {
			log.Printf("[Core] skipping credential %s: no secret material for kind %s", seed.Name, seed.Kind)
			continue
		}

		if existing, ok := byName[seed.Name]; ok {
			existing.Kind = seed.Kind
			existing.Secret = secret
			existing.IsDisabled = seed.Disabled
			store.Put(existing)
			continue
		}

		id := seed.UUID
		if id == "" {
			id = uuid.NewString()
		}
		now := time.Now()
		store.Put(&domain.Credential{
			UUID:       id,
			CreatedAt:  now,
			UpdatedAt:  now,
			Kind:       seed.Kind,
			Name:       seed.Name,
			Secret:     secret,
			IsHealthy:  true,
			IsDisabled: seed.Disabled,
		})
		log.Printf("[Core] seeded credential %s kind=%s", seed.Name, seed.Kind)
	}
}

func secretFromSeed(seed *config.CredentialSeed) *domain.SecretMaterial {
	if seed.Kind.IsOAuthKind() {
		if seed.OAuthFile == "" {
			return nil
		}
		return &domain.SecretMaterial{OAuth: &domain.OAuthSecret{FilePath: seed.OAuthFile}}
	}
	if seed.APIKey == "" {
		return nil
	}
	return &domain.SecretMaterial{Key: &domain.KeySecret{APIKey: seed.APIKey, BaseURL: seed.BaseURL}}
}

// Close releases held resources.
func (c *ServerComponents) Close() {
	if c.DB != nil {
		c.DB.Close()
	}
}
