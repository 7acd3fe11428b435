package sqlite

import (
	"errors"
	"time"

	"github.com/awsl-project/relay/internal/domain"
	"gorm.io/gorm"
)

type CredentialRepository struct {
	db *DB
}

func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(c *domain.Credential) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	model := r.toModel(c)
	return r.db.gorm.Create(model).Error
}

func (r *CredentialRepository) Update(c *domain.Credential) error {
	c.UpdatedAt = time.Now()
	model := r.toModel(c)
	return r.db.gorm.Where("uuid = ?", c.UUID).
		Assign(modelUpdates(model)).
		FirstOrCreate(&Credential{}).Error
}

func (r *CredentialRepository) GetByUUID(uuid string) (*domain.Credential, error) {
	var model Credential
	if err := r.db.gorm.Where("uuid = ?", uuid).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.toDomain(&model), nil
}

func (r *CredentialRepository) ListByKind(kind domain.ProviderKind) ([]*domain.Credential, error) {
	q := r.db.gorm.Order("id")
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	var models []Credential
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	creds := make([]*domain.Credential, len(models))
	for i, m := range models {
		creds[i] = r.toDomain(&m)
	}
	return creds, nil
}

func (r *CredentialRepository) List() ([]*domain.Credential, error) {
	return r.ListByKind("")
}

func (r *CredentialRepository) Disable(uuid string) error {
	return r.db.gorm.Model(&Credential{}).
		Where("uuid = ?", uuid).
		Updates(map[string]any{
			"is_disabled": true,
			"updated_at":  time.Now().UnixMilli(),
		}).Error
}

func modelUpdates(m *Credential) map[string]any {
	return map[string]any{
		"uuid":                 m.UUID,
		"kind":                 m.Kind,
		"name":                 m.Name,
		"secret":               m.Secret,
		"is_healthy":           m.IsHealthy,
		"is_disabled":          m.IsDisabled,
		"usage_count":          m.UsageCount,
		"error_count":          m.ErrorCount,
		"last_used_at":         m.LastUsedAt,
		"last_error_message":   m.LastErrorMessage,
		"last_health_check_at": m.LastHealthCheckAt,
		"not_supported_models": m.NotSupportedModels,
		"updated_at":           time.Now().UnixMilli(),
	}
}

// toModel converts domain.Credential to sqlite.Credential
func (r *CredentialRepository) toModel(c *domain.Credential) *Credential {
	return &Credential{
		BaseModel: BaseModel{
			CreatedAt: toTimestamp(c.CreatedAt),
			UpdatedAt: toTimestamp(c.UpdatedAt),
		},
		UUID:               c.UUID,
		Kind:               string(c.Kind),
		Name:               c.Name,
		Secret:             LongText(toJSON(c.Secret)),
		IsHealthy:          c.IsHealthy,
		IsDisabled:         c.IsDisabled,
		UsageCount:         c.UsageCount,
		ErrorCount:         c.ErrorCount,
		LastUsedAt:         toTimestamp(c.LastUsedAt),
		LastErrorMessage:   LongText(c.LastErrorMessage),
		LastHealthCheckAt:  toTimestamp(c.LastHealthCheckAt),
		NotSupportedModels: LongText(toJSON(c.NotSupportedModels)),
	}
}

// toDomain converts sqlite.Credential to domain.Credential
func (r *CredentialRepository) toDomain(m *Credential) *domain.Credential {
	return &domain.Credential{
		UUID:               m.UUID,
		CreatedAt:          fromTimestamp(m.CreatedAt),
		UpdatedAt:          fromTimestamp(m.UpdatedAt),
		Kind:               domain.ProviderKind(m.Kind),
		Name:               m.Name,
		Secret:             fromJSON[*domain.SecretMaterial](string(m.Secret)),
		IsHealthy:          m.IsHealthy,
		IsDisabled:         m.IsDisabled,
		UsageCount:         m.UsageCount,
		ErrorCount:         m.ErrorCount,
		LastUsedAt:         fromTimestamp(m.LastUsedAt),
		LastErrorMessage:   string(m.LastErrorMessage),
		LastHealthCheckAt:  fromTimestamp(m.LastHealthCheckAt),
		NotSupportedModels: fromJSON[[]string](string(m.NotSupportedModels)),
	}
}
