package repository

import (
	"time"

	"github.com/awsl-project/relay/internal/domain"
)

type CredentialRepository interface {
	Create(cred *domain.Credential) error
	Update(cred *domain.Credential) error
	GetByUUID(uuid string) (*domain.Credential, error)
	// ListByKind 按类型过滤，kind 为空表示全部
	ListByKind(kind domain.ProviderKind) ([]*domain.Credential, error)
	List() ([]*domain.Credential, error)
	// Disable marks the credential disabled. Credentials are never deleted
	// while a route may still reference them.
	Disable(uuid string) error
}

type RequestLogRepository interface {
	Create(l *domain.RequestLog) error
	// List 最新的在前
	List(limit, offset int) ([]*domain.RequestLog, error)
	Count() (int64, error)
	DeleteOlderThan(before time.Time) (int64, error)
}
