package sqlite

import (
	"sync/atomic"
	"time"

	"github.com/awsl-project/relay/internal/domain"
)

type RequestLogRepository struct {
	db    *DB
	count int64 // 缓存的请求总数，使用原子操作
}

func NewRequestLogRepository(db *DB) *RequestLogRepository {
	r := &RequestLogRepository{db: db}
	r.initCount()
	return r
}

// initCount 从数据库初始化计数缓存
func (r *RequestLogRepository) initCount() {
	var count int64
	if err := r.db.gorm.Model(&RequestLog{}).Count(&count).Error; err == nil {
		atomic.StoreInt64(&r.count, count)
	}
}

func (r *RequestLogRepository) Create(l *domain.RequestLog) error {
	l.CreatedAt = time.Now()

	model := r.toModel(l)
	if err := r.db.gorm.Create(model).Error; err != nil {
		return err
	}
	l.ID = model.ID

	atomic.AddInt64(&r.count, 1)
	return nil
}

func (r *RequestLogRepository) List(limit, offset int) ([]*domain.RequestLog, error) {
	var models []RequestLog
	if err := r.db.gorm.Order("id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	logs := make([]*domain.RequestLog, len(models))
	for i, m := range models {
		logs[i] = r.toDomain(&m)
	}
	return logs, nil
}

func (r *RequestLogRepository) Count() (int64, error) {
	return atomic.LoadInt64(&r.count), nil
}

// DeleteOlderThan 清理过期的请求记录，返回删除条数
func (r *RequestLogRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result := r.db.gorm.Where("created_at < ?", toTimestamp(before)).Delete(&RequestLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		atomic.AddInt64(&r.count, -result.RowsAffected)
	}
	return result.RowsAffected, nil
}

func (r *RequestLogRepository) toModel(l *domain.RequestLog) *RequestLog {
	return &RequestLog{
		BaseModel: BaseModel{
			ID:        l.ID,
			CreatedAt: toTimestamp(l.CreatedAt),
		},
		RequestID:      l.RequestID,
		ClientFormat:   string(l.ClientFormat),
		RequestModel:   l.RequestModel,
		ResolvedModel:  l.ResolvedModel,
		CredentialUUID: l.CredentialUUID,
		CredentialName: l.CredentialName,
		IsStream:       l.IsStream,
		RetryCount:     l.RetryCount,
		StartTime:      toTimestamp(l.StartTime),
		EndTime:        toTimestamp(l.EndTime),
		DurationMS:     l.Duration.Milliseconds(),
		Status:         l.Status,
		HTTPStatus:     l.HTTPStatus,
		Error:          LongText(l.Error),
		InputTokens:    l.InputTokens,
		OutputTokens:   l.OutputTokens,
		CostMicroUSD:   l.CostMicroUSD,
	}
}

func (r *RequestLogRepository) toDomain(m *RequestLog) *domain.RequestLog {
	return &domain.RequestLog{
		ID:             m.ID,
		CreatedAt:      fromTimestamp(m.CreatedAt),
		RequestID:      m.RequestID,
		ClientFormat:   domain.ClientFormat(m.ClientFormat),
		RequestModel:   m.RequestModel,
		ResolvedModel:  m.ResolvedModel,
		CredentialUUID: m.CredentialUUID,
		CredentialName: m.CredentialName,
		IsStream:       m.IsStream,
		RetryCount:     m.RetryCount,
		StartTime:      fromTimestamp(m.StartTime),
		EndTime:        fromTimestamp(m.EndTime),
		Duration:       time.Duration(m.DurationMS) * time.Millisecond,
		Status:         m.Status,
		HTTPStatus:     m.HTTPStatus,
		Error:          string(m.Error),
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		CostMicroUSD:   m.CostMicroUSD,
	}
}
