package core

import (
	"log"
	"time"

	"github.com/awsl-project/relay/internal/repository"
)

const defaultRequestRetentionDays = 7

// BackgroundTaskDeps 后台任务依赖
type BackgroundTaskDeps struct {
	RequestLogs repository.RequestLogRepository
}

// StartBackgroundTasks 启动所有后台任务
func StartBackgroundTasks(deps BackgroundTaskDeps) {
	go func() {
		time.Sleep(2 * time.Second)
		deps.runTasks()

		ticker := time.NewTicker(1 * time.Hour)
		for range ticker.C {
			deps.runTasks()
		}
	}()

	log.Println("[Task] Background tasks started")
}

// runTasks 执行所有后台任务
func (d *BackgroundTaskDeps) runTasks() {
	log.Println("[Task] Starting background tasks")
	d.cleanupOldRequests()
	log.Println("[Task] All background tasks completed")
}

// cleanupOldRequests 清理过期的请求记录
func (d *BackgroundTaskDeps) cleanupOldRequests() {
	before := time.Now().AddDate(0, 0, -defaultRequestRetentionDays)
	if deleted, err := d.RequestLogs.DeleteOlderThan(before); err != nil {
		log.Printf("[Task] Failed to delete old requests: %v", err)
	} else if deleted > 0 {
		log.Printf("[Task] Deleted %d requests older than %d days", deleted, defaultRequestRetentionDays)
	}
}
