package db

import (
	"github.com/reviewd/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Task{},
		&domain.CacheEntry{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Recovery scans pending and processing tasks oldest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_tasks_status_created
		ON analysis_tasks (status, created_at)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_tasks_repo_pr
		ON analysis_tasks (repo_url, pr_number)
	`).Error; err != nil {
		return err
	}

	return nil
}
