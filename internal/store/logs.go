package store

import (
	"fmt"

	"p2p-pricer/internal/models"

	"gorm.io/gorm"
)

const defaultLogLimit = 100

// LogStore 执行日志存储，append-only
type LogStore struct {
	db *gorm.DB
}

func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{db: db}
}

// Append 追加一条执行日志
func (s *LogStore) Append(entry *models.PricingLog) error {
	if err := s.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append pricing log: %w", err)
	}
	return nil
}

// Query 按规则过滤查询最近的执行日志，ruleID 为 nil 时查全部
func (s *LogStore) Query(ruleID *uint, limit int) ([]models.PricingLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultLogLimit
	}

	query := s.db.Model(&models.PricingLog{}).Order("id DESC").Limit(limit)
	if ruleID != nil {
		query = query.Where("rule_id = ?", *ruleID)
	}

	var logs []models.PricingLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to query pricing logs: %w", err)
	}
	return logs, nil
}
