package store

import (
	"errors"
	"fmt"
	"time"

	"p2p-pricer/internal/models"

	"gorm.io/gorm"
)

// ruleConfigColumns 运营端可编辑的配置列。规则更新只允许写这些列，
// 运行状态列由引擎独占，运营编辑配置不得顺带清掉运行状态。
var ruleConfigColumns = []string{
	"name", "is_active",
	"asset", "assets", "fiat", "trade_type", "price_type",
	"target_merchant", "fallback_merchants", "ad_numbers", "asset_config",
	"offset_direction", "offset_amount", "offset_pct",
	"max_ceiling", "min_floor", "max_ratio_ceiling", "min_ratio_floor",
	"max_deviation_from_market_pct", "max_price_change_per_cycle", "max_ratio_change_per_cycle",
	"auto_pause_after_deviations", "manual_override_cooldown_minutes",
	"only_counter_when_online", "pause_if_no_merchant_found",
	"active_hours_start", "active_hours_end",
	"check_interval_seconds", "resting_price", "resting_ratio",
}

// RuleStore 定价规则存储，无业务逻辑
type RuleStore struct {
	db *gorm.DB
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

// List 返回全部规则（运营端列表页）
func (s *RuleStore) List() ([]models.PricingRule, error) {
	var rules []models.PricingRule
	if err := s.db.Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// ListActive 返回所有启用中的规则（调度器用）
func (s *RuleStore) ListActive() ([]models.PricingRule, error) {
	var rules []models.PricingRule
	if err := s.db.Where("is_active = ?", true).Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	return rules, nil
}

// Get 按ID读取规则，不存在返回 (nil, nil)
func (s *RuleStore) Get(id uint) (*models.PricingRule, error) {
	var rule models.PricingRule
	err := s.db.First(&rule, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return &rule, nil
}

func (s *RuleStore) Create(rule *models.PricingRule) error {
	if err := s.db.Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// UpdateConfig 更新规则配置，只写配置列，运行状态列保持不动。
// 存在性单独查询：MySQL 默认的 affected rows 不计值未变化的行，
// 不能拿 RowsAffected 判断规则是否存在。
func (s *RuleStore) UpdateConfig(id uint, rule *models.PricingRule) error {
	var count int64
	if err := s.db.Model(&models.PricingRule{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check rule %d: %w", id, err)
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}

	result := s.db.Model(&models.PricingRule{}).
		Where("id = ?", id).
		Select(ruleConfigColumns).
		Updates(rule)
	if result.Error != nil {
		return fmt.Errorf("failed to update rule %d: %w", id, result.Error)
	}
	return nil
}

func (s *RuleStore) Delete(id uint) error {
	if err := s.db.Delete(&models.PricingRule{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	return nil
}

// UpdateRunState 引擎写运行状态。只有持有该规则单飞锁的周期会调用。
func (s *RuleStore) UpdateRunState(id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.db.Model(&models.PricingRule{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update run state of rule %d: %w", id, err)
	}
	return nil
}

// SetActive 启停规则。注意：单独启用不清计数器，自动暂停后必须走 ResetCounters
func (s *RuleStore) SetActive(id uint, active bool) error {
	if err := s.db.Model(&models.PricingRule{}).Where("id = ?", id).
		Update("is_active", active).Error; err != nil {
		return fmt.Errorf("failed to set rule %d active=%v: %w", id, active, err)
	}
	return nil
}

// ResetCounters 运营显式重置：清零连续错误/偏离计数、清空错误并重新启用。
// 这是自动暂停后唯一的恢复路径。
func (s *RuleStore) ResetCounters(id uint) error {
	fields := map[string]interface{}{
		"consecutive_errors":     0,
		"consecutive_deviations": 0,
		"last_error":             "",
		"last_error_kind":        "",
		"is_active":              true,
	}
	if err := s.db.Model(&models.PricingRule{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to reset counters of rule %d: %w", id, err)
	}
	return nil
}

// MarkManualEdit 记录运营对受控广告的带外手动改价时间，
// 由此开始 manual_override_cooldown_minutes 的冷却窗口
func (s *RuleStore) MarkManualEdit(id uint, at time.Time) error {
	if err := s.db.Model(&models.PricingRule{}).Where("id = ?", id).
		Update("last_manual_edit_at", at).Error; err != nil {
		return fmt.Errorf("failed to mark manual edit of rule %d: %w", id, err)
	}
	return nil
}
