package pricing

import (
	"math"
	"time"

	"p2p-pricer/internal/models"
)

// SkipReason 跳过本轮的结构化原因，写入 PricingLog.SkippedReason
type SkipReason string

const (
	SkipOutsideActiveHours SkipReason = "outside_active_hours"
	SkipManualCooldown     SkipReason = "manual_cooldown"
	SkipNoMerchantFound    SkipReason = "no_merchant_found"
	SkipMerchantOffline    SkipReason = "merchant_offline"
	SkipDeviationExceeded  SkipReason = "deviation_exceeded"
	SkipNoAdNumbers        SkipReason = "no_ad_numbers"
)

// ErrorKind 失败的结构化分类，取代对错误文本的字符串匹配。
// 在失败发生点定级，写入规则的 last_error_kind。
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindTransient        ErrorKind = "transient"          // 网络/超时/平台限流
	ErrKindMerchantNotFound ErrorKind = "merchant_not_found" // 目标及后备商家均无在线广告
	ErrKindDeviation        ErrorKind = "deviation"          // 候选价偏离市场参考价过远
	ErrKindVenueBreak       ErrorKind = "venue_break"        // 平台休市/维护时段
	ErrKindVenueRejected    ErrorKind = "venue_rejected"     // 平台明确拒绝（广告不存在、无权限等）
)

// withinActiveHours 活跃时段检查。窗口为本地时间 [start, end)，
// start > end 时视为跨零点窗口。未配置任一端则不限制。
func withinActiveHours(rule *models.PricingRule, now time.Time) bool {
	if rule.ActiveHoursStart == "" || rule.ActiveHoursEnd == "" {
		return true
	}
	start, err := parseClock(rule.ActiveHoursStart)
	if err != nil {
		return true
	}
	end, err := parseClock(rule.ActiveHoursEnd)
	if err != nil {
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	if start == end {
		return true
	}
	if start < end {
		return minutes >= start && minutes < end
	}
	// 跨零点
	return minutes >= start || minutes < end
}

// parseClock 解析"HH:MM"为当日分钟数
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// inManualCooldown 人工改价冷却检查：运营手动修改过受控广告后的
// 冷却窗口内，引擎不得再触碰该广告。
func inManualCooldown(rule *models.PricingRule, now time.Time) bool {
	if rule.ManualOverrideCooldownMinutes <= 0 || rule.LastManualEditAt == nil {
		return false
	}
	cooldown := time.Duration(rule.ManualOverrideCooldownMinutes) * time.Minute
	return now.Sub(*rule.LastManualEditAt) < cooldown
}

// DeviationPct 候选价相对市场参考价的偏离百分比
func DeviationPct(candidate, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return (candidate - reference) / reference * 100
}

// RateLimit 步长限制：候选值与上次应用值之差超过 maxChange 时，
// 将步长截断为 maxChange、方向不变，而不是拒绝本轮。
// last 或 maxChange 未设置时原样放行。
func RateLimit(candidate float64, last, maxChange *float64) (float64, bool) {
	if last == nil || maxChange == nil || *maxChange <= 0 {
		return candidate, false
	}
	delta := candidate - *last
	if math.Abs(delta) <= *maxChange {
		return candidate, false
	}
	if delta > 0 {
		return *last + *maxChange, true
	}
	return *last - *maxChange, true
}
