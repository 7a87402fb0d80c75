package pricing

import "p2p-pricer/internal/models"

// 告警级别
const (
	AlertLevelOK      = "ok"
	AlertLevelWarning = "warning"
	AlertLevelAlert   = "alert"
)

// AlertState 规则的派生告警状态。纯读侧计算，不落库、不改状态，
// 所有展示位置必须用同一套逻辑重算。
type AlertState struct {
	RuleID   uint     `json:"rule_id"`
	Alerting bool     `json:"alerting"`
	Level    string   `json:"level"`
	Reasons  []string `json:"reasons"`
}

// Classify 基于运行状态计算告警分类。
// 失败分类依据结构化的 last_error_kind，不做错误文本匹配。
func Classify(rule *models.PricingRule) AlertState {
	state := AlertState{RuleID: rule.ID, Level: AlertLevelOK}

	// 自动暂停：已停用且连续偏离达到阈值
	if !rule.IsActive && rule.AutoPauseAfterDeviations > 0 &&
		rule.ConsecutiveDeviations >= rule.AutoPauseAfterDeviations {
		state.Reasons = append(state.Reasons, "auto_paused")
	}

	switch ErrorKind(rule.LastErrorKind) {
	case ErrKindMerchantNotFound:
		state.Reasons = append(state.Reasons, "merchant_not_found")
	case ErrKindDeviation:
		state.Reasons = append(state.Reasons, "deviation")
	case ErrKindVenueBreak:
		state.Reasons = append(state.Reasons, "venue_break")
	}

	if rule.ConsecutiveErrors > 3 {
		state.Reasons = append(state.Reasons, "consecutive_errors")
	}

	if len(state.Reasons) > 0 {
		state.Alerting = true
		state.Level = AlertLevelAlert
		return state
	}

	// 预警档：连续偏离已累积但尚未触发自动暂停
	if rule.ConsecutiveDeviations > 2 {
		state.Alerting = true
		state.Level = AlertLevelWarning
		state.Reasons = append(state.Reasons, "consecutive_deviations")
	}

	return state
}
