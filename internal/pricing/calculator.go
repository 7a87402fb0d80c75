package pricing

import (
	"math"

	"p2p-pricer/internal/models"
)

// EffectiveConfig 规则默认值与单币种覆盖逐字段合并后的生效配置。
// 覆盖项存在则覆盖项生效，否则回落到规则级字段。
type EffectiveConfig struct {
	AdNumbers       []string
	OffsetAmount    float64
	OffsetPct       float64
	MinFloor        *float64
	MaxCeiling      *float64
	MinRatioFloor   *float64
	MaxRatioCeiling *float64
}

// ResolveConfig 合并规则级配置与单币种覆盖，override 为 nil 时直接取规则级
func ResolveConfig(rule *models.PricingRule, override *models.AssetOverride) EffectiveConfig {
	cfg := EffectiveConfig{
		AdNumbers:       rule.AdNumberList(),
		OffsetAmount:    rule.OffsetAmount,
		OffsetPct:       rule.OffsetPct,
		MinFloor:        rule.MinFloor,
		MaxCeiling:      rule.MaxCeiling,
		MinRatioFloor:   rule.MinRatioFloor,
		MaxRatioCeiling: rule.MaxRatioCeiling,
	}
	if override == nil {
		return cfg
	}
	if len(override.AdNumbers) > 0 {
		cfg.AdNumbers = override.AdNumbers
	}
	if override.OffsetAmount != nil {
		cfg.OffsetAmount = *override.OffsetAmount
	}
	if override.OffsetPct != nil {
		cfg.OffsetPct = *override.OffsetPct
	}
	if override.MinFloor != nil {
		cfg.MinFloor = override.MinFloor
	}
	if override.MaxCeiling != nil {
		cfg.MaxCeiling = override.MaxCeiling
	}
	if override.MinRatioFloor != nil {
		cfg.MinRatioFloor = override.MinRatioFloor
	}
	if override.MaxRatioCeiling != nil {
		cfg.MaxRatioCeiling = override.MaxRatioCeiling
	}
	return cfg
}

// Candidate 一次计算产出的候选值（固定价或比例，取决于规则的 price_type）
type Candidate struct {
	Value     float64
	WasCapped bool
}

// Calculate 由竞争对手报价推导候选值。纯函数，无副作用。
//
// 偏移顺序固定：先加减绝对偏移，再按百分比缩放，
// candidate = (competitor ± offset_amount) × (1 ± offset_pct/100)。
// undercut 方向在 BUY 侧取负号（压到最低卖家之下）、SELL 侧取正号；
// match 方向取正号，偏移量为零时即原样跟价。
func Calculate(competitor float64, rule *models.PricingRule, cfg EffectiveConfig) Candidate {
	sign := offsetSign(rule.OffsetDirection, rule.TradeType)

	value := competitor + sign*cfg.OffsetAmount
	value = value * (1 + sign*cfg.OffsetPct/100)

	return Clamp(value, rule, cfg)
}

// Clamp 仅做上下限约束与取整，不施加偏移。静置价兜底路径直接走这里。
func Clamp(value float64, rule *models.PricingRule, cfg EffectiveConfig) Candidate {
	lo, hi := cfg.MinFloor, cfg.MaxCeiling
	if rule.PriceType == models.PriceTypeRatio {
		lo, hi = cfg.MinRatioFloor, cfg.MaxRatioCeiling
	}

	capped := false
	if lo != nil && value < *lo {
		value = *lo
		capped = true
	}
	if hi != nil && value > *hi {
		value = *hi
		capped = true
	}

	return Candidate{Value: roundValue(value, rule.PriceType), WasCapped: capped}
}

func offsetSign(direction, tradeType string) float64 {
	if direction == models.OffsetUndercut && tradeType == models.TradeTypeBuy {
		return -1
	}
	return 1
}

// roundValue 固定价保留2位小数，比例保留4位
func roundValue(v float64, priceType string) float64 {
	if priceType == models.PriceTypeRatio {
		return math.Round(v*10000) / 10000
	}
	return math.Round(v*100) / 100
}
