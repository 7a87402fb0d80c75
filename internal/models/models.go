package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Trade side of the controlled ads.
const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// Pricing mode of the controlled ads.
const (
	PriceTypeFixed = "fixed" // absolute fiat price
	PriceTypeRatio = "ratio" // multiplier against the market reference
)

// Offset direction relative to the tracked competitor.
const (
	OffsetUndercut = "undercut" // sit below the cheapest seller (BUY) / above (SELL)
	OffsetMatch    = "match"    // mirror the competitor, offsets still additive
)

// PricingRule is one unit of automation: track a competitor's listing and
// keep our own ads priced against it within the configured safety bounds.
//
// Configuration fields are owned by the operator; run-state fields (the
// Last*/Consecutive* block) are written only by the pricing engine, or
// cleared through the explicit reset action.
type PricingRule struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"not null"`
	IsActive bool   `json:"is_active" gorm:"default:false"`

	// Targeting
	Asset     string `json:"asset" gorm:"not null"`
	Assets    string `json:"assets" gorm:"type:text"` // JSON array stored as string, multi-asset rules
	Fiat      string `json:"fiat" gorm:"not null"`
	TradeType string `json:"trade_type" gorm:"not null"`         // BUY, SELL
	PriceType string `json:"price_type" gorm:"default:'fixed'"` // fixed, ratio

	// Competitor selection
	TargetMerchant    string `json:"target_merchant" gorm:"not null"`
	FallbackMerchants string `json:"fallback_merchants" gorm:"type:text"` // JSON array stored as string
	AdNumbers         string `json:"ad_numbers" gorm:"type:text"`         // JSON array stored as string
	AssetConfig       string `json:"asset_config" gorm:"type:text"`       // JSON object: asset symbol -> AssetOverride

	// Offset model
	OffsetDirection string  `json:"offset_direction" gorm:"default:'undercut'"`
	OffsetAmount    float64 `json:"offset_amount"`
	OffsetPct       float64 `json:"offset_pct"`

	// Safety bounds (nil means unbounded on that side)
	MaxCeiling                *float64 `json:"max_ceiling"`
	MinFloor                  *float64 `json:"min_floor"`
	MaxRatioCeiling           *float64 `json:"max_ratio_ceiling"`
	MinRatioFloor             *float64 `json:"min_ratio_floor"`
	MaxDeviationFromMarketPct float64  `json:"max_deviation_from_market_pct"`
	MaxPriceChangePerCycle    *float64 `json:"max_price_change_per_cycle"`
	MaxRatioChangePerCycle    *float64 `json:"max_ratio_change_per_cycle"`

	// Resilience knobs
	AutoPauseAfterDeviations      int    `json:"auto_pause_after_deviations" gorm:"default:3"`
	ManualOverrideCooldownMinutes int    `json:"manual_override_cooldown_minutes"`
	OnlyCounterWhenOnline         bool   `json:"only_counter_when_online" gorm:"default:false"`
	PauseIfNoMerchantFound        bool   `json:"pause_if_no_merchant_found" gorm:"default:false"`
	ActiveHoursStart              string `json:"active_hours_start"` // "HH:MM" local, empty = always
	ActiveHoursEnd                string `json:"active_hours_end"`

	CheckIntervalSeconds int `json:"check_interval_seconds" gorm:"default:60"`

	// Run-state, engine-owned
	LastCheckedAt         *time.Time `json:"last_checked_at"`
	LastCompetitorPrice   *float64   `json:"last_competitor_price"`
	LastAppliedPrice      *float64   `json:"last_applied_price"`
	LastAppliedRatio      *float64   `json:"last_applied_ratio"`
	LastMatchedMerchant   string     `json:"last_matched_merchant"`
	LastError             string     `json:"last_error"`
	LastErrorKind         string     `json:"last_error_kind"` // see pricing.ErrorKind
	ConsecutiveErrors     int        `json:"consecutive_errors"`
	ConsecutiveDeviations int        `json:"consecutive_deviations"`
	LastManualEditAt      *time.Time `json:"last_manual_edit_at"`
	RestingPrice          *float64   `json:"resting_price"`
	RestingRatio          *float64   `json:"resting_ratio"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// AssetOverride is the per-asset slice of a rule's offset/bound configuration,
// stored inside PricingRule.AssetConfig. A nil field falls back to the
// rule-level value; a present field wins.
type AssetOverride struct {
	AdNumbers       []string `json:"ad_numbers,omitempty"`
	OffsetAmount    *float64 `json:"offset_amount,omitempty"`
	OffsetPct       *float64 `json:"offset_pct,omitempty"`
	MaxCeiling      *float64 `json:"max_ceiling,omitempty"`
	MinFloor        *float64 `json:"min_floor,omitempty"`
	MaxRatioCeiling *float64 `json:"max_ratio_ceiling,omitempty"`
	MinRatioFloor   *float64 `json:"min_ratio_floor,omitempty"`
}

// AssetList returns the assets this rule prices, primary asset first.
func (r *PricingRule) AssetList() []string {
	assets := decodeStringList(r.Assets)
	if len(assets) == 0 && r.Asset != "" {
		return []string{r.Asset}
	}
	return assets
}

// FallbackList returns the fallback merchant nicknames in priority order.
func (r *PricingRule) FallbackList() []string {
	return decodeStringList(r.FallbackMerchants)
}

// AdNumberList returns the rule-level ad numbers.
func (r *PricingRule) AdNumberList() []string {
	return decodeStringList(r.AdNumbers)
}

// Overrides decodes the per-asset override map. Malformed JSON yields an
// empty map rather than an error so a bad edit degrades to rule defaults.
func (r *PricingRule) Overrides() map[string]AssetOverride {
	out := make(map[string]AssetOverride)
	if r.AssetConfig == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.AssetConfig), &out)
	return out
}

func decodeStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// Cycle outcome recorded in PricingLog.Status.
const (
	LogStatusSuccess = "success"
	LogStatusSkipped = "skipped"
	LogStatusError   = "error"
)

// PricingLog is one immutable row per evaluation cycle (per asset for
// multi-asset rules). Rows are append-only and are the audit trail behind
// the rules' consecutive counters.
type PricingLog struct {
	ID                   uint     `json:"id" gorm:"primaryKey"`
	RuleID               uint     `json:"rule_id" gorm:"index;not null"`
	AdNumber             string   `json:"ad_number"`
	Asset                string   `json:"asset"`
	CompetitorMerchant   string   `json:"competitor_merchant"`
	CompetitorPrice      *float64 `json:"competitor_price"`
	MarketReferencePrice *float64 `json:"market_reference_price"`
	DeviationFromMarket  *float64 `json:"deviation_from_market_pct"`
	CalculatedPrice      *float64 `json:"calculated_price"`
	CalculatedRatio      *float64 `json:"calculated_ratio"`
	AppliedPrice         *float64 `json:"applied_price"`
	AppliedRatio         *float64 `json:"applied_ratio"`
	WasCapped            bool     `json:"was_capped"`
	WasRateLimited       bool     `json:"was_rate_limited"`
	SkippedReason        string   `json:"skipped_reason"`
	Status               string   `json:"status" gorm:"index"` // success, skipped, error
	ErrorMessage         string   `json:"error_message"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
