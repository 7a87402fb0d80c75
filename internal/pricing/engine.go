package pricing

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"p2p-pricer/internal/models"
	"p2p-pricer/internal/services/venue"
)

// VenueAPI 引擎消费的平台侧能力
type VenueAPI interface {
	GetListing(ctx context.Context, merchant, asset, fiat, tradeType string) (*venue.Listing, error)
	GetMarketReference(ctx context.Context, asset, fiat, tradeType string, excludeAdNumbers []string) (float64, error)
	SetAdPrice(ctx context.Context, adNumber string, price, ratio *float64) error
}

// RuleStore 规则存储。运行状态字段只由持有该规则单飞锁的周期写入。
type RuleStore interface {
	ListActive() ([]models.PricingRule, error)
	Get(id uint) (*models.PricingRule, error)
	UpdateRunState(id uint, fields map[string]interface{}) error
	SetActive(id uint, active bool) error
}

// LogSink 执行日志落地，行一经写入不再修改
type LogSink interface {
	Append(entry *models.PricingLog) error
}

// Engine 调价引擎：对单条规则执行一轮评估周期
type Engine struct {
	venue  VenueAPI
	rules  RuleStore
	logs   LogSink
	logger *log.Logger

	now          func() time.Time
	cycleTimeout time.Duration
}

// NewEngine 创建调价引擎
func NewEngine(venueAPI VenueAPI, rules RuleStore, logs LogSink, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		venue:        venueAPI,
		rules:        rules,
		logs:         logs,
		logger:       logger,
		now:          time.Now,
		cycleTimeout: 30 * time.Second,
	}
}

// SetCycleTimeout 设置单轮评估的墙钟超时
func (e *Engine) SetCycleTimeout(d time.Duration) {
	if d > 0 {
		e.cycleTimeout = d
	}
}

// assetResult 单币种子周期的结果，用于合并到规则级计数器
type assetResult struct {
	success  bool
	deviated bool
	failed   bool
	errMsg   string
	errKind  ErrorKind

	competitorPrice *float64
	matchedMerchant string
	appliedPrice    *float64
	appliedRatio    *float64
}

// RunCycle 对单条规则执行一轮评估。rule 是周期开始时读出的配置快照，
// 周期内不再回读。步骤固定：观察 → 计算 → 守卫 → 应用 → 写日志 → 更新运行状态。
func (e *Engine) RunCycle(ctx context.Context, rule *models.PricingRule) {
	ctx, cancel := context.WithTimeout(ctx, e.cycleTimeout)
	defer cancel()

	now := e.now()
	state := map[string]interface{}{"last_checked_at": now}

	// 1. 活跃时段检查，不计数
	if !withinActiveHours(rule, now) {
		e.logRuleSkip(rule, SkipOutsideActiveHours)
		e.updateState(rule.ID, state)
		return
	}

	// 2. 人工改价冷却检查，不计数
	if inManualCooldown(rule, now) {
		e.logRuleSkip(rule, SkipManualCooldown)
		e.updateState(rule.ID, state)
		return
	}

	overrides := rule.Overrides()
	var anySuccess, anyDeviation, anyError bool
	var lastErrMsg string
	var lastErrKind ErrorKind

	// 多币种规则按币种独立子周期执行，单个币种失败不影响其余币种
	for _, asset := range rule.AssetList() {
		var ov *models.AssetOverride
		if o, ok := overrides[asset]; ok {
			ov = &o
		}
		res := e.runAsset(ctx, rule, asset, ov)
		if res.success {
			anySuccess = true
			if res.competitorPrice != nil {
				state["last_competitor_price"] = *res.competitorPrice
			}
			state["last_matched_merchant"] = res.matchedMerchant
			if res.appliedPrice != nil {
				state["last_applied_price"] = *res.appliedPrice
			}
			if res.appliedRatio != nil {
				state["last_applied_ratio"] = *res.appliedRatio
			}
		}
		if res.deviated {
			anyDeviation = true
			lastErrMsg, lastErrKind = res.errMsg, ErrKindDeviation
		}
		if res.failed {
			anyError = true
			lastErrMsg, lastErrKind = res.errMsg, res.errKind
		}
	}

	// 连续偏离计数：任一币种偏离则+1，整轮无偏离且有成功应用则清零
	if anyDeviation {
		rule.ConsecutiveDeviations++
		state["consecutive_deviations"] = rule.ConsecutiveDeviations
	} else if anySuccess {
		state["consecutive_deviations"] = 0
	}

	// 连续错误计数：瞬时错误只计数、只告警，从不自动停用规则
	if anyError {
		rule.ConsecutiveErrors++
		state["consecutive_errors"] = rule.ConsecutiveErrors
		if rule.ConsecutiveErrors >= 3 {
			e.logger.Printf("规则 #%d 连续错误 %d 次: %s", rule.ID, rule.ConsecutiveErrors, lastErrMsg)
		}
	} else if anySuccess {
		state["consecutive_errors"] = 0
	}

	if lastErrKind != ErrKindNone {
		state["last_error"] = lastErrMsg
		state["last_error_kind"] = string(lastErrKind)
	} else if anySuccess {
		state["last_error"] = ""
		state["last_error_kind"] = ""
	}

	e.updateState(rule.ID, state)

	// 自动暂停：连续偏离是唯一的自动停用路径，需运营显式重置才能恢复
	if anyDeviation && rule.AutoPauseAfterDeviations > 0 &&
		rule.ConsecutiveDeviations >= rule.AutoPauseAfterDeviations {
		if err := e.rules.SetActive(rule.ID, false); err != nil {
			e.logger.Printf("规则 #%d 自动暂停写入失败: %v", rule.ID, err)
		} else {
			e.logger.Printf("规则 #%d 连续偏离 %d 次，已自动暂停", rule.ID, rule.ConsecutiveDeviations)
		}
	}
}

// runAsset 执行单币种子周期
func (e *Engine) runAsset(ctx context.Context, rule *models.PricingRule, asset string, ov *models.AssetOverride) assetResult {
	cfg := ResolveConfig(rule, ov)
	isRatio := rule.PriceType == models.PriceTypeRatio

	entry := &models.PricingLog{RuleID: rule.ID, Asset: asset}

	// 3. 市场观察：目标商家 → 后备商家
	listing, err := e.observe(ctx, rule, asset)
	if err != nil {
		return e.failAsset(entry, classifyVenueError(err), fmt.Sprintf("查询商家广告失败: %v", err))
	}

	// 独立市场参考价，剔除本规则自己控制的广告
	reference, refErr := e.venue.GetMarketReference(ctx, asset, rule.Fiat, rule.TradeType, cfg.AdNumbers)
	if refErr == nil {
		entry.MarketReferencePrice = &reference
	}

	var candidate Candidate
	if listing != nil {
		// 4. 仅跟在线商家
		if rule.OnlyCounterWhenOnline && !listing.Online {
			entry.CompetitorMerchant = listing.Merchant
			e.skipAsset(entry, SkipMerchantOffline)
			return assetResult{}
		}
		competitor := listing.Price
		if isRatio {
			competitor = listing.Ratio
		}
		if competitor <= 0 {
			return e.failAsset(entry, ErrKindTransient,
				fmt.Sprintf("商家 %s 的广告缺少有效报价", listing.Merchant))
		}
		entry.CompetitorMerchant = listing.Merchant
		entry.CompetitorPrice = &competitor
		candidate = Calculate(competitor, rule, cfg)
	} else {
		// 3. 无可跟踪商家
		if rule.PauseIfNoMerchantFound {
			entry.Status = models.LogStatusSkipped
			entry.SkippedReason = string(SkipNoMerchantFound)
			e.append(entry)
			return assetResult{
				failed:  true,
				errKind: ErrKindMerchantNotFound,
				errMsg:  "目标商家及后备商家均无在线广告",
			}
		}
		resting := rule.RestingPrice
		if isRatio {
			resting = rule.RestingRatio
		}
		if resting == nil {
			e.skipAsset(entry, SkipNoMerchantFound)
			return assetResult{}
		}
		// 静置价兜底，不施加偏移但仍受上下限约束
		candidate = Clamp(*resting, rule, cfg)
	}

	calcVal := candidate.Value
	if isRatio {
		entry.CalculatedRatio = &calcVal
	} else {
		entry.CalculatedPrice = &calcVal
	}
	entry.WasCapped = candidate.WasCapped

	// 5. 偏离检查
	if rule.MaxDeviationFromMarketPct > 0 {
		if refErr != nil {
			return e.failAsset(entry, classifyVenueError(refErr),
				fmt.Sprintf("获取市场参考价失败: %v", refErr))
		}
		effective := candidate.Value
		if isRatio {
			effective = candidate.Value * reference
		}
		dev := DeviationPct(effective, reference)
		entry.DeviationFromMarket = &dev
		if math.Abs(dev) > rule.MaxDeviationFromMarketPct {
			e.skipAsset(entry, SkipDeviationExceeded)
			return assetResult{
				deviated: true,
				errKind:  ErrKindDeviation,
				errMsg:   fmt.Sprintf("候选价偏离市场参考价 %.2f%%，超过阈值 %.2f%%", dev, rule.MaxDeviationFromMarketPct),
			}
		}
	} else if refErr == nil && reference > 0 {
		effective := candidate.Value
		if isRatio {
			effective = candidate.Value * reference
		}
		dev := DeviationPct(effective, reference)
		entry.DeviationFromMarket = &dev
	}

	// 6. 步长限制：截断步长而不是拒绝，逐轮向目标靠拢
	last, maxChange := rule.LastAppliedPrice, rule.MaxPriceChangePerCycle
	if isRatio {
		last, maxChange = rule.LastAppliedRatio, rule.MaxRatioChangePerCycle
	}
	applied, limited := RateLimit(candidate.Value, last, maxChange)
	entry.WasRateLimited = limited

	if len(cfg.AdNumbers) == 0 {
		e.skipAsset(entry, SkipNoAdNumbers)
		return assetResult{}
	}

	// 7. 应用：逐条广告推送，单条失败不阻断其余广告
	res := assetResult{
		matchedMerchant: entry.CompetitorMerchant,
		competitorPrice: entry.CompetitorPrice,
	}
	var applyErr error
	var applyKind ErrorKind
	okCount := 0
	for _, adNo := range cfg.AdNumbers {
		adEntry := *entry
		adEntry.AdNumber = adNo
		value := applied
		var pricePtr, ratioPtr *float64
		if isRatio {
			ratioPtr = &value
			adEntry.AppliedRatio = &value
		} else {
			pricePtr = &value
			adEntry.AppliedPrice = &value
		}
		if err := e.venue.SetAdPrice(ctx, adNo, pricePtr, ratioPtr); err != nil {
			applyErr = err
			applyKind = classifyVenueError(err)
			adEntry.Status = models.LogStatusError
			adEntry.ErrorMessage = fmt.Sprintf("更新广告 %s 价格失败: %v", adNo, err)
			adEntry.AppliedPrice = nil
			adEntry.AppliedRatio = nil
			e.append(&adEntry)
			continue
		}
		okCount++
		adEntry.Status = models.LogStatusSuccess
		e.append(&adEntry)
	}

	if okCount > 0 {
		res.success = true
		if isRatio {
			res.appliedRatio = &applied
		} else {
			res.appliedPrice = &applied
		}
	}
	if applyErr != nil {
		res.failed = true
		res.errMsg = fmt.Sprintf("更新广告价格失败: %v", applyErr)
		res.errKind = applyKind
	}
	return res
}

// logRuleSkip 整条规则级别的跳过记录（活跃时段、冷却）
func (e *Engine) logRuleSkip(rule *models.PricingRule, reason SkipReason) {
	e.append(&models.PricingLog{
		RuleID:        rule.ID,
		Asset:         rule.Asset,
		Status:        models.LogStatusSkipped,
		SkippedReason: string(reason),
	})
}

func (e *Engine) skipAsset(entry *models.PricingLog, reason SkipReason) {
	entry.Status = models.LogStatusSkipped
	entry.SkippedReason = string(reason)
	e.append(entry)
}

func (e *Engine) failAsset(entry *models.PricingLog, kind ErrorKind, msg string) assetResult {
	entry.Status = models.LogStatusError
	entry.ErrorMessage = msg
	e.append(entry)
	return assetResult{failed: true, errKind: kind, errMsg: msg}
}

func (e *Engine) append(entry *models.PricingLog) {
	if err := e.logs.Append(entry); err != nil {
		e.logger.Printf("写执行日志失败 (规则 #%d): %v", entry.RuleID, err)
	}
}

func (e *Engine) updateState(ruleID uint, fields map[string]interface{}) {
	if err := e.rules.UpdateRunState(ruleID, fields); err != nil {
		e.logger.Printf("更新规则 #%d 运行状态失败: %v", ruleID, err)
	}
}
