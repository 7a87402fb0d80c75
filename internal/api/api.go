package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"p2p-pricer/internal/export"
	"p2p-pricer/internal/models"
	"p2p-pricer/internal/pricing"
	"p2p-pricer/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type APIHandler struct {
	rules     *store.RuleStore
	logs      *store.LogStore
	scheduler *pricing.Scheduler
	hub       *LogHub
}

func SetupRoutes(r *gin.RouterGroup, rules *store.RuleStore, logs *store.LogStore, scheduler *pricing.Scheduler, hub *LogHub) *APIHandler {
	handler := &APIHandler{
		rules:     rules,
		logs:      logs,
		scheduler: scheduler,
		hub:       hub,
	}

	// 规则管理
	ruleGroup := r.Group("/rules")
	{
		ruleGroup.GET("", handler.ListRules)
		ruleGroup.POST("", handler.CreateRule)
		ruleGroup.GET("/:id", handler.GetRule)
		ruleGroup.PUT("/:id", handler.UpdateRule)
		ruleGroup.DELETE("/:id", handler.DeleteRule)

		// 启停与恢复
		ruleGroup.POST("/:id/activate", handler.ActivateRule)
		ruleGroup.POST("/:id/deactivate", handler.DeactivateRule)
		ruleGroup.POST("/:id/reset", handler.ResetRule)

		// 手动触发一轮评估
		ruleGroup.POST("/:id/trigger", handler.TriggerRule)

		// 运营带外改价登记，开启冷却窗口
		ruleGroup.POST("/:id/manual-edit", handler.MarkManualEdit)

		ruleGroup.GET("/:id/alert", handler.GetRuleAlert)
	}

	// 告警总览
	r.GET("/alerts", handler.ListAlerts)

	// 执行日志
	logGroup := r.Group("/logs")
	{
		logGroup.GET("", handler.QueryLogs)
		logGroup.GET("/export", handler.ExportLogs)
	}

	// 执行日志实时推送
	r.GET("/ws/logs", handler.hub.Serve)

	return handler
}

func (h *APIHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *APIHandler) CreateRule(c *gin.Context) {
	var rule models.PricingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 运行状态字段由引擎独占，创建时一律清零
	clearRunState(&rule)

	if err := h.rules.Create(&rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *APIHandler) GetRule(c *gin.Context) {
	rule, ok := h.findRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *APIHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var rule models.PricingRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 只写配置列，不触碰运行状态
	if err := h.rules.UpdateConfig(id, &rule); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.rules.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *APIHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *APIHandler) ActivateRule(c *gin.Context) {
	h.setActive(c, true)
}

func (h *APIHandler) DeactivateRule(c *gin.Context) {
	h.setActive(c, false)
}

func (h *APIHandler) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.rules.SetActive(id, active); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_active": active})
}

func (h *APIHandler) ResetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.rules.ResetCounters(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *APIHandler) TriggerRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.scheduler.Trigger(id); err != nil {
		if errors.Is(err, pricing.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"status": "rejected", "error": "already_running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *APIHandler) MarkManualEdit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	now := time.Now()
	if err := h.rules.MarkManualEdit(id, now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_manual_edit_at": now})
}

func (h *APIHandler) GetRuleAlert(c *gin.Context) {
	rule, ok := h.findRule(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, pricing.Classify(rule))
}

func (h *APIHandler) ListAlerts(c *gin.Context) {
	rules, err := h.rules.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	alerts := make([]pricing.AlertState, 0)
	for i := range rules {
		state := pricing.Classify(&rules[i])
		if state.Alerting {
			alerts = append(alerts, state)
		}
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *APIHandler) QueryLogs(c *gin.Context) {
	ruleID, limit, ok := parseLogQuery(c)
	if !ok {
		return
	}
	logs, err := h.logs.Query(ruleID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *APIHandler) ExportLogs(c *gin.Context) {
	ruleID, limit, ok := parseLogQuery(c)
	if !ok {
		return
	}
	logs, err := h.logs.Query(ruleID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	file, err := export.LogsToExcel(logs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("pricing_logs_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := file.Write(c.Writer); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

func (h *APIHandler) findRule(c *gin.Context) (*models.PricingRule, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	rule, err := h.rules.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return nil, false
	}
	return rule, true
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return 0, false
	}
	return uint(id), true
}

func parseLogQuery(c *gin.Context) (*uint, int, bool) {
	var ruleID *uint
	if raw := c.Query("rule_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule_id"})
			return nil, 0, false
		}
		v := uint(id)
		ruleID = &v
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	return ruleID, limit, true
}

func validateRule(rule *models.PricingRule) error {
	if rule.Name == "" {
		return errors.New("name is required")
	}
	if rule.Asset == "" || rule.Fiat == "" {
		return errors.New("asset and fiat are required")
	}
	if rule.TradeType != models.TradeTypeBuy && rule.TradeType != models.TradeTypeSell {
		return errors.New("trade_type must be BUY or SELL")
	}
	if rule.PriceType != models.PriceTypeFixed && rule.PriceType != models.PriceTypeRatio {
		return errors.New("price_type must be fixed or ratio")
	}
	if rule.OffsetDirection != models.OffsetUndercut && rule.OffsetDirection != models.OffsetMatch {
		return errors.New("offset_direction must be undercut or match")
	}
	if rule.TargetMerchant == "" {
		return errors.New("target_merchant is required")
	}
	if err := validateClockField("active_hours_start", rule.ActiveHoursStart); err != nil {
		return err
	}
	if err := validateClockField("active_hours_end", rule.ActiveHoursEnd); err != nil {
		return err
	}
	return nil
}

// 引擎对解析不了的时段窗口按全天生效处理，拼写错误一旦入库会
// 无声地禁用时段限制，所以必须在入口挡住
func validateClockField(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("%s must be in HH:MM format", field)
	}
	return nil
}

func clearRunState(rule *models.PricingRule) {
	rule.ID = 0
	rule.LastCheckedAt = nil
	rule.LastCompetitorPrice = nil
	rule.LastAppliedPrice = nil
	rule.LastAppliedRatio = nil
	rule.LastMatchedMerchant = ""
	rule.LastError = ""
	rule.LastErrorKind = ""
	rule.ConsecutiveErrors = 0
	rule.ConsecutiveDeviations = 0
	rule.LastManualEditAt = nil
}
