package export

import (
	"fmt"

	"p2p-pricer/internal/models"

	"github.com/xuri/excelize/v2"
)

const logSheet = "PricingLogs"

// LogsToExcel 把执行日志导出为Excel工作簿（运营对账用）
func LogsToExcel(logs []models.PricingLog) (*excelize.File, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(logSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	headers := []string{
		"ID", "规则ID", "广告编号", "币种", "竞对商家", "竞对报价",
		"市场参考价", "偏离(%)", "计算价", "计算比例", "应用价", "应用比例",
		"触界", "限速", "跳过原因", "状态", "错误信息", "时间",
	}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(logSheet, cell, header); err != nil {
			return nil, err
		}
	}

	for rowIdx, entry := range logs {
		values := []interface{}{
			entry.ID, entry.RuleID, entry.AdNumber, entry.Asset,
			entry.CompetitorMerchant, floatCell(entry.CompetitorPrice),
			floatCell(entry.MarketReferencePrice), floatCell(entry.DeviationFromMarket),
			floatCell(entry.CalculatedPrice), floatCell(entry.CalculatedRatio),
			floatCell(entry.AppliedPrice), floatCell(entry.AppliedRatio),
			entry.WasCapped, entry.WasRateLimited,
			entry.SkippedReason, entry.Status, entry.ErrorMessage,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(logSheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func floatCell(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
