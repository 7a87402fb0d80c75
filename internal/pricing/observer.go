package pricing

import (
	"context"
	"errors"

	"p2p-pricer/internal/models"
	"p2p-pricer/internal/services/venue"
)

// observe 市场观察：依次尝试目标商家与后备商家，返回第一个有在线广告的商家。
// 整条链都没有在线广告时返回 (nil, nil)，由调用方决定如何处理；
// 传输层/平台错误原样上抛，是否计入连续错误由调用方决定。只读，无副作用。
func (e *Engine) observe(ctx context.Context, rule *models.PricingRule, asset string) (*venue.Listing, error) {
	merchants := make([]string, 0, 1+len(rule.FallbackList()))
	if rule.TargetMerchant != "" {
		merchants = append(merchants, rule.TargetMerchant)
	}
	merchants = append(merchants, rule.FallbackList()...)

	for _, merchant := range merchants {
		listing, err := e.venue.GetListing(ctx, merchant, asset, rule.Fiat, rule.TradeType)
		if errors.Is(err, venue.ErrListingNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return listing, nil
	}
	return nil, nil
}

// classifyVenueError 在失败发生点定级，供 last_error_kind 与告警分类使用
func classifyVenueError(err error) ErrorKind {
	var apiErr *venue.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case venue.CodeMarketBreak:
			return ErrKindVenueBreak
		case venue.CodeRateLimited:
			return ErrKindTransient
		default:
			// 广告不存在、无权限、价格越界等平台明确拒绝
			return ErrKindVenueRejected
		}
	}
	// 网络错误、超时
	return ErrKindTransient
}
