package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrListingNotFound 目标商家在该币种/方向上没有在线广告
var ErrListingNotFound = errors.New("listing not found")

// APIError 平台返回的业务错误（非传输层错误）
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue api error %d: %s", e.Code, e.Msg)
}

// IsTransient 判断平台错误是否为瞬时错误（限流、休市），可等下一轮重试
func (e *APIError) IsTransient() bool {
	return e.Code == CodeRateLimited || e.Code == CodeMarketBreak
}

// Client P2P平台广告接口客户端
type Client struct {
	baseURL string
	apiKey  string
	secret  string
	client  *resty.Client

	// 市场参考价取样档数
	referenceSampleSize int
}

// NewClient 创建平台客户端
func NewClient(baseURL, apiKey, secret string) *Client {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetBaseURL(baseURL)

	return &Client{
		baseURL:             baseURL,
		apiKey:              apiKey,
		secret:              secret,
		client:              client,
		referenceSampleSize: 10,
	}
}

// SetReferenceSampleSize 设置参考价取样档数
func (c *Client) SetReferenceSampleSize(n int) {
	if n > 0 {
		c.referenceSampleSize = n
	}
}

// GetListing 查询指定商家在 (asset, fiat, tradeType) 上的在线广告
func (c *Client) GetListing(ctx context.Context, merchant, asset, fiat, tradeType string) (*Listing, error) {
	req := searchAdsRequest{
		Asset:     asset,
		Fiat:      fiat,
		TradeType: tradeType,
		Merchant:  merchant,
		Page:      1,
		Rows:      5,
	}

	var result searchAdsResponse
	if err := c.post(ctx, "/api/v1/adv/search", req, &result); err != nil {
		return nil, err
	}
	if result.Code != CodeOK {
		return nil, &APIError{Code: result.Code, Msg: result.Msg}
	}

	for _, entry := range result.Data {
		if entry.MerchantNickname != merchant || entry.AdvStatus != 1 {
			continue
		}
		listing, err := entry.toListing()
		if err != nil {
			return nil, err
		}
		return listing, nil
	}
	return nil, ErrListingNotFound
}

// GetMarketReference 计算独立的市场参考价：取该币种/方向头部广告的价格中位数。
// excludeAdNumbers 用于剔除规则自己控制的广告，避免自我验证。
func (c *Client) GetMarketReference(ctx context.Context, asset, fiat, tradeType string, excludeAdNumbers []string) (float64, error) {
	req := searchAdsRequest{
		Asset:     asset,
		Fiat:      fiat,
		TradeType: tradeType,
		Page:      1,
		Rows:      c.referenceSampleSize,
	}

	var result searchAdsResponse
	if err := c.post(ctx, "/api/v1/adv/search", req, &result); err != nil {
		return 0, err
	}
	if result.Code != CodeOK {
		return 0, &APIError{Code: result.Code, Msg: result.Msg}
	}

	excluded := make(map[string]bool, len(excludeAdNumbers))
	for _, no := range excludeAdNumbers {
		excluded[no] = true
	}

	var prices []float64
	for _, entry := range result.Data {
		if entry.AdvStatus != 1 || excluded[entry.AdvNo] {
			continue
		}
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		prices = append(prices, price)
	}
	if len(prices) == 0 {
		return 0, ErrListingNotFound
	}

	sort.Float64s(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 0 {
		return (prices[mid-1] + prices[mid]) / 2, nil
	}
	return prices[mid], nil
}

// SetAdPrice 修改自己广告的价格（固定价）或浮动比例（比例模式），二选一
func (c *Client) SetAdPrice(ctx context.Context, adNumber string, price, ratio *float64) error {
	req := updatePriceRequest{AdvNo: adNumber}
	if price != nil {
		req.Price = strconv.FormatFloat(*price, 'f', 2, 64)
	}
	if ratio != nil {
		req.PriceRatio = strconv.FormatFloat(*ratio, 'f', 4, 64)
	}

	var result updatePriceResponse
	if err := c.post(ctx, "/api/v1/adv/update-price", req, &result); err != nil {
		return err
	}
	if result.Code != CodeOK {
		return &APIError{Code: result.Code, Msg: result.Msg}
	}
	return nil
}

// post 发送签名请求。签名方式：HMAC-SHA256(secret, timestamp + body)
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("X-TIMESTAMP", timestamp).
		SetHeader("X-SIGNATURE", c.sign(timestamp, payload)).
		SetBody(payload).
		Post(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("failed to decode venue response: %w", err)
	}
	return nil
}

func (c *Client) sign(timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *advEntry) toListing() (*Listing, error) {
	price, err := strconv.ParseFloat(e.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q in adv %s: %w", e.Price, e.AdvNo, err)
	}
	var ratio float64
	if e.PriceRatio != "" {
		ratio, err = strconv.ParseFloat(e.PriceRatio, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ratio %q in adv %s: %w", e.PriceRatio, e.AdvNo, err)
		}
	}
	return &Listing{
		AdNumber: e.AdvNo,
		Merchant: e.MerchantNickname,
		Price:    price,
		Ratio:    ratio,
		Online:   e.MerchantOnline,
	}, nil
}
