package venue

// Listing 商家在平台上的一条在售/在购广告
type Listing struct {
	AdNumber string  `json:"ad_number"`
	Merchant string  `json:"merchant"`
	Price    float64 `json:"price"`
	Ratio    float64 `json:"ratio"`
	Online   bool    `json:"online"`
}

// searchAdsRequest 广告检索请求
type searchAdsRequest struct {
	Asset     string `json:"asset"`
	Fiat      string `json:"fiat"`
	TradeType string `json:"tradeType"`
	Merchant  string `json:"merchant,omitempty"`
	Page      int    `json:"page"`
	Rows      int    `json:"rows"`
}

// advEntry 检索结果中的单条广告
type advEntry struct {
	AdvNo            string `json:"advNo"`
	MerchantNickname string `json:"merchantNickname"`
	Price            string `json:"price"`
	PriceRatio       string `json:"priceFloatingRatio"`
	MerchantOnline   bool   `json:"merchantOnline"`
	AdvStatus        int    `json:"advStatus"` // 1=在线
}

// searchAdsResponse 广告检索响应
type searchAdsResponse struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data []advEntry `json:"data"`
}

// updatePriceRequest 改价请求
type updatePriceRequest struct {
	AdvNo      string `json:"advNo"`
	Price      string `json:"price,omitempty"`
	PriceRatio string `json:"priceFloatingRatio,omitempty"`
}

// updatePriceResponse 改价响应
type updatePriceResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		AdvNo  string `json:"advNo"`
		Status string `json:"status"`
	} `json:"data"`
}

// 平台业务错误码
const (
	CodeOK              = 0
	CodeAdvNotFound     = 4001 // 广告不存在或已下架
	CodePermissionDeny  = 4003 // 无权修改该广告
	CodeRateLimited     = 4290 // 平台限流
	CodeMarketBreak     = 4501 // 平台休市/维护时段
	CodePriceOutOfRange = 4102 // 价格超出平台允许区间
)
