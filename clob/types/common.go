package types

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good Till Cancel - 一直有效直到取消
	OrderTypeFOK OrderType = "FOK" // Fill or Kill - 全部成交或全部取消
	OrderTypeFAK OrderType = "FAK" // Fill and Kill - 部分成交，剩余取消
)

// Chain 区块链网络
type Chain int

const (
	ChainPolygon Chain = 137
	ChainAmoy    Chain = 80002
)

// SignatureType 签名类型
// 描述签名私钥与资金账户之间的关系
type SignatureType int

const (
	SignatureTypeEOA        SignatureType = 0 // EOA - 直接使用标准钱包
	SignatureTypeMagic      SignatureType = 1 // POLY_PROXY - Magic Link 邮箱登录代理钱包
	SignatureTypeGnosisSafe SignatureType = 2 // GNOSIS_SAFE - Gnosis Safe 多签代理钱包
)

// AssetType 资产类型
type AssetType string

const (
	AssetTypeCollateral  AssetType = "COLLATERAL"
	AssetTypeConditional AssetType = "CONDITIONAL"
)

// TickSize 价格精度
type TickSize string

const (
	TickSize01    TickSize = "0.1"
	TickSize001   TickSize = "0.01"
	TickSize0001  TickSize = "0.001"
	TickSize00001 TickSize = "0.0001"
)

// ApiKeyCreds API 密钥凭证（L2 认证）
type ApiKeyCreds struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// ApiKeyRaw 原始 API 密钥（API 返回格式）
type ApiKeyRaw struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// L1PolyHeader L1 认证头（EIP712 签名验证）
type L1PolyHeader struct {
	PolyAddress   string
	PolySignature string
	PolyTimestamp string
	PolyNonce     string
}

// L2PolyHeader L2 认证头（API 密钥 HMAC 验证）
type L2PolyHeader struct {
	PolyAddress    string
	PolySignature  string
	PolyTimestamp  string
	PolyAPIKey     string
	PolyPassphrase string
}

// L2HeaderArgs L2 认证头构建参数
type L2HeaderArgs struct {
	Method      string
	RequestPath string
	Body        *string
}

// OrderBookLevel 订单簿单档（价格和数量均为十进制字符串）
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderBookSummary 订单簿摘要
type OrderBookSummary struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Timestamp string           `json:"timestamp"`
	Hash      string           `json:"hash"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// MarketPrice 单边市场价格
type MarketPrice struct {
	Price string `json:"price"`
}

// BalanceAllowanceParams 余额查询参数
type BalanceAllowanceParams struct {
	AssetType AssetType
	TokenID   string
}

// BalanceAllowanceResponse 余额查询响应
type BalanceAllowanceResponse struct {
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// DataPosition 数据 API 返回的持仓行
type DataPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	CurrentValue float64 `json:"currentValue"`
}
