package client

// CLOB API 端点常量
const (
	EndpointTime = "/time"

	// API 密钥
	EndpointCreateAPIKey = "/auth/api-key"
	EndpointDeriveAPIKey = "/auth/derive-api-key"

	// 市场数据
	EndpointGetOrderBook      = "/book"
	EndpointGetMidpoint       = "/midpoint"
	EndpointGetPrice          = "/price"
	EndpointGetLastTradePrice = "/last-trade-price"

	// 订单
	EndpointPostOrder     = "/order"
	EndpointCancelOrder   = "/order"
	EndpointCancelAll     = "/cancel-all"
	EndpointGetOpenOrders = "/data/orders"
	EndpointGetOrder      = "/data/order/"

	// 余额
	EndpointGetBalanceAllowance = "/balance-allowance"
)

// 默认主机地址
const (
	DefaultHost     = "https://clob.polymarket.com"
	DefaultDataHost = "https://data-api.polymarket.com"
	DefaultWSHost   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
)
