package domain

import "github.com/betbot/pmbot/clob/types"

// ExecutionTier 订单最终成交所在的层级
type ExecutionTier string

const (
	// TierFAK 即时成交层（Fill-And-Kill）
	TierFAK ExecutionTier = "FAK"
	// TierFOK 全部成交层（Fill-Or-Kill）
	TierFOK ExecutionTier = "FOK"
	// TierGTC 限价兜底层（Good-Til-Cancelled）
	TierGTC ExecutionTier = "GTC"
	// TierPaper 纸交易
	TierPaper ExecutionTier = "PAPER"
)

// OrderResult 执行引擎返回的订单结果
type OrderResult struct {
	Success  bool
	OrderID  string
	Status   string
	Tier     ExecutionTier // 成交所在的层级
	Side     types.Side
	TokenID  string
	Price      float64 // 下单价格
	Size       float64 // 下单数量
	FilledSize float64 // 实际成交数量，挂单未成交时为 0
	AvgPrice   float64 // 实际成交均价，无成交时为 0
	Message    string  // 失败原因或提示
	Guidance   string  // 面向用户的操作建议（地域限制等）
}
