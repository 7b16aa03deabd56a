package domain

// DefaultFeeRateBase 交易所手续费模型的基准费率
const DefaultFeeRateBase = 0.0156

// FeeRate 给定价格下的手续费率
// 费率在 p=0.5 处最高（等于基准费率），向两端按 4p(1-p) 递减
func FeeRate(price, base float64) float64 {
	if price <= 0 || price >= 1 {
		return 0
	}
	return base * 4 * price * (1 - price)
}

// FeeAdjustedPnL 扣除买卖双边手续费后的盈亏
// 买入成本按 (1+买入费率) 放大，卖出所得按 (1-卖出费率) 缩减
func FeeAdjustedPnL(entryPrice, exitPrice, size, base float64) float64 {
	buyFee := FeeRate(entryPrice, base)
	sellFee := FeeRate(exitPrice, base)
	return (exitPrice*(1-sellFee) - entryPrice*(1+buyFee)) * size
}
