package client

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/betbot/pmbot/clob/signing"
	"github.com/betbot/pmbot/clob/types"
)

// RoundConfig 舍入配置
type RoundConfig struct {
	Price  int32 // 价格小数位数
	Size   int32 // 数量小数位数
	Amount int32 // 金额小数位数
}

// RoundingConfig 根据 tick size 返回舍入配置
var RoundingConfig = map[types.TickSize]RoundConfig{
	types.TickSize01:    {Price: 1, Size: 2, Amount: 3},
	types.TickSize001:   {Price: 2, Size: 2, Amount: 4},
	types.TickSize0001:  {Price: 3, Size: 2, Amount: 5},
	types.TickSize00001: {Price: 4, Size: 2, Amount: 6},
}

// zeroAddress 公开订单的 taker 地址
const zeroAddress = "0x0000000000000000000000000000000000000000"

// BuildOrder 构建并签名订单
func (c *Client) BuildOrder(userOrder *types.UserOrder, options *types.CreateOrderOptions) (*types.SignedOrder, error) {
	if err := c.CanL1Auth(); err != nil {
		return nil, err
	}

	contractConfig, err := GetContractConfig(c.chainID)
	if err != nil {
		return nil, fmt.Errorf("获取合约配置失败: %w", err)
	}

	roundConfig, ok := RoundingConfig[options.TickSize]
	if !ok {
		return nil, fmt.Errorf("不支持的 tick size: %s", options.TickSize)
	}

	signerAddress := crypto.PubkeyToAddress(c.authConfig.PrivateKey.PublicKey)

	// maker 为资金账户地址（代理钱包模式下与 signer 不同）
	maker := signerAddress.Hex()
	if c.authConfig.FunderAddress != "" {
		maker = c.authConfig.FunderAddress
	}

	rawMakerAmt, rawTakerAmt := getOrderRawAmounts(
		userOrder.Side,
		userOrder.Size,
		userOrder.Price,
		roundConfig,
	)

	// 转换为链上单位（USDC 精度为 6）
	makerAmount := parseUnits(rawMakerAmt, CollateralTokenDecimals)
	takerAmount := parseUnits(rawTakerAmt, ConditionalTokenDecimals)

	taker := zeroAddress
	if userOrder.Taker != nil && *userOrder.Taker != "" {
		taker = *userOrder.Taker
	}

	feeRateBps := big.NewInt(0)
	if userOrder.FeeRateBps != nil {
		feeRateBps = big.NewInt(int64(*userOrder.FeeRateBps))
	}

	nonce := big.NewInt(0)
	if userOrder.Nonce != nil {
		nonce = big.NewInt(int64(*userOrder.Nonce))
	}

	expiration := big.NewInt(0)
	if userOrder.Expiration != nil {
		expiration = big.NewInt(*userOrder.Expiration)
	}

	salt := time.Now().UnixNano()

	tokenID := new(big.Int)
	tokenID, ok = tokenID.SetString(userOrder.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("无效的 tokenID: %s", userOrder.TokenID)
	}

	exchangeAddress := contractConfig.Exchange
	if options.NegRisk {
		exchangeAddress = contractConfig.NegRiskExchange
	}

	orderData := &signing.OrderData{
		Salt:          salt,
		Maker:         maker,
		Signer:        signerAddress.Hex(),
		Taker:         taker,
		TokenID:       tokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    expiration,
		Nonce:         nonce,
		FeeRateBps:    feeRateBps,
		Side:          userOrder.Side,
		SignatureType: c.authConfig.SignatureType,
	}

	signature, err := signing.BuildOrderSignature(
		c.authConfig.PrivateKey,
		c.chainID,
		exchangeAddress,
		orderData,
	)
	if err != nil {
		return nil, fmt.Errorf("签名订单失败: %w", err)
	}

	return &types.SignedOrder{
		Salt:          salt,
		Maker:         maker,
		Signer:        signerAddress.Hex(),
		Taker:         taker,
		TokenID:       userOrder.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    expiration.String(),
		Nonce:         nonce.String(),
		FeeRateBps:    feeRateBps.String(),
		Side:          userOrder.Side,
		SignatureType: int(c.authConfig.SignatureType),
		Signature:     signature,
	}, nil
}

// getOrderRawAmounts 计算订单的 maker/taker 金额
// 买入：maker 支付 USDC，taker 获得 tokens
// 卖出：maker 给出 tokens，taker 支付 USDC
func getOrderRawAmounts(
	side types.Side,
	size float64,
	price float64,
	roundConfig RoundConfig,
) (rawMakerAmt decimal.Decimal, rawTakerAmt decimal.Decimal) {
	rawPrice := decimal.NewFromFloat(price).Round(roundConfig.Price)

	if side == types.SideBuy {
		rawTakerAmt = decimal.NewFromFloat(size).RoundDown(roundConfig.Size)

		rawMakerAmt = rawTakerAmt.Mul(rawPrice)
		if -rawMakerAmt.Exponent() > roundConfig.Amount {
			rawMakerAmt = rawMakerAmt.RoundUp(roundConfig.Amount + 4)
			if -rawMakerAmt.Exponent() > roundConfig.Amount {
				rawMakerAmt = rawMakerAmt.RoundDown(roundConfig.Amount)
			}
		}
	} else {
		rawMakerAmt = decimal.NewFromFloat(size).RoundDown(roundConfig.Size)

		rawTakerAmt = rawMakerAmt.Mul(rawPrice)
		if -rawTakerAmt.Exponent() > roundConfig.Amount {
			rawTakerAmt = rawTakerAmt.RoundUp(roundConfig.Amount + 4)
			if -rawTakerAmt.Exponent() > roundConfig.Amount {
				rawTakerAmt = rawTakerAmt.RoundDown(roundConfig.Amount)
			}
		}
	}

	return rawMakerAmt, rawTakerAmt
}

// parseUnits 将金额转换为链上整数单位
func parseUnits(value decimal.Decimal, decimals int32) *big.Int {
	return value.Shift(decimals).Truncate(0).BigInt()
}
