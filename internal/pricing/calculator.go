package pricing

import (
	"strings"
	"sync"
)

// ModelPricing 单个模型的价格，microUSD / M tokens
type ModelPricing struct {
	ModelID                string
	InputPriceMicro        uint64
	OutputPriceMicro       uint64
	Cache5mWritePriceMicro uint64
	Cache1hWritePriceMicro uint64
	CacheReadPriceMicro    uint64

	// 支持 1M 上下文的模型超过 200K 输入后价格翻倍
	Has1MContext bool
}

// PriceTable 模型价格表，按版本号标识
type PriceTable struct {
	mu      sync.RWMutex
	version string
	prices  map[string]*ModelPricing
}

func NewPriceTable(version string) *PriceTable {
	return &PriceTable{
		version: version,
		prices:  make(map[string]*ModelPricing),
	}
}

func (pt *PriceTable) Version() string {
	return pt.version
}

func (pt *PriceTable) Set(p *ModelPricing) {
	if p == nil || p.ModelID == "" {
		return
	}
	pt.mu.Lock()
	pt.prices[p.ModelID] = p
	pt.mu.Unlock()
}

// Get 精确匹配优先，其次按前缀匹配带日期后缀的变体
// （claude-sonnet-4-5-20250929 命中 claude-sonnet-4-5）
func (pt *PriceTable) Get(modelID string) (*ModelPricing, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if p, ok := pt.prices[modelID]; ok {
		return p, true
	}
	var best *ModelPricing
	for id, p := range pt.prices {
		if strings.HasPrefix(modelID, id) {
			if best == nil || len(id) > len(best.ModelID) {
				best = p
			}
		}
	}
	if best != nil {
		return best, true
	}
	return nil, false
}

// 1M 上下文模型的分级阈值
const tierThresholdTokens = 200_000

// Cost 计算一次请求的费用（microUSD）。未知模型返回 0。
func (pt *PriceTable) Cost(modelID string, inputTokens, outputTokens uint64) uint64 {
	p, ok := pt.Get(modelID)
	if !ok {
		return 0
	}
	var total uint64
	if p.Has1MContext {
		total += CalculateTieredCostMicro(inputTokens, p.InputPriceMicro, 2, 1, tierThresholdTokens)
	} else {
		total += CalculateLinearCostMicro(inputTokens, p.InputPriceMicro)
	}
	total += CalculateLinearCostMicro(outputTokens, p.OutputPriceMicro)
	return total
}

// CalculateLinearCostMicro: tokens × priceMicro / 1M
func CalculateLinearCostMicro(tokens, priceMicro uint64) uint64 {
	return tokens * priceMicro / 1_000_000
}

// CalculateTieredCostMicro 阈值内按基准价，超出部分按 mulNum/mulDen 倍率
func CalculateTieredCostMicro(tokens, basePriceMicro, mulNum, mulDen, threshold uint64) uint64 {
	if mulDen == 0 {
		mulDen = 1
	}
	if tokens <= threshold {
		return CalculateLinearCostMicro(tokens, basePriceMicro)
	}
	base := CalculateLinearCostMicro(threshold, basePriceMicro)
	over := CalculateLinearCostMicro(tokens-threshold, basePriceMicro) * mulNum / mulDen
	return base + over
}
