package pricing

import "sync"

var (
	defaultTable *PriceTable
	defaultOnce  sync.Once
)

// DefaultPriceTable 返回默认价格表（单例）
func DefaultPriceTable() *PriceTable {
	defaultOnce.Do(func() {
		defaultTable = initDefaultPrices()
	})
	return defaultTable
}

// initDefaultPrices 初始化默认价格
func initDefaultPrices() *PriceTable {
	pt := NewPriceTable("2025.08")

	// ========== Claude 4.x 系列 ==========
	// Claude Sonnet 4.5: input=$3, output=$15, cache_read=$0.30
	pt.Set(&ModelPricing{
		ModelID:                "claude-sonnet-4-5",
		InputPriceMicro:        3_000_000,  // $3.00/M
		OutputPriceMicro:       15_000_000, // $15.00/M
		Cache5mWritePriceMicro: 3_750_000,  // $3.75/M
		Cache1hWritePriceMicro: 3_750_000,  // $3.75/M
		CacheReadPriceMicro:    300_000,    // $0.30/M
		Has1MContext:           true,
	})

	pt.Set(&ModelPricing{
		ModelID:                "claude-sonnet-4",
		InputPriceMicro:        3_000_000,  // $3.00/M
		OutputPriceMicro:       15_000_000, // $15.00/M
		Cache5mWritePriceMicro: 3_750_000,  // $3.75/M
		Cache1hWritePriceMicro: 3_750_000,  // $3.75/M
		CacheReadPriceMicro:    300_000,    // $0.30/M
		Has1MContext:           true,
	})

	// Claude Opus 4.5: input=$5, output=$25, cache_read=$0.50
	pt.Set(&ModelPricing{
		ModelID:                "claude-opus-4-5",
		InputPriceMicro:        5_000_000,  // $5.00/M
		OutputPriceMicro:       25_000_000, // $25.00/M
		Cache5mWritePriceMicro: 6_250_000,  // $6.25/M
		Cache1hWritePriceMicro: 6_250_000,  // $6.25/M
		CacheReadPriceMicro:    500_000,    // $0.50/M
	})

	// Claude Haiku 4.5: input=$1, output=$5, cache_read=$0.10
	pt.Set(&ModelPricing{
		ModelID:                "claude-haiku-4-5",
		InputPriceMicro:        1_000_000, // $1.00/M
		OutputPriceMicro:       5_000_000, // $5.00/M
		Cache5mWritePriceMicro: 1_250_000, // $1.25/M
		Cache1hWritePriceMicro: 1_250_000, // $1.25/M
		CacheReadPriceMicro:    100_000,   // $0.10/M
	})

	// Claude 3.5 Haiku: input=$0.80, output=$4
	pt.Set(&ModelPricing{
		ModelID:             "claude-3-5-haiku",
		InputPriceMicro:     800_000,   // $0.80/M
		OutputPriceMicro:    4_000_000, // $4.00/M
		CacheReadPriceMicro: 80_000,    // $0.08/M
	})

	// ========== GPT-4o 系列 ==========
	// gpt-4o: input=$2.50, output=$10
	pt.Set(&ModelPricing{
		ModelID:             "gpt-4o",
		InputPriceMicro:     2_500_000,  // $2.50/M
		OutputPriceMicro:    10_000_000, // $10.00/M
		CacheReadPriceMicro: 1_250_000,  // $1.25/M
	})

	// gpt-4o-mini: input=$0.15, output=$0.60
	pt.Set(&ModelPricing{
		ModelID:             "gpt-4o-mini",
		InputPriceMicro:     150_000, // $0.15/M
		OutputPriceMicro:    600_000, // $0.60/M
		CacheReadPriceMicro: 75_000,  // $0.075/M
	})

	// ========== Gemini 2.5 系列 ==========
	// gemini-2.5-pro: input=$1.25, output=$10
	pt.Set(&ModelPricing{
		ModelID:             "gemini-2.5-pro",
		InputPriceMicro:     1_250_000,  // $1.25/M
		OutputPriceMicro:    10_000_000, // $10.00/M
		CacheReadPriceMicro: 125_000,    // $0.125/M
	})

	// gemini-2.5-flash: input=$0.30, output=$2.50
	pt.Set(&ModelPricing{
		ModelID:             "gemini-2.5-flash",
		InputPriceMicro:     300_000,   // $0.30/M
		OutputPriceMicro:    2_500_000, // $2.50/M
		CacheReadPriceMicro: 100_000,   // $0.10/M
	})

	// gemini-2.5-flash-lite: input=$0.10, output=$0.40
	pt.Set(&ModelPricing{
		ModelID:          "gemini-2.5-flash-lite",
		InputPriceMicro:  100_000, // $0.10/M
		OutputPriceMicro: 400_000, // $0.40/M
	})

	return pt
}
