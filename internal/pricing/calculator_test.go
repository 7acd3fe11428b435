package pricing

import "testing"

func TestCalculateTieredCostMicro(t *testing.T) {
	// 测试: $3/M tokens, 阈值 200K, 超阈值倍率 2/1
	basePriceMicro := uint64(3_000_000) // $3/M

	tests := []struct {
		name     string
		tokens   uint64
		expected uint64
	}{
		{
			name:     "below threshold 100K",
			tokens:   100_000,
			expected: 300_000, // 100K × $3/M = $0.30 = 300,000 microUSD
		},
		{
			name:     "at threshold 200K",
			tokens:   200_000,
			expected: 600_000, // 200K × $3/M = $0.60 = 600,000 microUSD
		},
		{
			name:     "above threshold 300K",
			tokens:   300_000,
			expected: 1_200_000, // 200K × $3/M + 100K × $3/M × 2 = $0.60 + $0.60
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTieredCostMicro(tt.tokens, basePriceMicro, 2, 1, 200_000)
			if got != tt.expected {
				t.Errorf("CalculateTieredCostMicro() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestCalculateLinearCostMicro(t *testing.T) {
	tests := []struct {
		name       string
		tokens     uint64
		priceMicro uint64
		expected   uint64
	}{
		{
			name:       "1M tokens at $3/M",
			tokens:     1_000_000,
			priceMicro: 3_000_000,
			expected:   3_000_000, // $3
		},
		{
			name:       "100K tokens at $15/M",
			tokens:     100_000,
			priceMicro: 15_000_000,
			expected:   1_500_000, // $1.50
		},
		{
			name:       "zero tokens",
			tokens:     0,
			priceMicro: 3_000_000,
			expected:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateLinearCostMicro(tt.tokens, tt.priceMicro)
			if got != tt.expected {
				t.Errorf("CalculateLinearCostMicro() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestPriceTableGet(t *testing.T) {
	pt := DefaultPriceTable()

	tests := []struct {
		model string
		found bool
	}{
		{"claude-sonnet-4-5", true},
		{"claude-sonnet-4-5-20250929", true}, // 带日期后缀命中前缀
		{"gemini-2.5-flash", true},
		{"totally-unknown-model", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			_, ok := pt.Get(tt.model)
			if ok != tt.found {
				t.Errorf("Get(%q) found = %v, want %v", tt.model, ok, tt.found)
			}
		})
	}
}

func TestCostUnknownModelIsZero(t *testing.T) {
	if cost := DefaultPriceTable().Cost("no-such-model", 1000, 1000); cost != 0 {
		t.Errorf("Cost for unknown model = %d, want 0", cost)
	}
}
