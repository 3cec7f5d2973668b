package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"$0.02", 20000},
		{"0.02 USDC", 20000},
		{"0.02", 20000},
		{"1", 1000000},
		{"$12.5", 12500000},
		{".5", 500000},
		{"0.000001", 1},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, 6)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseUnits_Rejects(t *testing.T) {
	for _, in := range []string{"", "$", "abc", "0.0000001", "-1", "1.2.3", "$1e3"} {
		_, err := ParseUnits(in, 6)
		assert.Error(t, err, in)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "0.02", FormatUnits(20000, 6))
	assert.Equal(t, "1", FormatUnits(1000000, 6))
	assert.Equal(t, "0.000001", FormatUnits(1, 6))
	assert.Equal(t, "0", FormatUnits(0, 6))
}

func TestPricing_PriceUnits(t *testing.T) {
	u, err := Pricing{Amount: "$0.03", Currency: "USDC"}.PriceUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(30000), u)

	_, err = Pricing{Amount: "1", Currency: "DOGE"}.PriceUnits()
	assert.Error(t, err)

	_, err = Pricing{Amount: "0.02", Currency: "SOL"}.PriceUnits()
	assert.Error(t, err)
}

func TestNormalizeCurrency(t *testing.T) {
	for _, c := range []string{"", "usdc", " USD ", "USDC"} {
		assert.Equal(t, SettlementAsset, NormalizeCurrency(c), c)
	}
	assert.Equal(t, "SOL", NormalizeCurrency("sol"))
}

func TestNormalizeCapabilities(t *testing.T) {
	got := NormalizeCapabilities([]string{" Sentiment-Analysis", "sentiment-analysis", "", "OCR"})
	assert.Equal(t, []string{"sentiment-analysis", "ocr"}, got)
}

func TestService_CloneIsDeep(t *testing.T) {
	s := Service{ID: "a", Capabilities: []string{"x"}, Metadata: map[string]any{"k": 1}}
	cp := s.Clone()
	cp.Capabilities[0] = "y"
	cp.Metadata["k"] = 2

	assert.Equal(t, "x", s.Capabilities[0])
	assert.Equal(t, 1, s.Metadata["k"])
	assert.True(t, s.HasCapability(" X "))
}
