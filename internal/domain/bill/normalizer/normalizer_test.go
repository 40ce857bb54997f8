package normalizer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"currency marked with commas", "¥1,234.56", "1234.56"},
		{"fullwidth yen", "￥88.00", "88"},
		{"bare integer", "1234", "1234"},
		{"yuan suffix", "520.50元", "520.5"},
		{"placeholder dashes", "--", "0"},
		{"empty", "", "0"},
		{"slash placeholder", "/", "0"},
		{"plus prefix", "+30.00", "30"},
		{"junk text", "不适用", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAmount(tt.in)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s want %s", got, tt.want)
		})
	}

	t.Run("negative stays negative", func(t *testing.T) {
		assert.True(t, ParseAmount("-12.30").IsNegative())
		assert.True(t, ParseAmount("(45.00)").IsNegative())
	})
}

func TestParseFlexibleTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2021-06-01 12:00:00", "2021-06-01 12:00:00"},
		{"2021/06/01 12:00:00", "2021-06-01 12:00:00"},
		{"2021.06.01 12:00:00", "2021-06-01 12:00:00"},
		{"2021-06-01 12:00", "2021-06-01 12:00:00"},
		{"2021-06-01", "2021-06-01 00:00:00"},
		{"2021年6月1日 12:00:00", "2021-06-01 12:00:00"},
		{"2021年06月01日", "2021-06-01 00:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseFlexibleTime(tt.in)
			require.True(t, ok)
			want, err := time.ParseInLocation("2006-01-02 15:04:05", tt.want, time.Local)
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "got %s want %s", got, want)
		})
	}

	t.Run("unparseable reports false", func(t *testing.T) {
		for _, in := range []string{"", "昨天", "06-01", "2021-13-40 99:99:99"} {
			_, ok := ParseFlexibleTime(in)
			assert.False(t, ok, "input %q", in)
		}
	})
}

func TestCleanCell(t *testing.T) {
	assert.Equal(t, "交易 单号", CleanCell(" 交易\n单号 "))
	assert.Equal(t, "a b c", CleanCell("a  b\r\nc"))
	assert.Equal(t, "", CleanCell("  \n  "))
}

func TestStripSpace(t *testing.T) {
	assert.Equal(t, "交易单号", StripSpace("交易 单 号"))
	assert.Equal(t, "收/支", StripSpace(" 收/支 "))
}
