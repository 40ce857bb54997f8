package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHeader(t *testing.T) {
	tests := []struct {
		name string
		row  []string
		want BillType
	}{
		{
			"wechat canonical order",
			[]string{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额(元)", "交易对方", "商户单号"},
			BillWeChat,
		},
		{
			"wechat shuffled cells",
			[]string{"金额(元)", "交易时间", "交易对方", "交易单号"},
			BillWeChat,
		},
		{
			"wechat embedded whitespace",
			[]string{"交易 单号", "交易\n时间"},
			BillWeChat,
		},
		{
			"alipay signature",
			[]string{"交易时间", "交易分类", "收/支", "交易订单号", "金额"},
			BillAlipay,
		},
		{
			"wechat tokens fused into one cell",
			[]string{"账单明细 交易单号 交易时间 金额(元)"},
			BillWeChat,
		},
		{
			"alipay tokens fused into one cell",
			[]string{"收/支 交易订单号 金额"},
			BillAlipay,
		},
		{
			"alipay order id alone is not enough",
			[]string{"交易订单号", "金额"},
			BillUnknown,
		},
		{
			"wechat time without id",
			[]string{"交易时间", "金额(元)"},
			BillUnknown,
		},
		{
			"plain data row",
			[]string{"4200001234567890123456789012", "2023-01-01 10:00:00", "商户消费"},
			BillUnknown,
		},
		{"empty", nil, BillUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHeader(tt.row))
		})
	}
}

func TestLooksLikeWeChatRow(t *testing.T) {
	assert.True(t, LooksLikeWeChatRow("2023-01-01 10:00:00 4200001234567890123456 商户消费"))
	assert.False(t, LooksLikeWeChatRow("2023-01-01 10:00:00 消费"))
	assert.False(t, LooksLikeWeChatRow("4200001234567890123456"))
}

func TestContext_StickyLock(t *testing.T) {
	t.Run("header match locks the document", func(t *testing.T) {
		var ctx Context
		got := ctx.Resolve([][]string{{"交易单号", "交易时间"}})
		assert.Equal(t, BillWeChat, got)
		assert.Equal(t, BillWeChat, ctx.Locked())
	})

	t.Run("header-less continuation inherits the lock", func(t *testing.T) {
		var ctx Context
		ctx.Resolve([][]string{{"收/支", "交易订单号"}})

		got := ctx.Resolve([][]string{
			{"2023-05-01 09:30:00", "19.90", "某某商店"},
		})
		assert.Equal(t, BillAlipay, got)
	})

	t.Run("first lock wins over a later conflicting header", func(t *testing.T) {
		var ctx Context
		ctx.Lock(BillWeChat)
		ctx.Lock(BillAlipay)
		assert.Equal(t, BillWeChat, ctx.Locked())
	})

	t.Run("unlocked falls through to content heuristic", func(t *testing.T) {
		var ctx Context
		got := ctx.Resolve([][]string{
			{"2023-05-01", "4200001234567890123456", "19.90"},
		})
		assert.Equal(t, BillWeChat, got)
		// heuristic hits do not lock
		assert.Equal(t, BillUnknown, ctx.Locked())
	})

	t.Run("nothing recognizable stays unknown", func(t *testing.T) {
		var ctx Context
		assert.Equal(t, BillUnknown, ctx.Resolve([][]string{{"随便", "什么"}}))
	})
}
