package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/detect"
)

func wechatGrid() [][]string {
	return [][]string{
		{"微信支付账单明细"},
		{"导出时间：2023-06-01 10:00:00"},
		{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额(元)", "交易对方", "商户单号"},
		{"42000012345678901234", "2023-05-01 09:30:00", "商户消费", "支出", "零钱", "¥19.90", "某某便利店", "M1001"},
		{"42000012345678905678", "2023-05-02 20:15:00", "转账", "收入", "零钱通", "¥200.00", "张三", "/"},
		{"共2笔", "", "", "", "", "", "", ""},
	}
}

func TestFindHeader(t *testing.T) {
	t.Run("locates header past preamble rows", func(t *testing.T) {
		idx, billType := FindHeader(wechatGrid())
		assert.Equal(t, 2, idx)
		assert.Equal(t, detect.BillWeChat, billType)
	})

	t.Run("no header", func(t *testing.T) {
		idx, billType := FindHeader([][]string{{"随便"}, {"什么"}})
		assert.Equal(t, -1, idx)
		assert.Equal(t, detect.BillUnknown, billType)
	})
}

func TestMapGrid_WeChat(t *testing.T) {
	layout, ok := LayoutFor(detect.BillWeChat)
	require.True(t, ok)

	records := MapGrid(wechatGrid(), 2, layout, "bill.xlsx")
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "42000012345678901234", first.TransactionID)
	require.NotNil(t, first.Time)
	assert.Equal(t, "商户消费", first.Type)
	assert.Equal(t, bill.CategoryExpense, first.Category)
	assert.Equal(t, "零钱", first.Method)
	assert.Equal(t, "19.9", first.Amount.String())
	assert.Equal(t, "某某便利店", first.Counterparty)
	assert.Equal(t, "M1001", first.MerchantID)
	assert.Equal(t, "bill.xlsx", first.SourceFile)

	// "/" merchant normalizes to empty
	assert.Equal(t, "", records[1].MerchantID)
}

func TestMapGrid_Guards(t *testing.T) {
	layout, _ := LayoutFor(detect.BillWeChat)

	t.Run("summary and short-id rows are dropped", func(t *testing.T) {
		grid := [][]string{
			{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额(元)", "交易对方", "商户单号"},
			{"共10笔", "2023-05-01", "", "", "", "", "", ""},
			{"123", "2023-05-01 09:30:00", "", "支出", "", "1.00", "", ""},
			{"交易单号", "交易时间", "", "", "", "", "", ""},
		}
		assert.Empty(t, MapGrid(grid, 0, layout, "f"))
	})

	t.Run("missing id or time skips the row", func(t *testing.T) {
		grid := [][]string{
			{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额(元)", "交易对方", "商户单号"},
			{"", "2023-05-01 09:30:00", "", "支出", "", "1.00", "", ""},
			{"42000012345678901234", "", "", "支出", "", "1.00", "", ""},
		}
		assert.Empty(t, MapGrid(grid, 0, layout, "f"))
	})

	t.Run("slash category becomes other", func(t *testing.T) {
		grid := [][]string{
			{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额(元)", "交易对方", "商户单号"},
			{"42000012345678901234", "2023-05-01 09:30:00", "提现", "/", "", "10.00", "", ""},
		}
		records := MapGrid(grid, 0, layout, "f")
		require.Len(t, records, 1)
		assert.Equal(t, bill.CategoryOther, records[0].Category)
	})

	t.Run("negative amount downgrades other to expense", func(t *testing.T) {
		grid := [][]string{
			{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额(元)", "交易对方", "商户单号"},
			{"42000012345678901234", "2023-05-01 09:30:00", "", "/", "", "-15.00", "", ""},
		}
		records := MapGrid(grid, 0, layout, "f")
		require.Len(t, records, 1)
		assert.Equal(t, bill.CategoryExpense, records[0].Category)
		assert.Equal(t, "15", records[0].Amount.String())
	})
}

func TestMapGrid_PositionalContinuation(t *testing.T) {
	layout, _ := LayoutFor(detect.BillWeChat)

	// continuation page: no header row, canonical column order
	grid := [][]string{
		{"42000012345678901234", "2023-05-03 11:00:00", "商户消费", "支出", "储蓄卡", "35.00", "超市", "M2"},
	}
	records := MapGrid(grid, -1, layout, "p2.pdf")
	require.Len(t, records, 1)
	assert.Equal(t, "储蓄卡", records[0].Method)
	assert.Equal(t, "超市", records[0].Counterparty)
}

func TestMapGrid_Alipay(t *testing.T) {
	layout, ok := LayoutFor(detect.BillAlipay)
	require.True(t, ok)

	grid := [][]string{
		{"交易时间", "交易分类", "交易对方", "商品说明", "收/支", "金额", "收/付款方式", "交易订单号", "商家订单号"},
		{"2023-05-01 09:30:00", "日用百货", "某超市", "日常采购", "支出", "88.50", "余额宝", "20230501123456789012345678", "S100"},
	}
	headerIdx, billType := FindHeader(grid)
	require.Equal(t, detect.BillAlipay, billType)

	records := MapGrid(grid, headerIdx, layout, "alipay.csv")
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "20230501123456789012345678", rec.TransactionID)
	assert.Equal(t, "日常采购", rec.Type)
	assert.Equal(t, bill.CategoryExpense, rec.Category)
	assert.Equal(t, "余额宝", rec.Method)
	assert.Equal(t, "88.5", rec.Amount.String())
	assert.Equal(t, "S100", rec.MerchantID)
}

func TestMapGrid_FullwidthAmountHeader(t *testing.T) {
	layout, _ := LayoutFor(detect.BillWeChat)

	grid := [][]string{
		{"交易单号", "交易时间", "交易类型", "收/支", "交易方式", "金额（元）", "交易对方", "商户单号"},
		{"42000012345678901234", "2023-05-01 09:30:00", "", "收入", "", "66.00", "", ""},
	}
	records := MapGrid(grid, 0, layout, "f")
	require.Len(t, records, 1)
	assert.Equal(t, "66", records[0].Amount.String())
}
