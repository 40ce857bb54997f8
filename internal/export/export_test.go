package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
)

func TestWriteCSV(t *testing.T) {
	when := time.Date(2023, 5, 1, 9, 30, 0, 0, time.Local)
	rows := []repository.Transaction{
		{
			TransactionID:   "4200001234567890123456",
			TransactionTime: &when,
			TransactionType: "商户消费",
			Category:        "支出",
			Method:          "零钱",
			Amount:          35.5,
			Counterparty:    "某某超市",
			MerchantID:      "m-001",
			SourceFile:      "wx.csv",
		},
		{TransactionID: "syn0123456789abcdef0123456789abcdef", Category: "其他", Amount: 0},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\xEF\xBB\xBF"), "missing UTF-8 BOM")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "交易单号,交易时间,交易类型,收/支,交易方式,金额(元),交易对方,商户单号,来源文件",
		strings.TrimPrefix(lines[0], "\xEF\xBB\xBF"))
	assert.Equal(t, "4200001234567890123456,2023-05-01 09:30:00,商户消费,支出,零钱,35.50,某某超市,m-001,wx.csv", lines[1])

	t.Run("missing time stays blank and amounts keep two decimals", func(t *testing.T) {
		assert.Equal(t, "syn0123456789abcdef0123456789abcdef,,,其他,,0.00,,,", lines[2])
	})

	t.Run("empty slice writes only the header", func(t *testing.T) {
		var empty bytes.Buffer
		require.NoError(t, WriteCSV(&empty, nil))
		got := strings.Split(strings.TrimRight(empty.String(), "\n"), "\n")
		assert.Len(t, got, 1)
		assert.Contains(t, got[0], "交易单号")
	})
}
