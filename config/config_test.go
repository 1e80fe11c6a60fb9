package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/indicator"
	"autotrader/internal/signal"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("EVAL_INTERVAL_SEC", "")
	t.Setenv("REDIS_ENABLED", "")

	cfg := Load()
	assert.Equal(t, "data/robot.db", cfg.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.EvalInterval)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("EVAL_INTERVAL_SEC", "60")
	t.Setenv("QUOTE_FEED_URL", "ws://feed:9001/quotes")
	t.Setenv("EVAL_SCHEDULE", "2 * * * * *")

	cfg := Load()
	assert.Equal(t, "ws://feed:9001/quotes", cfg.QuoteFeedURL)
	assert.Equal(t, "2 * * * * *", cfg.EvalSchedule)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, time.Minute, cfg.EvalInterval)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")
	t.Setenv("REDIS_ENABLED", "maybe")

	cfg := Load()
	assert.Equal(t, 0, cfg.RedisDB)
	assert.False(t, cfg.RedisEnabled)
}

const sampleRules = `
indicators:
  - {kind: sma, period: 3, column: sma}
  - {kind: RSI, period: 14}
  - {kind: EMA, period: 10, alpha: 0.5, column: fast}
rules:
  - {indicator: sma, buy: 10.5, sell: 9.5, buy_op: gt, sell_op: lt}
  - {indicator: rsi, buy: 30, sell: 70, buy_op: "<=", sell_op: ">="}
`

func TestLoadRuleSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)

	require.Len(t, rs.Indicators, 3)
	assert.Equal(t, indicator.KindSMA, rs.Indicators[0].Kind)
	assert.Equal(t, "rsi", rs.Indicators[1].Column)
	assert.Equal(t, indicator.RSIWilders, rs.Indicators[1].Method)
	assert.Equal(t, 0.5, rs.Indicators[2].Alpha)

	require.Len(t, rs.Rules, 2)
	assert.Equal(t, signal.Rule{Indicator: "sma", BuyThreshold: 10.5, SellThreshold: 9.5, BuyOp: signal.OpGT, SellOp: signal.OpLT}, rs.Rules[0])
	assert.Equal(t, signal.OpLE, rs.Rules[1].BuyOp)
	assert.Equal(t, signal.OpGE, rs.Rules[1].SellOp)
}

func TestParseRuleSet_Rejects(t *testing.T) {
	_, err := ParseRuleSet([]byte("indicators:\n  - {kind: MACD, period: 3}\n"))
	assert.ErrorIs(t, err, indicator.ErrUnsupportedIndicator)

	_, err = ParseRuleSet([]byte("indicators:\n  - {kind: SMA, period: 3}\n  - {kind: SMA, period: 5}\n"))
	assert.ErrorIs(t, err, indicator.ErrInvalidDefinition)

	_, err = ParseRuleSet([]byte("rules:\n  - {indicator: sma, buy: 1, sell: 1, buy_op: between, sell_op: lt}\n"))
	assert.ErrorIs(t, err, signal.ErrInvalidOperator)

	_, err = ParseRuleSet([]byte("rules:\n  - {indicator: sma, buy: 1, sell: 1, buy_op: gt}\n"))
	assert.ErrorIs(t, err, signal.ErrInvalidOperator)

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
