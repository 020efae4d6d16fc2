package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/strategy"
)

func newStrategyInput() *model.Strategy {
	s := runnerStrategy("")
	s.Name = "svc-strategy"
	s.Symbol = "svc-usdt"
	return &s
}

func TestStrategyServiceValidate(t *testing.T) {
	runner := newTestRunner(NewPaperExecutor(decimal.Zero), &tradeRecorder{}, nil, RunnerOptions{})
	svc := NewStrategyService(runner, []string{"1m", "5m"})

	cases := []struct {
		name   string
		mutate func(s *model.Strategy)
		err    error
	}{
		{"no name", func(s *model.Strategy) { s.Name = " " }, ErrInvalidArgument},
		{"no symbol", func(s *model.Strategy) { s.Symbol = "" }, ErrInvalidArgument},
		{"zero quantity", func(s *model.Strategy) { s.Quantity = decimal.Zero }, ErrInvalidArgument},
		{"fee too high", func(s *model.Strategy) { s.FeeRate = d("1") }, ErrInvalidArgument},
		{"stop loss too high", func(s *model.Strategy) { s.StopLossPct = d("100") }, ErrInvalidArgument},
		{"negative take profit", func(s *model.Strategy) { s.TakeProfitPct = d("-1") }, ErrInvalidArgument},
		{"unknown interval", func(s *model.Strategy) { s.Interval = "15m" }, ErrInvalidArgument},
		{"bad entry rule", func(s *model.Strategy) { s.EntryRule = "sma(" }, strategy.ErrCompile},
		{"non bool exit rule", func(s *model.Strategy) { s.ExitRule = "close * 2" }, strategy.ErrNotBool},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStrategyInput()
			tc.mutate(s)
			assert.ErrorIs(t, svc.Validate(s), tc.err)
		})
	}

	s := newStrategyInput()
	require.NoError(t, svc.Validate(s))
	assert.Equal(t, "SVCUSDT", s.Symbol)
}

func TestStrategyServiceLifecycle(t *testing.T) {
	runner := newTestRunner(NewPaperExecutor(decimal.Zero), &tradeRecorder{}, nil, RunnerOptions{})
	svc := NewStrategyService(runner, []string{"1m"})
	ctx := context.Background()

	s := newStrategyInput()
	require.NoError(t, svc.Create(ctx, "owner-1", s))
	assert.NotEmpty(t, s.ID)
	assert.True(t, runner.Enabled(s.ID))

	got, err := svc.Get(ctx, "owner-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.UserID)
	_, err = svc.Get(ctx, "owner-2", s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.List(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	in := newStrategyInput()
	in.Name = "renamed"
	in.Enabled = false
	updated, err := svc.Update(ctx, "owner-1", s.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, runner.Enabled(s.ID))

	_, err = svc.Update(ctx, "owner-2", s.ID, in)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "owner-2", s.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "owner-1", s.ID))
	_, err = svc.Get(ctx, "owner-1", s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStrategyServiceGuardsOpenPosition(t *testing.T) {
	runner := newTestRunner(NewPaperExecutor(decimal.Zero), &tradeRecorder{}, nil, RunnerOptions{})
	svc := NewStrategyService(runner, []string{"1m"})
	ctx := context.Background()

	s := newStrategyInput()
	require.NoError(t, svc.Create(ctx, "holder", s))
	(&candleFeed{r: runner, symbol: "SVCUSDT"}).close("101")
	require.True(t, runner.HasPosition(s.ID))

	moved := newStrategyInput()
	moved.Symbol = "OTHUSDT"
	_, err := svc.Update(ctx, "holder", s.ID, moved)
	assert.ErrorIs(t, err, ErrPositionExists)

	disabled := newStrategyInput()
	disabled.Enabled = false
	_, err = svc.Update(ctx, "holder", s.ID, disabled)
	assert.ErrorIs(t, err, ErrPositionExists)

	assert.ErrorIs(t, svc.Delete(ctx, "holder", s.ID), ErrPositionExists)

	// 同交易对的参数调整允许
	tuned := newStrategyInput()
	tuned.StopLossPct = d("5")
	updated, err := svc.Update(ctx, "holder", s.ID, tuned)
	require.NoError(t, err)
	assert.True(t, updated.StopLossPct.Equal(d("5")))

	_, err = runner.ClosePosition(ctx, "holder", s.ID, d("102"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "holder", s.ID))
}
