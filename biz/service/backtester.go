package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/strategy"
)

// BacktestReport 回测结果
type BacktestReport struct {
	StrategyID     string          `json:"strategy_id"`
	Symbol         string          `json:"symbol"`
	Candles        int             `json:"candles"`
	Trades         []model.Trade   `json:"trades"`
	TradeCount     int             `json:"trade_count"`
	Wins           int             `json:"wins"`
	WinRate        float64         `json:"win_rate"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalFee       decimal.Decimal `json:"total_fee"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	OpenPosition   *model.Position `json:"open_position,omitempty"`
}

// Backtester 用与实盘相同的规则和出场逻辑回放K线
type Backtester struct {
	runner   *StrategyRunner
	slippage decimal.Decimal
}

func NewBacktester(runner *StrategyRunner, slippage decimal.Decimal) *Backtester {
	return &Backtester{runner: runner, slippage: slippage}
}

// Run 回放 candles（时间升序），以收盘价加滑点模拟成交
func (b *Backtester) Run(s model.Strategy, candles []model.Kline, initial decimal.Decimal) (*BacktestReport, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles", ErrInvalidArgument)
	}
	if !initial.IsPositive() {
		return nil, fmt.Errorf("%w: initial balance must be positive", ErrInvalidArgument)
	}
	if !s.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	entry, exit, err := b.runner.Compile(&s)
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	buyAdj, sellAdj := one.Add(b.slippage), one.Sub(b.slippage)
	report := &BacktestReport{
		StrategyID:     s.ID,
		Symbol:         s.Symbol,
		Candles:        len(candles),
		Trades:         []model.Trade{},
		InitialBalance: initial,
		TotalPnL:       decimal.Zero,
		TotalFee:       decimal.Zero,
	}
	cash := initial
	peak := initial
	var pos *model.Position
	bars := make([]strategy.Bar, 0, len(candles))

	for _, k := range candles {
		bars = append(bars, strategy.BarFromKline(k))
		act, reason, err := decide(entry, exit, &s, pos, k, bars)
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", k.Timestamp, err)
		}
		ts := k.Timestamp * 1000
		switch act {
		case actionEnter:
			price := k.Close.Mul(buyAdj)
			pos = &model.Position{
				StrategyID: s.ID, UserID: s.UserID, Symbol: s.Symbol, Mode: model.ModePaper,
				Quantity: s.Quantity, EntryPrice: price, EntryTime: ts,
			}
			cash = cash.Sub(price.Mul(s.Quantity))
		case actionExit:
			t := model.Trade{
				StrategyID: s.ID, UserID: s.UserID, Symbol: s.Symbol,
				Side: model.SideLong, Mode: model.ModePaper,
				EntryPrice: pos.EntryPrice, ExitPrice: k.Close.Mul(sellAdj), Quantity: pos.Quantity,
				EntryTime: pos.EntryTime, ExitTime: ts, ExitReason: reason,
			}
			t.Settle(s.FeeRate)
			cash = cash.Add(t.ExitPrice.Mul(t.Quantity)).Sub(t.Fee)
			report.Trades = append(report.Trades, t)
			pos = nil
		}

		equity := cash
		if pos != nil {
			equity = equity.Add(pos.Quantity.Mul(k.Close))
		}
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(equity).Div(peak).InexactFloat64()
			if dd > report.MaxDrawdown {
				report.MaxDrawdown = dd
			}
		}
		report.FinalEquity = equity
	}

	st := computeStats(s.ID, report.Trades)
	report.TradeCount = st.Count
	report.Wins = st.Wins
	report.WinRate = st.WinRate
	report.TotalPnL = st.TotalPnL
	report.TotalFee = st.TotalFee
	report.OpenPosition = pos
	return report, nil
}
