package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gogogo1024/ai-trader/biz/model"
)

var (
	ErrCompile = errors.New("strategy: compile error")
	ErrNotBool = errors.New("strategy: rule must evaluate to bool")
)

// Bar 一根K线的浮点视图
type Bar struct {
	Ts     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Snapshot 规则求值时的上下文，History 升序且最后一根为当前K线
type Snapshot struct {
	History    []Bar
	Position   float64
	EntryPrice float64
}

// Program 编译后的规则
type Program struct {
	source  string
	program *vm.Program
}

func (p *Program) Source() string {
	return p.source
}

// Compile 编译布尔规则
func Compile(source string) (*Program, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrCompile)
	}
	env := buildEnv(Snapshot{})
	if _, err := expr.Compile(src, expr.Env(env)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	prog, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBool, err)
	}
	return &Program{source: source, program: prog}, nil
}

// Eval 在快照上求值
func (p *Program) Eval(s Snapshot) (bool, error) {
	out, err := expr.Run(p.program, buildEnv(s))
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, ErrNotBool
	}
	return b, nil
}

func buildEnv(s Snapshot) map[string]interface{} {
	closes := make([]float64, len(s.History))
	for i, b := range s.History {
		closes[i] = b.Close
	}
	var cur Bar
	prevClose := 0.0
	if n := len(s.History); n > 0 {
		cur = s.History[n-1]
		if n > 1 {
			prevClose = s.History[n-2].Close
		}
	}
	return map[string]interface{}{
		"open":        cur.Open,
		"high":        cur.High,
		"low":         cur.Low,
		"close":       cur.Close,
		"volume":      cur.Volume,
		"position":    s.Position,
		"entry_price": s.EntryPrice,
		"bars":        len(s.History),
		"prev_close":  prevClose,
		"sma":         func(n int) float64 { return sma(closes, n) },
		"ema":         func(n int) float64 { return ema(closes, n) },
		"rsi":         func(n int) float64 { return rsi(closes, n) },
		"highest":     func(n int) float64 { return highest(closes, n) },
		"lowest":      func(n int) float64 { return lowest(closes, n) },
		"change":      func(n int) float64 { return change(closes, n) },
	}
}

func BarFromKline(k model.Kline) Bar {
	return Bar{
		Ts:     k.Timestamp,
		Open:   k.Open.InexactFloat64(),
		High:   k.High.InexactFloat64(),
		Low:    k.Low.InexactFloat64(),
		Close:  k.Close.InexactFloat64(),
		Volume: k.Volume.InexactFloat64(),
	}
}

func BarsFromKlines(ks []model.Kline) []Bar {
	bars := make([]Bar, len(ks))
	for i, k := range ks {
		bars[i] = BarFromKline(k)
	}
	return bars
}
