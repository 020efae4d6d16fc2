package strategy

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownTemplate = errors.New("unknown template")

// Rules 一组入场/出场规则
type Rules struct {
	Entry string `json:"entry_rule"`
	Exit  string `json:"exit_rule"`
}

type template struct {
	defaults map[string]float64
	build    func(p map[string]float64) Rules
}

var templates = map[string]template{
	"ma_cross": {
		defaults: map[string]float64{"fast": 5, "slow": 20},
		build: func(p map[string]float64) Rules {
			fast, slow := int(p["fast"]), int(p["slow"])
			return Rules{
				Entry: fmt.Sprintf("bars >= %d && sma(%d) > sma(%d)", slow, fast, slow),
				Exit:  fmt.Sprintf("sma(%d) < sma(%d)", fast, slow),
			}
		},
	},
	"rsi_reversion": {
		defaults: map[string]float64{"period": 14, "oversold": 30, "overbought": 70},
		build: func(p map[string]float64) Rules {
			n := int(p["period"])
			return Rules{
				Entry: fmt.Sprintf("bars > %d && rsi(%d) < %g", n, n, p["oversold"]),
				Exit:  fmt.Sprintf("rsi(%d) > %g", n, p["overbought"]),
			}
		},
	},
	"breakout": {
		defaults: map[string]float64{"lookback": 20, "exit_lookback": 10},
		build: func(p map[string]float64) Rules {
			n, m := int(p["lookback"]), int(p["exit_lookback"])
			return Rules{
				Entry: fmt.Sprintf("bars >= %d && close >= highest(%d) && close > prev_close", n, n),
				Exit:  fmt.Sprintf("close <= lowest(%d)", m),
			}
		},
	},
}

// Template 按名称和参数展开内置模板，缺省参数取默认值
func Template(name string, params map[string]float64) (Rules, error) {
	t, ok := templates[name]
	if !ok {
		return Rules{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	p := make(map[string]float64, len(t.defaults))
	for k, v := range t.defaults {
		p[k] = v
		if pv, ok := params[k]; ok {
			if pv <= 0 {
				return Rules{}, fmt.Errorf("template %s: param %s must be positive", name, k)
			}
			p[k] = pv
		}
	}
	return t.build(p), nil
}

// TemplateNames 模板名列表（有序）
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for n := range templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
