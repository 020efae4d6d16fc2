package strategy

import "math"

// 以下指标均作用于收盘价序列，序列按时间升序排列

func sma(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	sum := 0.0
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

// ema 以前 n 根的简单均值为种子
func ema(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n {
		return 0
	}
	k := 2.0 / float64(n+1)
	v := sma(closes[:n], n)
	for _, c := range closes[n:] {
		v = c*k + v*(1-k)
	}
	return v
}

// rsi Wilder 平滑，数据不足返回 50
func rsi(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < n+1 {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func window(closes []float64, n int) []float64 {
	if n <= 0 || len(closes) == 0 {
		return nil
	}
	if n > len(closes) {
		n = len(closes)
	}
	return closes[len(closes)-n:]
}

func highest(closes []float64, n int) float64 {
	w := window(closes, n)
	if len(w) == 0 {
		return 0
	}
	m := math.Inf(-1)
	for _, c := range w {
		m = math.Max(m, c)
	}
	return m
}

func lowest(closes []float64, n int) float64 {
	w := window(closes, n)
	if len(w) == 0 {
		return 0
	}
	m := math.Inf(1)
	for _, c := range w {
		m = math.Min(m, c)
	}
	return m
}

// change 相对 n 根之前收盘价的涨跌幅（百分比）
func change(closes []float64, n int) float64 {
	if n <= 0 || len(closes) <= n {
		return 0
	}
	past := closes[len(closes)-1-n]
	if past == 0 {
		return 0
	}
	return (closes[len(closes)-1] - past) / past * 100
}
