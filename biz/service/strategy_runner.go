package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/metrics"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/strategy"
)

const DefaultMaxErrors = 3

var hundred = decimal.NewFromInt(100)

type action int

const (
	actionHold action = iota
	actionEnter
	actionExit
)

// decide 单根收盘K线上的决策：空仓看入场规则，持仓依次看止损、止盈、出场规则
func decide(entry, exit *strategy.Program, s *model.Strategy, pos *model.Position, k model.Kline, bars []strategy.Bar) (action, string, error) {
	if pos == nil {
		ok, err := entry.Eval(strategy.Snapshot{History: bars})
		if err != nil || !ok {
			return actionHold, "", err
		}
		return actionEnter, "", nil
	}
	price := k.Close
	if s.StopLossPct.IsPositive() {
		stop := pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(s.StopLossPct.Div(hundred)))
		if price.LessThanOrEqual(stop) {
			return actionExit, model.ExitStopLoss, nil
		}
	}
	if s.TakeProfitPct.IsPositive() {
		take := pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(s.TakeProfitPct.Div(hundred)))
		if price.GreaterThanOrEqual(take) {
			return actionExit, model.ExitTakeProfit, nil
		}
	}
	ok, err := exit.Eval(strategy.Snapshot{
		History:    bars,
		Position:   pos.Quantity.InexactFloat64(),
		EntryPrice: pos.EntryPrice.InexactFloat64(),
	})
	if err != nil || !ok {
		return actionHold, "", err
	}
	return actionExit, model.ExitSignal, nil
}

type runningStrategy struct {
	s      model.Strategy
	entry  *strategy.Program
	exit   *strategy.Program
	errors int
}

type RunnerOptions struct {
	MaxErrors int
	Pool      *ants.Pool
}

// StrategyRunner 在收盘K线上驱动已启用的策略
type StrategyRunner struct {
	cache     *strategy.Cache
	exec      Executor
	trades    TradeRecorder
	alerts    AlertEmitter
	pool      *ants.Pool
	maxErrors int
	active    atomic.Bool

	mu         sync.RWMutex
	strategies map[string]*runningStrategy
	positions  map[string]*model.Position

	symbolLocks sync.Map // symbol -> *sync.Mutex
	inflight    sync.WaitGroup
}

func NewStrategyRunner(cache *strategy.Cache, exec Executor, trades TradeRecorder, alerts AlertEmitter, opts RunnerOptions) *StrategyRunner {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	r := &StrategyRunner{
		cache:      cache,
		exec:       exec,
		trades:     trades,
		alerts:     alerts,
		pool:       opts.Pool,
		maxErrors:  opts.MaxErrors,
		strategies: make(map[string]*runningStrategy),
		positions:  make(map[string]*model.Position),
	}
	r.active.Store(true)
	return r
}

// Compile 编译策略的两条规则
func (r *StrategyRunner) Compile(s *model.Strategy) (*strategy.Program, *strategy.Program, error) {
	entry, err := r.cache.Get(s.EntryRule)
	if err != nil {
		return nil, nil, fmt.Errorf("entry_rule: %w", err)
	}
	exit, err := r.cache.Get(s.ExitRule)
	if err != nil {
		return nil, nil, fmt.Errorf("exit_rule: %w", err)
	}
	return entry, exit, nil
}

// Load 加载全部已启用策略，编译失败的跳过
func (r *StrategyRunner) Load(ctx context.Context) error {
	list, err := pg.ListEnabledStrategies(ctx)
	if err != nil {
		return err
	}
	for i := range list {
		if err := r.Upsert(list[i]); err != nil {
			hlog.CtxWarnf(ctx, "[Runner] skip strategy %s: %v", list[i].ID, err)
		}
	}
	hlog.CtxInfof(ctx, "[Runner] loaded %d strategies", r.Count())
	return nil
}

// Upsert 同步一条策略；未启用的从注册表移除
func (r *StrategyRunner) Upsert(s model.Strategy) error {
	if !s.Enabled {
		r.Remove(s.ID)
		return nil
	}
	entry, exit, err := r.Compile(&s)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.strategies[s.ID] = &runningStrategy{s: s, entry: entry, exit: exit}
	r.mu.Unlock()
	return nil
}

func (r *StrategyRunner) Remove(id string) {
	r.mu.Lock()
	delete(r.strategies, id)
	r.mu.Unlock()
}

func (r *StrategyRunner) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

func (r *StrategyRunner) Enabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[id]
	return ok
}

// SetActive 非 leader 节点置为 false，K线被忽略
func (r *StrategyRunner) SetActive(v bool) {
	if r.active.Swap(v) != v {
		hlog.Infof("[Runner] active=%v", v)
	}
}

func (r *StrategyRunner) Active() bool {
	return r.active.Load()
}

func (r *StrategyRunner) symbolLock(symbol string) *sync.Mutex {
	v, _ := r.symbolLocks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// OnCandle 收盘K线入口，提交到协程池；同一交易对串行处理
func (r *StrategyRunner) OnCandle(symbol, period string, k model.Kline, history []model.Kline) {
	if !r.Active() {
		return
	}
	r.inflight.Add(1)
	task := func() {
		defer r.inflight.Done()
		mu := r.symbolLock(symbol)
		mu.Lock()
		defer mu.Unlock()
		r.process(context.Background(), symbol, period, k, history)
	}
	if r.pool == nil {
		task()
		return
	}
	if err := r.pool.Submit(task); err != nil {
		hlog.Errorf("[Runner] submit failed, symbol=%s: %v", symbol, err)
		r.inflight.Done()
	}
}

// Wait 等待已提交的任务完成
func (r *StrategyRunner) Wait() {
	r.inflight.Wait()
}

func (r *StrategyRunner) matching(symbol, period string) []*runningStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*runningStrategy
	for _, rs := range r.strategies {
		if rs.s.Symbol == symbol && rs.s.Interval == period {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].s.ID < out[j].s.ID })
	return out
}

func (r *StrategyRunner) position(id string) *model.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.positions[id]
}

// HasPosition 策略当前是否持仓
func (r *StrategyRunner) HasPosition(id string) bool {
	return r.position(id) != nil
}

func (r *StrategyRunner) process(ctx context.Context, symbol, period string, k model.Kline, history []model.Kline) {
	list := r.matching(symbol, period)
	if len(list) == 0 {
		return
	}
	bars := strategy.BarsFromKlines(history)
	for _, rs := range list {
		pos := r.position(rs.s.ID)
		if pos != nil && pos.Symbol != symbol {
			// 持仓属于改名前的交易对，只能手动平仓
			continue
		}
		act, reason, err := decide(rs.entry, rs.exit, &rs.s, pos, k, bars)
		if err != nil {
			metrics.StrategyEvals.WithLabelValues("error").Inc()
			r.handleError(ctx, rs, err)
			continue
		}
		switch act {
		case actionEnter:
			metrics.StrategyEvals.WithLabelValues("enter").Inc()
			err = r.open(ctx, rs, k.Close)
		case actionExit:
			metrics.StrategyEvals.WithLabelValues("exit").Inc()
			_, err = r.closePosition(ctx, &rs.s, pos, k.Close, reason)
		default:
			metrics.StrategyEvals.WithLabelValues("hold").Inc()
		}
		if err != nil {
			r.handleError(ctx, rs, err)
			continue
		}
		// 成功一次即清零连续错误计数
		r.mu.Lock()
		rs.errors = 0
		r.mu.Unlock()
	}
}

func (r *StrategyRunner) open(ctx context.Context, rs *runningStrategy, price decimal.Decimal) error {
	fill, err := r.exec.Buy(ctx, rs.s.Symbol, rs.s.Quantity, price)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	pos := &model.Position{
		StrategyID: rs.s.ID,
		UserID:     rs.s.UserID,
		Symbol:     rs.s.Symbol,
		Mode:       r.exec.Mode(),
		Quantity:   fill.Quantity,
		EntryPrice: fill.Price,
		EntryTime:  fill.Ts,
	}
	r.mu.Lock()
	r.positions[rs.s.ID] = pos
	r.mu.Unlock()
	r.emit(ctx, &model.Alert{
		UserID:  rs.s.UserID,
		Type:    model.AlertTradeOpened,
		Symbol:  rs.s.Symbol,
		Message: fmt.Sprintf("%s opened long %s %s @ %s", rs.s.Name, fill.Quantity, rs.s.Symbol, fill.Price),
	})
	return nil
}

func (r *StrategyRunner) closePosition(ctx context.Context, s *model.Strategy, pos *model.Position, price decimal.Decimal, reason string) (*model.Trade, error) {
	fill, err := r.exec.Sell(ctx, pos.Symbol, pos.Quantity, price)
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}
	t := &model.Trade{
		UserID:     pos.UserID,
		StrategyID: pos.StrategyID,
		Symbol:     pos.Symbol,
		Side:       model.SideLong,
		Mode:       pos.Mode,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		Quantity:   pos.Quantity,
		EntryTime:  pos.EntryTime,
		ExitTime:   fill.Ts,
		ExitReason: reason,
	}
	r.mu.Lock()
	delete(r.positions, pos.StrategyID)
	r.mu.Unlock()
	if err := r.trades.Record(ctx, t, s.FeeRate); err != nil {
		hlog.CtxErrorf(ctx, "[Runner] record trade failed, strategy=%s: %v", s.ID, err)
	}
	r.emit(ctx, &model.Alert{
		UserID:  pos.UserID,
		Type:    model.AlertTradeClosed,
		Symbol:  pos.Symbol,
		Message: fmt.Sprintf("%s closed %s @ %s (%s), pnl %s", s.Name, pos.Symbol, fill.Price, reason, t.PnL),
		Payload: fmt.Sprintf(`{"trade_id":%q}`, t.ID),
	})
	return t, nil
}

func (r *StrategyRunner) handleError(ctx context.Context, rs *runningStrategy, err error) {
	r.mu.Lock()
	rs.errors++
	n := rs.errors
	r.mu.Unlock()
	hlog.CtxWarnf(ctx, "[Runner] strategy %s error (%d/%d): %v", rs.s.ID, n, r.maxErrors, err)
	r.emit(ctx, &model.Alert{
		UserID:  rs.s.UserID,
		Type:    model.AlertStrategyError,
		Symbol:  rs.s.Symbol,
		Message: fmt.Sprintf("%s: %v", rs.s.Name, err),
	})
	if n < r.maxErrors {
		return
	}
	r.Remove(rs.s.ID)
	if pg.GormDB != nil {
		if err := pg.SetStrategyEnabled(ctx, rs.s.ID, false); err != nil {
			hlog.CtxErrorf(ctx, "[Runner] disable strategy %s failed: %v", rs.s.ID, err)
		}
	}
	r.emit(ctx, &model.Alert{
		UserID:  rs.s.UserID,
		Type:    model.AlertStrategyDisabled,
		Symbol:  rs.s.Symbol,
		Message: fmt.Sprintf("%s disabled after %d consecutive errors", rs.s.Name, n),
	})
}

func (r *StrategyRunner) emit(ctx context.Context, a *model.Alert) {
	if r.alerts == nil {
		return
	}
	if err := r.alerts.Emit(ctx, a); err != nil {
		hlog.CtxErrorf(ctx, "[Runner] emit alert failed: %v", err)
	}
}

// Positions 持仓快照，userID 为空返回全部
func (r *StrategyRunner) Positions(userID string) []model.Position {
	r.mu.RLock()
	out := make([]model.Position, 0, len(r.positions))
	for _, p := range r.positions {
		if userID == "" || p.UserID == userID {
			out = append(out, *p)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// ClosePosition 手动平仓
func (r *StrategyRunner) ClosePosition(ctx context.Context, userID, strategyID string, price decimal.Decimal) (*model.Trade, error) {
	pos := r.position(strategyID)
	if pos == nil || (userID != "" && pos.UserID != userID) {
		return nil, ErrNotFound
	}
	mu := r.symbolLock(pos.Symbol)
	mu.Lock()
	defer mu.Unlock()
	// 加锁后重新确认，期间可能已被规则平仓
	pos = r.position(strategyID)
	if pos == nil {
		return nil, ErrNotFound
	}
	var s *model.Strategy
	r.mu.RLock()
	if rs, ok := r.strategies[strategyID]; ok {
		cp := rs.s
		s = &cp
	}
	r.mu.RUnlock()
	if s == nil && pg.GormDB != nil {
		if stored, err := pg.GetStrategy(ctx, strategyID); err == nil {
			s = stored
		}
	}
	if s == nil {
		s = &model.Strategy{ID: strategyID, Name: strategyID}
	}
	return r.closePosition(ctx, s, pos, price, model.ExitManual)
}
