package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/util"
)

// StrategyService 策略增删改查，并与运行器保持同步
type StrategyService struct {
	runner  *StrategyRunner
	periods map[string]struct{}
}

func NewStrategyService(runner *StrategyRunner, periods []string) *StrategyService {
	ps := make(map[string]struct{}, len(periods))
	for _, p := range periods {
		ps[p] = struct{}{}
	}
	return &StrategyService{runner: runner, periods: ps}
}

// Validate 校验字段并编译规则
func (s *StrategyService) Validate(st *model.Strategy) error {
	st.Name = strings.TrimSpace(st.Name)
	st.Symbol = util.NormalizeSymbol(st.Symbol)
	switch {
	case st.Name == "":
		return fmt.Errorf("%w: name required", ErrInvalidArgument)
	case st.Symbol == "":
		return fmt.Errorf("%w: symbol required", ErrInvalidArgument)
	case !st.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	case st.FeeRate.IsNegative() || st.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: fee_rate must be in [0, 1)", ErrInvalidArgument)
	case st.StopLossPct.IsNegative() || st.StopLossPct.GreaterThanOrEqual(hundred):
		return fmt.Errorf("%w: stop_loss_pct must be in [0, 100)", ErrInvalidArgument)
	case st.TakeProfitPct.IsNegative():
		return fmt.Errorf("%w: take_profit_pct must not be negative", ErrInvalidArgument)
	}
	if _, ok := s.periods[st.Interval]; !ok {
		return fmt.Errorf("%w: interval %q is not an aggregated period", ErrInvalidArgument, st.Interval)
	}
	_, _, err := s.runner.Compile(st)
	return err
}

func (s *StrategyService) Create(ctx context.Context, userID string, st *model.Strategy) error {
	if err := s.Validate(st); err != nil {
		return err
	}
	id, err := util.GenerateID()
	if err != nil {
		return err
	}
	st.ID = id
	st.UserID = userID
	if err := pg.CreateStrategy(ctx, st); err != nil {
		return err
	}
	return s.runner.Upsert(*st)
}

// Get 只能读取自己的策略
func (s *StrategyService) Get(ctx context.Context, userID, id string) (*model.Strategy, error) {
	st, err := pg.GetStrategy(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, ErrNotFound
	}
	return st, nil
}

func (s *StrategyService) List(ctx context.Context, userID string) ([]model.Strategy, error) {
	return pg.ListStrategies(ctx, userID)
}

// Update 整体替换可编辑字段
func (s *StrategyService) Update(ctx context.Context, userID, id string, in *model.Strategy) (*model.Strategy, error) {
	st, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	// 持仓期间不能换交易对或停用，否则持仓脱离策略
	if s.runner.HasPosition(id) && (util.NormalizeSymbol(in.Symbol) != st.Symbol || in.Interval != st.Interval || !in.Enabled) {
		return nil, ErrPositionExists
	}
	st.Name = in.Name
	st.Symbol = in.Symbol
	st.Interval = in.Interval
	st.EntryRule = in.EntryRule
	st.ExitRule = in.ExitRule
	st.Quantity = in.Quantity
	st.FeeRate = in.FeeRate
	st.StopLossPct = in.StopLossPct
	st.TakeProfitPct = in.TakeProfitPct
	st.Enabled = in.Enabled
	if err := s.Validate(st); err != nil {
		return nil, err
	}
	if err := pg.UpdateStrategy(ctx, st); err != nil {
		return nil, err
	}
	if err := s.runner.Upsert(*st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *StrategyService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if s.runner.HasPosition(id) {
		return ErrPositionExists
	}
	if err := pg.DeleteStrategy(ctx, id); err != nil {
		return err
	}
	s.runner.Remove(id)
	return nil
}
