package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/util"
)

// PriceChecker 行情驱动的价格提醒检查
type PriceChecker interface {
	Check(ctx context.Context, symbol string, price decimal.Decimal) []model.PriceAlert
}

// 跳表价格比较器
// above 按阈值升序，below 按阈值降序，队首总是最先触发的一档
type priceAscComparator struct{}

func (priceAscComparator) Compare(l, r interface{}) int {
	return l.(decimal.Decimal).Cmp(r.(decimal.Decimal))
}

func (priceAscComparator) CalcScore(key interface{}) float64 {
	return key.(decimal.Decimal).InexactFloat64()
}

type priceDescComparator struct{}

func (priceDescComparator) Compare(l, r interface{}) int {
	return r.(decimal.Decimal).Cmp(l.(decimal.Decimal))
}

func (priceDescComparator) CalcScore(key interface{}) float64 {
	return -key.(decimal.Decimal).InexactFloat64()
}

type symbolAlerts struct {
	above *skiplist.SkipList // 价格 >= 阈值触发
	below *skiplist.SkipList // 价格 <= 阈值触发
}

// PriceAlertBook 按交易对维护的价格提醒索引，每条提醒只触发一次
type PriceAlertBook struct {
	mu      sync.Mutex
	symbols map[string]*symbolAlerts
	byID    map[string]*model.PriceAlert
	emitter AlertEmitter
}

var _ PriceChecker = (*PriceAlertBook)(nil)

func NewPriceAlertBook(emitter AlertEmitter) *PriceAlertBook {
	return &PriceAlertBook{
		symbols: make(map[string]*symbolAlerts),
		byID:    make(map[string]*model.PriceAlert),
		emitter: emitter,
	}
}

func (b *PriceAlertBook) book(symbol string) *symbolAlerts {
	sa, ok := b.symbols[symbol]
	if !ok {
		sa = &symbolAlerts{
			above: skiplist.New(priceAscComparator{}),
			below: skiplist.New(priceDescComparator{}),
		}
		b.symbols[symbol] = sa
	}
	return sa
}

func (sa *symbolAlerts) list(direction string) *skiplist.SkipList {
	if direction == model.DirectionAbove {
		return sa.above
	}
	return sa.below
}

// insert 调用方持锁
func (b *PriceAlertBook) insert(pa *model.PriceAlert) {
	l := b.book(pa.Symbol).list(pa.Direction)
	if elem := l.Get(pa.Price); elem != nil {
		elem.Value = append(elem.Value.([]*model.PriceAlert), pa)
	} else {
		l.Set(pa.Price, []*model.PriceAlert{pa})
	}
	b.byID[pa.ID] = pa
}

// remove 调用方持锁
func (b *PriceAlertBook) remove(pa *model.PriceAlert) {
	delete(b.byID, pa.ID)
	sa, ok := b.symbols[pa.Symbol]
	if !ok {
		return
	}
	l := sa.list(pa.Direction)
	elem := l.Get(pa.Price)
	if elem == nil {
		return
	}
	queue := elem.Value.([]*model.PriceAlert)
	for i, q := range queue {
		if q.ID == pa.ID {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		l.Remove(pa.Price)
	} else {
		elem.Value = queue
	}
}

func validatePriceAlert(pa *model.PriceAlert) error {
	pa.Symbol = util.NormalizeSymbol(pa.Symbol)
	if pa.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidArgument)
	}
	if pa.Direction != model.DirectionAbove && pa.Direction != model.DirectionBelow {
		return fmt.Errorf("%w: direction must be above or below", ErrInvalidArgument)
	}
	if !pa.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidArgument)
	}
	return nil
}

// Add 创建并挂入一条价格提醒
func (b *PriceAlertBook) Add(ctx context.Context, pa *model.PriceAlert) error {
	if err := validatePriceAlert(pa); err != nil {
		return err
	}
	id, err := util.GenerateID()
	if err != nil {
		return err
	}
	pa.ID = id
	pa.Status = model.PriceAlertActive
	pa.TriggeredAt = 0
	if pg.GormDB != nil {
		if err := pg.CreatePriceAlert(ctx, pa); err != nil {
			return err
		}
	}
	cp := *pa
	b.mu.Lock()
	b.insert(&cp)
	b.mu.Unlock()
	return nil
}

// Cancel 取消提醒，只能取消自己的
func (b *PriceAlertBook) Cancel(ctx context.Context, id, userID string) error {
	b.mu.Lock()
	pa, ok := b.byID[id]
	if ok && pa.UserID != userID {
		ok = false
	}
	if ok {
		b.remove(pa)
	}
	b.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if pg.GormDB != nil {
		return pg.UpdatePriceAlertStatus(ctx, id, model.PriceAlertCancelled, 0)
	}
	return nil
}

// Load 启动时加载全部 active 提醒
func (b *PriceAlertBook) Load(ctx context.Context) error {
	list, err := pg.ListActivePriceAlerts(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range list {
		pa := list[i]
		b.insert(&pa)
	}
	hlog.CtxInfof(ctx, "[PriceAlert] loaded %d active alerts", len(list))
	return nil
}

// Get 查询提醒
func (b *PriceAlertBook) Get(ctx context.Context, id string) (*model.PriceAlert, error) {
	pa, err := pg.GetPriceAlert(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return pa, err
}

// List 用户的全部提醒
func (b *PriceAlertBook) List(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return pg.ListPriceAlerts(ctx, userID)
}

func (b *PriceAlertBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}

// popTriggered 调用方持锁
func popTriggered(l *skiplist.SkipList, hit func(threshold decimal.Decimal) bool) []*model.PriceAlert {
	var fired []*model.PriceAlert
	for {
		front := l.Front()
		if front == nil || !hit(front.Key().(decimal.Decimal)) {
			return fired
		}
		fired = append(fired, front.Value.([]*model.PriceAlert)...)
		l.RemoveFront()
	}
}

// Check 弹出所有被当前价格触发的提醒并发出通知
func (b *PriceAlertBook) Check(ctx context.Context, symbol string, price decimal.Decimal) []model.PriceAlert {
	b.mu.Lock()
	sa, ok := b.symbols[symbol]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	fired := popTriggered(sa.above, func(th decimal.Decimal) bool { return th.LessThanOrEqual(price) })
	fired = append(fired, popTriggered(sa.below, func(th decimal.Decimal) bool { return th.GreaterThanOrEqual(price) })...)
	for _, pa := range fired {
		delete(b.byID, pa.ID)
	}
	b.mu.Unlock()

	if len(fired) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	out := make([]model.PriceAlert, 0, len(fired))
	for _, pa := range fired {
		pa.Status = model.PriceAlertTriggered
		pa.TriggeredAt = now
		out = append(out, *pa)
		if pg.GormDB != nil {
			if err := pg.UpdatePriceAlertStatus(ctx, pa.ID, model.PriceAlertTriggered, now); err != nil {
				hlog.CtxErrorf(ctx, "[PriceAlert] update status failed, id=%s, err=%v", pa.ID, err)
			}
		}
		if b.emitter != nil {
			alert := &model.Alert{
				UserID:  pa.UserID,
				Type:    model.AlertPrice,
				Symbol:  pa.Symbol,
				Message: fmt.Sprintf("%s price %s crossed %s %s", pa.Symbol, price, pa.Direction, pa.Price),
				Payload: fmt.Sprintf(`{"price_alert_id":%q,"price":%q}`, pa.ID, price.String()),
			}
			if err := b.emitter.Emit(ctx, alert); err != nil {
				hlog.CtxErrorf(ctx, "[PriceAlert] emit failed, id=%s, err=%v", pa.ID, err)
			}
		}
	}
	return out
}
