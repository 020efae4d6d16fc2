package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gogogo1024/ai-trader/biz/dal/pg"
	"github.com/gogogo1024/ai-trader/biz/engine"
	"github.com/gogogo1024/ai-trader/biz/metrics"
	"github.com/gogogo1024/ai-trader/biz/model"
	"github.com/gogogo1024/ai-trader/biz/util"
)

const (
	// AlertBusChannel 节点间提醒总线
	AlertBusChannel = "alerts"
	// AlertWSChannel 广播提醒的 WebSocket 频道
	AlertWSChannel = "alerts"

	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// AlertEmitter 发出提醒
type AlertEmitter interface {
	Emit(ctx context.Context, a *model.Alert) error
}

// AlertService 持久化提醒并经 Redis 发布，所有节点各自投递到本地连接
type AlertService struct {
	rdb       *goredis.Client
	broadcast engine.Broadcaster
	unicast   engine.Unicaster

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAlertService(rdb *goredis.Client, broadcast engine.Broadcaster, unicast engine.Unicaster) *AlertService {
	return &AlertService{rdb: rdb, broadcast: broadcast, unicast: unicast}
}

// Emit 补齐ID与时间，落库后发布；落库失败仍然发布
func (s *AlertService) Emit(ctx context.Context, a *model.Alert) error {
	if a.ID == "" {
		id, err := util.GenerateID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	if pg.GormDB != nil {
		if err := pg.CreateAlert(ctx, a); err != nil {
			hlog.CtxErrorf(ctx, "[Alert] persist failed, id=%s, err=%v", a.ID, err)
		}
	}
	metrics.AlertsEmitted.WithLabelValues(a.Type).Inc()

	if s.rdb == nil {
		s.deliver(a)
		return nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, AlertBusChannel, b).Err()
}

// Start 订阅提醒总线并投递，订阅确认后返回
func (s *AlertService) Start(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ps := s.rdb.Subscribe(ctx, AlertBusChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var a model.Alert
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					hlog.Warnf("[Alert] invalid payload: %v", err)
					continue
				}
				s.deliver(&a)
			}
		}
	}()
	return nil
}

func (s *AlertService) deliver(a *model.Alert) {
	frame, err := engine.Frame("alert", "", a)
	if err != nil {
		hlog.Errorf("[Alert] frame failed: %v", err)
		return
	}
	if a.UserID != "" {
		if s.unicast != nil {
			s.unicast(a.UserID, frame)
		}
		return
	}
	if s.broadcast != nil {
		s.broadcast(AlertWSChannel, frame)
	}
}

// List 用户可见的提醒，最新在前
func (s *AlertService) List(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	return pg.ListAlerts(ctx, userID, limit)
}

func (s *AlertService) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
