package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/ai-trader/biz/dal/redis"
	"github.com/gogogo1024/ai-trader/biz/model"
)

func TestAlertServiceLocalDelivery(t *testing.T) {
	broadcast, unicast := newFrameSink(), newFrameSink()
	svc := NewAlertService(nil, broadcast.push, unicast.push)
	ctx := context.Background()

	a := &model.Alert{UserID: "local-user", Type: model.AlertTradeOpened, Message: "opened"}
	require.NoError(t, svc.Emit(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.NotZero(t, a.CreatedAt)
	require.Len(t, unicast.get("local-user"), 1)
	assert.Empty(t, broadcast.get(AlertWSChannel))

	require.NoError(t, svc.Emit(ctx, &model.Alert{Type: model.AlertStrategyError, Message: "boom"}))
	frames := broadcast.get(AlertWSChannel)
	require.Len(t, frames, 1)
	var f struct {
		Type string      `json:"type"`
		Data model.Alert `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &f))
	assert.Equal(t, "alert", f.Type)
	assert.Equal(t, "boom", f.Data.Message)

	// 本人的与广播的都可见
	list, err := svc.List(ctx, "local-user", 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(list), 2)
	for _, x := range list {
		assert.Contains(t, []string{"", "local-user"}, x.UserID)
	}
}

func TestAlertServiceBus(t *testing.T) {
	unicast := newFrameSink()
	svc := NewAlertService(redis.Client, nil, unicast.push)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Close()

	require.NoError(t, svc.Emit(ctx, &model.Alert{UserID: "bus-user", Type: model.AlertPrice, Message: "crossed"}))
	assert.Eventually(t, func() bool {
		return len(unicast.get("bus-user")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
