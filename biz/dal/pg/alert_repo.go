package pg

import (
	"context"

	"github.com/gogogo1024/ai-trader/biz/model"
)

func CreateAlert(ctx context.Context, a *model.Alert) error {
	return GormDB.WithContext(ctx).Create(a).Error
}

// ListAlerts 查询用户可见的提醒（本人的与广播的）
func ListAlerts(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
	var alerts []model.Alert
	err := GormDB.WithContext(ctx).
		Where("user_id = ? OR user_id = ''", userID).
		Order("created_at desc").Limit(limit).Find(&alerts).Error
	return alerts, err
}

func CreatePriceAlert(ctx context.Context, a *model.PriceAlert) error {
	return GormDB.WithContext(ctx).Create(a).Error
}

func GetPriceAlert(ctx context.Context, id string) (*model.PriceAlert, error) {
	var a model.PriceAlert
	if err := GormDB.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func ListActivePriceAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	var list []model.PriceAlert
	err := GormDB.WithContext(ctx).Where("status = ?", model.PriceAlertActive).Find(&list).Error
	return list, err
}

func ListPriceAlerts(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	var list []model.PriceAlert
	err := GormDB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&list).Error
	return list, err
}

func UpdatePriceAlertStatus(ctx context.Context, id, status string, triggeredAt int64) error {
	return GormDB.WithContext(ctx).Model(&model.PriceAlert{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "triggered_at": triggeredAt}).Error
}
