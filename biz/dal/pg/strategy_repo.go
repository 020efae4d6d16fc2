package pg

import (
	"context"

	"github.com/gogogo1024/ai-trader/biz/model"
)

func CreateStrategy(ctx context.Context, s *model.Strategy) error {
	return GormDB.WithContext(ctx).Create(s).Error
}

func GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	var s model.Strategy
	if err := GormDB.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStrategies 查询用户的策略，userID 为空时返回全部
func ListStrategies(ctx context.Context, userID string) ([]model.Strategy, error) {
	var list []model.Strategy
	db := GormDB.WithContext(ctx).Model(&model.Strategy{})
	if userID != "" {
		db = db.Where("user_id = ?", userID)
	}
	err := db.Order("created_at asc").Find(&list).Error
	return list, err
}

func ListEnabledStrategies(ctx context.Context) ([]model.Strategy, error) {
	var list []model.Strategy
	err := GormDB.WithContext(ctx).Where("enabled = ?", true).Find(&list).Error
	return list, err
}

func UpdateStrategy(ctx context.Context, s *model.Strategy) error {
	return GormDB.WithContext(ctx).Save(s).Error
}

func SetStrategyEnabled(ctx context.Context, id string, enabled bool) error {
	return GormDB.WithContext(ctx).Model(&model.Strategy{}).Where("id = ?", id).Update("enabled", enabled).Error
}

func DeleteStrategy(ctx context.Context, id string) error {
	return GormDB.WithContext(ctx).Where("id = ?", id).Delete(&model.Strategy{}).Error
}
