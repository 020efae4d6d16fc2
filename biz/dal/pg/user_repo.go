package pg

import (
	"context"

	"github.com/gogogo1024/ai-trader/biz/model"
)

func CreateUser(ctx context.Context, u *model.User) error {
	return GormDB.WithContext(ctx).Create(u).Error
}

func GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := GormDB.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
