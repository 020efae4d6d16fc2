package model

type User struct {
	ID           string `gorm:"primaryKey;column:id" json:"id"`
	Username     string `gorm:"column:username;uniqueIndex" json:"username"`
	PasswordHash string `gorm:"column:password_hash" json:"-"`
	CreatedAt    int64  `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
