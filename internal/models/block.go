package models

import "time"

// Block 是有向的屏蔽关系 blocker → blocked，每个有序对唯一。
// CreatedAt 记录屏蔽生效的时间，之后被屏蔽者发送的消息对屏蔽者隐藏。
type Block struct {
	BlockerID uint      `gorm:"primaryKey;autoIncrement:false" json:"blockerId"`
	BlockedID uint      `gorm:"primaryKey;autoIncrement:false;index" json:"blockedId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 Block 模型的表名。
func (Block) TableName() string {
	return "blocks"
}
