package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConversationType 定义了会话的类型。
type ConversationType string

const (
	DirectConversation ConversationType = "direct" // 一对一聊天
	GroupConversation  ConversationType = "group"  // 社区群聊
)

// Conversation 代表一个聊天会话（一对一或社区群聊）。
type Conversation struct {
	BaseModel
	Type ConversationType `gorm:"type:varchar(20);not null;index" json:"type"`

	// UniqueKey 保证同一对用户（或同一社区）只有一个会话。
	// 私聊: "direct:<low>:<high>"；群聊: "group:<communityID>"。
	UniqueKey string `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`

	// 私聊双方，按 ID 升序保存
	UserLowID  uint `gorm:"index" json:"userLowId,omitempty"`
	UserHighID uint `gorm:"index" json:"userHighId,omitempty"`

	// 群聊对应的社区
	CommunityID uint `gorm:"index" json:"communityId,omitempty"`

	LastMessageAt *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`
	LastMessageID *uint      `json:"lastMessageId,omitempty"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// DirectKey returns the unique key for the unordered pair (a, b).
func DirectKey(a, b uint) string {
	low, high := OrderPair(a, b)
	return fmt.Sprintf("direct:%d:%d", low, high)
}

// GroupKey returns the unique key of a community's conversation.
func GroupKey(communityID uint) string {
	return fmt.Sprintf("group:%d", communityID)
}

// OrderPair returns a and b in ascending order.
func OrderPair(a, b uint) (uint, uint) {
	if a < b {
		return a, b
	}
	return b, a
}

// IsParticipant reports whether userID is one of the two direct participants.
func (c *Conversation) IsParticipant(userID uint) bool {
	return c.Type == DirectConversation && (c.UserLowID == userID || c.UserHighID == userID)
}

// OtherParticipant returns the counterpart of userID in a direct conversation.
func (c *Conversation) OtherParticipant(userID uint) uint {
	if c.UserLowID == userID {
		return c.UserHighID
	}
	return c.UserLowID
}

// Room returns the push room name for this conversation.
func (c *Conversation) Room() string {
	return ConversationRoom(c.ID)
}

// ConversationRoom returns the push room name for a conversation id.
func ConversationRoom(id uint) string {
	return fmt.Sprintf("conversation:%d", id)
}

// ParseConversationRoom is the inverse of ConversationRoom.
func ParseConversationRoom(room string) (uint, bool) {
	rest, ok := strings.CutPrefix(room, "conversation:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// UserRoom returns the personal push room every connection of a user joins.
func UserRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// ConversationParticipant 保存私聊中每个参与者自己的状态。
type ConversationParticipant struct {
	ConversationID uint       `gorm:"primaryKey;autoIncrement:false" json:"conversationId"`
	UserID         uint       `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	UnreadCount    int        `gorm:"not null;default:0" json:"unreadCount"`
	Archived       bool       `gorm:"not null;default:false" json:"archived"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`

	// 清除历史的水位线：ID 小于等于水位线的消息对该用户隐藏。
	// Sent 针对自己发送的消息，Received 针对对方发送的消息。
	ClearedSentThrough     uint `gorm:"not null;default:0" json:"-"`
	ClearedReceivedThrough uint `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定 ConversationParticipant 模型的表名。
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ID            uint             `json:"id"`
	Type          ConversationType `json:"type"`
	OtherUser     *UserBasicInfo   `json:"otherUser,omitempty"`
	Community     *Community       `json:"community,omitempty"`
	LastMessage   *Message         `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time       `json:"lastMessageAt,omitempty"`
	UnreadCount   int              `json:"unreadCount"`
	Archived      bool             `json:"archived"`
}
