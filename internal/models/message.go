package models

import (
	"time"
	"unicode/utf8"
)

// MessageType 定义了消息类型。
type MessageType string

const (
	TextMessage   MessageType = "text"
	ImageMessage  MessageType = "image"
	AudioMessage  MessageType = "audio"
	VideoMessage  MessageType = "video"
	FileMessage   MessageType = "file"
	PDFMessage    MessageType = "pdf"
	SystemMessage MessageType = "system" // 用于系统通知
)

// AttachmentCategory is the coarse MIME category of an uploaded file.
type AttachmentCategory string

const (
	CategoryImage AttachmentCategory = "image"
	CategoryAudio AttachmentCategory = "audio"
	CategoryVideo AttachmentCategory = "video"
	CategoryFile  AttachmentCategory = "file"
	CategoryPDF   AttachmentCategory = "pdf"
)

// Valid reports whether c is a known category.
func (c AttachmentCategory) Valid() bool {
	switch c {
	case CategoryImage, CategoryAudio, CategoryVideo, CategoryFile, CategoryPDF:
		return true
	}
	return false
}

// Attachment 描述消息附带的文件（已由文件存储服务保存）。
type Attachment struct {
	URL      string             `json:"url"`
	Name     string             `json:"name"`
	Size     int64              `json:"size"`
	Category AttachmentCategory `json:"category"`
}

// ReplySnapshot 是回复时捕获的原消息快照，之后原消息的编辑不会影响它。
// OriginalDeleted 在读取时计算，不持久化。
type ReplySnapshot struct {
	MessageID       uint      `json:"messageId"`
	SenderID        uint      `json:"senderId"`
	SenderName      string    `json:"senderName"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	OriginalDeleted bool      `json:"originalDeleted"`
}

// Reaction is one user's emoji on a message. A user has at most one per message.
type Reaction struct {
	UserID uint   `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message 代表存储在数据库中的聊天消息。
type Message struct {
	BaseModel
	ConversationID uint        `gorm:"index;not null" json:"conversationId"`
	SenderID       uint        `gorm:"index;not null" json:"senderId"`
	SenderName     string      `gorm:"type:varchar(100)" json:"senderName"`
	MessageType    MessageType `gorm:"type:varchar(20);not null" json:"messageType"`
	Content        string      `gorm:"type:text" json:"content"`

	Attachment *Attachment    `gorm:"type:jsonb;serializer:json" json:"attachment,omitempty"`
	ReplyTo    *ReplySnapshot `gorm:"type:jsonb;serializer:json" json:"replyTo,omitempty"`
	Reactions  []Reaction     `gorm:"type:jsonb;serializer:json" json:"reactions"`

	IsRead   bool       `gorm:"not null;default:false" json:"isRead"`
	ReadAt   *time.Time `json:"readAt,omitempty"`
	IsEdited bool       `gorm:"not null;default:false" json:"isEdited"`
	EditedAt *time.Time `json:"editedAt,omitempty"`

	// ClientMsgID 由客户端生成，用于把乐观发送的本地副本与服务端确认的消息对应起来。
	ClientMsgID string `gorm:"type:varchar(64);index" json:"clientMsgId,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// Cursor returns the pagination position of m.
func (m *Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Before reports whether m sorts strictly before o in (createdAt, id) order.
func (m *Message) Before(o *Message) bool {
	return m.Cursor().Before(o.Cursor())
}

// ReactionOf returns userID's reaction, if any.
func (m *Message) ReactionOf(userID uint) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// SetReaction replaces userID's reaction with emoji.
func (m *Message) SetReaction(userID uint, emoji string) {
	m.RemoveReaction(userID)
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
}

// RemoveReaction drops userID's reaction and reports whether there was one.
func (m *Message) RemoveReaction(userID uint) bool {
	kept := m.Reactions[:0]
	removed := false
	for _, r := range m.Reactions {
		if r.UserID == userID {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	m.Reactions = kept
	return removed
}

// Snapshot captures m as a reply target, truncating content to previewRunes.
func (m *Message) Snapshot(previewRunes int) *ReplySnapshot {
	return &ReplySnapshot{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    TruncateRunes(m.Content, previewRunes),
		CreatedAt:  m.CreatedAt,
	}
}

// TypeForCategory maps an attachment category to the message type it implies.
func TypeForCategory(c AttachmentCategory) MessageType {
	switch c {
	case CategoryImage:
		return ImageMessage
	case CategoryAudio:
		return AudioMessage
	case CategoryVideo:
		return VideoMessage
	case CategoryPDF:
		return PDFMessage
	default:
		return FileMessage
	}
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
