package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"campus-im/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist (or is soft-deleted).
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// ConversationRepository 定义了会话数据操作的接口。
type ConversationRepository interface {
	// CreateConversation 在一个事务中创建会话及其参与者记录。
	// UniqueKey 冲突时返回 ErrDuplicate。
	CreateConversation(ctx context.Context, conversation *models.Conversation, participantIDs []uint) error
	GetConversationByID(ctx context.Context, id uint) (*models.Conversation, error)
	GetConversationByKey(ctx context.Context, key string) (*models.Conversation, error)
	GetConversationsByIDs(ctx context.Context, ids []uint) ([]*models.Conversation, error)
	// ListGroupConversations 返回这些社区中至少有一条消息的群聊。
	ListGroupConversations(ctx context.Context, communityIDs []uint) ([]*models.Conversation, error)

	GetParticipant(ctx context.Context, conversationID uint, userID uint) (*models.ConversationParticipant, error)
	GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error)
	ListUserParticipations(ctx context.Context, userID uint, archived bool) ([]*models.ConversationParticipant, error)
	SetArchived(ctx context.Context, conversationID uint, userID uint, archived bool) error
	ResetUnread(ctx context.Context, conversationID uint, userID uint, readAt time.Time) error
	// ClearHistory 抬高参与者的水位线，水位线只增不减。
	ClearHistory(ctx context.Context, conversationID uint, userID uint, sentThrough uint, receivedThrough uint) error
}

// SenderCutoff hides messages from SenderID created at or after Since.
type SenderCutoff struct {
	SenderID uint
	Since    time.Time
}

// MessageQuery selects one page of a conversation as seen by ViewerID.
type MessageQuery struct {
	ConversationID uint
	Limit          int
	Before         *models.Cursor

	ViewerID            uint
	HideSentThrough     uint
	HideReceivedThrough uint
	HiddenSenders       []SenderCutoff
}

// MessageRepository 定义了消息数据操作的接口。
type MessageRepository interface {
	// Append 在一个事务中追加消息：锁定会话行，保证 CreatedAt 在会话内严格递增，
	// 更新会话的最后一条消息并为其他参与者增加未读数。
	Append(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	// GetByIDUnscoped also returns soft-deleted messages; deleted reports which.
	GetByIDUnscoped(ctx context.Context, id uint) (message *models.Message, deleted bool, err error)
	// List returns at most q.Limit messages strictly before q.Before, oldest first.
	List(ctx context.Context, q MessageQuery) ([]*models.Message, error)
	// LiveIDs returns the subset of ids that exist and are not deleted.
	LiveIDs(ctx context.Context, ids []uint) (map[uint]bool, error)
	// LatestID returns the newest message id of the conversation, 0 when empty.
	LatestID(ctx context.Context, conversationID uint) (uint, error)
	MarkRead(ctx context.Context, conversationID uint, readerID uint, readAt time.Time) (int64, error)
	Delete(ctx context.Context, id uint) error
	DeleteByConversation(ctx context.Context, conversationID uint) (int64, error)
	// Mutate loads the message with a row lock, applies fn and saves the result in one transaction.
	Mutate(ctx context.Context, id uint, fn func(*models.Message) error) (*models.Message, error)
}

// BlockRepository 定义了屏蔽关系的数据操作接口。
type BlockRepository interface {
	// Create is idempotent and returns the stored relationship.
	Create(ctx context.Context, blockerID uint, blockedID uint) (*models.Block, error)
	Delete(ctx context.Context, blockerID uint, blockedID uint) error
	Get(ctx context.Context, blockerID uint, blockedID uint) (*models.Block, error)
	// Between returns the relationships in either direction between a and b.
	Between(ctx context.Context, a uint, b uint) ([]*models.Block, error)
	ListByBlocker(ctx context.Context, blockerID uint) ([]*models.Block, error)
}

// CommunityRepository 定义了社区（只读）数据操作的接口。
type CommunityRepository interface {
	GetCommunityByID(ctx context.Context, id uint) (*models.Community, error)
	GetCommunitiesByIDs(ctx context.Context, ids []uint) ([]*models.Community, error)
	GetMember(ctx context.Context, communityID uint, userID uint) (*models.CommunityMember, error)
	GetUserCommunityIDs(ctx context.Context, userID uint) ([]uint, error)
}

// UserRepository defines the read operations on the user directory.
type UserRepository interface {
	SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]models.UserBasicInfo, error)
	GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error)
	GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error)
}

// Repositories bundles one implementation of every repository.
type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Blocks        BlockRepository
	Communities   CommunityRepository
	Users         UserRepository
}

// NewGormRepositories wires the GORM implementations around db.
func NewGormRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Conversations: NewGormConversationRepository(db),
		Messages:      NewGormMessageRepository(db),
		Blocks:        NewGormBlockRepository(db),
		Communities:   NewGormCommunityRepository(db),
		Users:         NewGormUserRepository(db),
	}
}

// translate maps gorm errors to the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}
