package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"campus-im/internal/config"
	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
	"campus-im/internal/metrics"
	"campus-im/internal/models"
	"campus-im/internal/storage"
)

// MessagePayload 是发送消息时由调用方提供的内容。
type MessagePayload struct {
	Content     string
	MessageType models.MessageType
	Attachment  *models.Attachment
	ClientMsgID string

	// replyTo is filled by the reaction/reply service only.
	replyTo *models.ReplySnapshot
}

// ConversationService 定义了会话与消息存储相关服务的接口。
type ConversationService interface {
	// GetOrCreateDirectConversation 获取或创建两个用户之间的私聊会话，并发调用返回同一会话。
	GetOrCreateDirectConversation(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	GetOrCreateGroupConversation(ctx context.Context, communityID, userID uint) (*models.Conversation, error)
	// CanAccess 检查用户是否属于该会话。
	CanAccess(ctx context.Context, conversationID, userID uint) error
	ListMessages(ctx context.Context, conversationID, viewerID uint, limit int, before *models.Cursor) ([]*models.Message, error)
	AppendMessage(ctx context.Context, conversationID, senderID uint, payload MessagePayload) (*models.Message, error)
	// SendDirectMessage 首次发送时隐式创建私聊会话。
	SendDirectMessage(ctx context.Context, senderID, recipientID uint, payload MessagePayload) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID, userID uint) error
	ListConversationsForUser(ctx context.Context, userID uint, archived bool) ([]*models.ConversationSummary, error)
	SetArchived(ctx context.Context, conversationID, userID uint, archived bool) error
	EditMessage(ctx context.Context, messageID, userID uint, content string) (*models.Message, error)

	Block(ctx context.Context, blockerID, blockedID uint) (*models.Block, error)
	Unblock(ctx context.Context, blockerID, blockedID uint) error
	ListBlocked(ctx context.Context, blockerID uint) ([]*models.Block, error)
}

// conversationService 是 ConversationService 的实现。
type conversationService struct {
	accessPolicy
	users     UserDirectory
	publisher EventPublisher
	cfg       config.MessagingConfig
	writers   *keyedMutex
	now       func() time.Time
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(repos storage.Repositories, membership Membership, users UserDirectory, publisher EventPublisher, cfg config.MessagingConfig) ConversationService {
	if publisher == nil {
		publisher = NewNopPublisher()
	}
	return &conversationService{
		accessPolicy: accessPolicy{repos: repos, membership: membership},
		users:        users,
		publisher:    publisher,
		cfg:          cfg,
		writers:      newKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *conversationService) GetOrCreateDirectConversation(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	if userA == 0 || userB == 0 {
		return nil, imerrors.BadRequest("user id is required", nil)
	}
	if userA == userB {
		return nil, imerrors.BadRequest("不能与自己创建私聊会话", nil)
	}

	key := models.DirectKey(userA, userB)
	conv, err := s.repos.Conversations.GetConversationByKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("查找私聊会话失败: %w", err)
	}

	if _, err := s.users.BasicInfo(ctx, userB); err != nil {
		return nil, err
	}

	low, high := models.OrderPair(userA, userB)
	conv = &models.Conversation{
		Type:       models.DirectConversation,
		UniqueKey:  key,
		UserLowID:  low,
		UserHighID: high,
	}
	return s.createOrFetch(ctx, conv, []uint{low, high})
}

func (s *conversationService) GetOrCreateGroupConversation(ctx context.Context, communityID, userID uint) (*models.Conversation, error) {
	ok, err := s.membership.IsMember(ctx, communityID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, imerrors.NotAMember("you are not a member of this community")
	}

	key := models.GroupKey(communityID)
	conv, err := s.repos.Conversations.GetConversationByKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("查找群聊会话失败: %w", err)
	}

	if _, err := s.repos.Communities.GetCommunityByID(ctx, communityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, imerrors.NotFound("community", err)
		}
		return nil, err
	}

	conv = &models.Conversation{
		Type:        models.GroupConversation,
		UniqueKey:   key,
		CommunityID: communityID,
	}
	return s.createOrFetch(ctx, conv, nil)
}

// createOrFetch inserts conv; losing a creation race re-reads the winner.
func (s *conversationService) createOrFetch(ctx context.Context, conv *models.Conversation, participantIDs []uint) (*models.Conversation, error) {
	err := s.repos.Conversations.CreateConversation(ctx, conv, participantIDs)
	if errors.Is(err, storage.ErrDuplicate) {
		metrics.ConversationCreateConflicts.Inc()
		existing, err := s.repos.Conversations.GetConversationByKey(ctx, conv.UniqueKey)
		if err != nil {
			return nil, fmt.Errorf("并发创建后重新获取会话失败: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("创建新会话失败: %w", err)
	}
	metrics.ConversationsCreated.WithLabelValues(string(conv.Type)).Inc()
	logger.Log.Info("conversation created",
		zap.Uint("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.String("key", conv.UniqueKey))
	return conv, nil
}

func (s *conversationService) CanAccess(ctx context.Context, conversationID, userID uint) error {
	_, err := s.resolve(ctx, conversationID, userID)
	return err
}

// pageSize 规范化分页大小：默认 DefaultPageSize，上限 MaxPageSize。
func (s *conversationService) pageSize(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	if limit <= 0 {
		limit = 50
	}
	return limit
}

func (s *conversationService) ListMessages(ctx context.Context, conversationID, viewerID uint, limit int, before *models.Cursor) ([]*models.Message, error) {
	v, err := s.resolve(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	q, err := s.visibility(ctx, v)
	if err != nil {
		return nil, err
	}
	q.Limit = s.pageSize(limit)
	q.Before = before

	msgs, err := s.repos.Messages.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 消息失败: %w", conversationID, err)
	}
	if err := s.markReplyTombstones(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// validatePayload 校验消息内容并推导消息类型。
func (s *conversationService) validatePayload(p *MessagePayload) error {
	p.Content = strings.TrimSpace(p.Content)
	if p.Content == "" && p.Attachment == nil {
		return imerrors.BadRequest("message content is required", nil)
	}
	if max := s.cfg.MaxContentLength; max > 0 && utf8.RuneCountInString(p.Content) > max {
		return imerrors.BadRequest(fmt.Sprintf("message content exceeds %d characters", max), nil)
	}
	if p.Attachment != nil {
		if p.Attachment.URL == "" {
			return imerrors.BadRequest("attachment url is required", nil)
		}
		if !p.Attachment.Category.Valid() {
			return imerrors.BadRequest(fmt.Sprintf("unknown attachment category %q", p.Attachment.Category), nil)
		}
	}
	if len(p.ClientMsgID) > 64 {
		return imerrors.BadRequest("clientMsgId is too long", nil)
	}

	switch p.MessageType {
	case "":
		if p.Attachment != nil {
			p.MessageType = models.TypeForCategory(p.Attachment.Category)
		} else {
			p.MessageType = models.TextMessage
		}
	case models.TextMessage:
	case models.ImageMessage, models.AudioMessage, models.VideoMessage, models.FileMessage, models.PDFMessage:
		if p.Attachment == nil {
			return imerrors.BadRequest(fmt.Sprintf("message type %q requires an attachment", p.MessageType), nil)
		}
	default:
		return imerrors.BadRequest(fmt.Sprintf("unsupported message type %q", p.MessageType), nil)
	}
	return nil
}

func (s *conversationService) AppendMessage(ctx context.Context, conversationID, senderID uint, payload MessagePayload) (*models.Message, error) {
	msg, err := s.appendMessage(ctx, conversationID, senderID, payload)
	if err != nil {
		var appErr *imerrors.AppError
		if errors.As(err, &appErr) {
			metrics.SendRejected.WithLabelValues(appErr.Code).Inc()
		}
		return nil, err
	}
	return msg, nil
}

func (s *conversationService) appendMessage(ctx context.Context, conversationID, senderID uint, payload MessagePayload) (*models.Message, error) {
	if err := s.validatePayload(&payload); err != nil {
		return nil, err
	}
	v, err := s.resolve(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDirectNotBlocked(ctx, v); err != nil {
		return nil, err
	}

	senderName := ""
	if info, err := s.users.BasicInfo(ctx, senderID); err == nil {
		senderName = info.DisplayName()
	} else {
		logger.Log.Warn("sender name lookup failed", zap.Uint("user_id", senderID), zap.Error(err))
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		MessageType:    payload.MessageType,
		Content:        payload.Content,
		Attachment:     payload.Attachment,
		ReplyTo:        payload.replyTo,
		Reactions:      []models.Reaction{},
		ClientMsgID:    payload.ClientMsgID,
	}
	msg.CreatedAt = s.now()

	unlock := s.writers.Lock(conversationID)
	err = s.repos.Messages.Append(ctx, msg)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("保存消息到会话 %d 失败: %w", conversationID, err)
	}
	metrics.MessagesAppended.WithLabelValues(string(v.conversation.Type)).Inc()

	event := imtypes.Event{
		Type:           imtypes.EventMessageCreated,
		ConversationID: conversationID,
		Message:        msg,
		UserID:         senderID,
		Timestamp:      msg.CreatedAt,
	}
	s.publisher.Publish(ctx, v.conversation.Room(), event)
	if v.conversation.Type == models.DirectConversation {
		// 对方可能没有打开该会话，推送到其个人房间以更新会话列表
		s.publisher.Publish(ctx, models.UserRoom(v.conversation.OtherParticipant(senderID)), event)
	}
	return msg, nil
}

func (s *conversationService) SendDirectMessage(ctx context.Context, senderID, recipientID uint, payload MessagePayload) (*models.Message, error) {
	conv, err := s.GetOrCreateDirectConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	return s.AppendMessage(ctx, conv.ID, senderID, payload)
}

// MarkRead 清零调用者的未读数，并将对方发送的未读消息标记为已读。群聊为空操作。
func (s *conversationService) MarkRead(ctx context.Context, conversationID, userID uint) error {
	v, err := s.resolve(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if v.conversation.Type != models.DirectConversation {
		return nil
	}

	now := s.now()
	if _, err := s.repos.Messages.MarkRead(ctx, conversationID, userID, now); err != nil {
		return fmt.Errorf("标记消息已读失败: %w", err)
	}
	if err := s.repos.Conversations.ResetUnread(ctx, conversationID, userID, now); err != nil {
		return fmt.Errorf("清零未读数失败: %w", err)
	}

	s.publisher.Publish(ctx, v.conversation.Room(), imtypes.Event{
		Type:           imtypes.EventConversationRead,
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      now,
	})
	return nil
}

func (s *conversationService) ListConversationsForUser(ctx context.Context, userID uint, archived bool) ([]*models.ConversationSummary, error) {
	parts, err := s.repos.Conversations.ListUserParticipations(ctx, userID, archived)
	if err != nil {
		return nil, fmt.Errorf("获取用户 %d 的会话失败: %w", userID, err)
	}
	byConv := make(map[uint]*models.ConversationParticipant, len(parts))
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		byConv[p.ConversationID] = p
		ids = append(ids, p.ConversationID)
	}
	convs, err := s.repos.Conversations.GetConversationsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取会话详情失败: %w", err)
	}

	var groupConvs []*models.Conversation
	communities := map[uint]*models.Community{}
	if !archived {
		communityIDs, err := s.membership.CommunitiesOf(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("获取用户 %d 的社区失败: %w", userID, err)
		}
		groupConvs, err = s.repos.Conversations.ListGroupConversations(ctx, communityIDs)
		if err != nil {
			return nil, fmt.Errorf("获取社区群聊失败: %w", err)
		}
		cs, err := s.repos.Communities.GetCommunitiesByIDs(ctx, communityIDs)
		if err != nil {
			return nil, fmt.Errorf("获取社区信息失败: %w", err)
		}
		for _, c := range cs {
			communities[c.ID] = c
		}
	}

	otherIDs := make([]uint, 0, len(convs))
	for _, c := range convs {
		otherIDs = append(otherIDs, c.OtherParticipant(userID))
	}
	others, err := s.users.BasicInfos(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.ConversationSummary, 0, len(convs)+len(groupConvs))
	for _, c := range convs {
		if c.Type != models.DirectConversation {
			continue
		}
		p := byConv[c.ID]
		sum := &models.ConversationSummary{
			ID:            c.ID,
			Type:          c.Type,
			LastMessageAt: c.LastMessageAt,
			UnreadCount:   p.UnreadCount,
			Archived:      p.Archived,
		}
		if other, ok := others[c.OtherParticipant(userID)]; ok {
			sum.OtherUser = other
		} else {
			sum.OtherUser = &models.UserBasicInfo{ID: c.OtherParticipant(userID)}
		}
		if sum.LastMessage, err = s.lastVisible(ctx, &viewer{userID: userID, conversation: c, participant: p}); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	for _, c := range groupConvs {
		sum := &models.ConversationSummary{
			ID:            c.ID,
			Type:          c.Type,
			Community:     communities[c.CommunityID],
			LastMessageAt: c.LastMessageAt,
		}
		if sum.LastMessage, err = s.lastVisible(ctx, &viewer{userID: userID, conversation: c}); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}

	sortKey := make(map[uint]time.Time, len(summaries))
	for _, list := range [][]*models.Conversation{convs, groupConvs} {
		for _, c := range list {
			// 没有消息的会话按创建时间排序
			sortKey[c.ID] = c.CreatedAt
			if c.LastMessageAt != nil {
				sortKey[c.ID] = *c.LastMessageAt
			}
		}
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return sortKey[summaries[i].ID].After(sortKey[summaries[j].ID])
	})
	return summaries, nil
}

// lastVisible returns the newest message of the conversation visible to the viewer.
func (s *conversationService) lastVisible(ctx context.Context, v *viewer) (*models.Message, error) {
	q, err := s.visibility(ctx, v)
	if err != nil {
		return nil, err
	}
	q.Limit = 1
	msgs, err := s.repos.Messages.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("获取会话 %d 最后一条消息失败: %w", v.conversation.ID, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (s *conversationService) SetArchived(ctx context.Context, conversationID, userID uint, archived bool) error {
	v, err := s.resolve(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if v.conversation.Type != models.DirectConversation {
		return imerrors.BadRequest("only direct conversations can be archived", nil)
	}
	if err := s.repos.Conversations.SetArchived(ctx, conversationID, userID, archived); err != nil {
		return fmt.Errorf("更新会话归档状态失败: %w", err)
	}
	return nil
}

// EditMessage 仅作者可以编辑；其他消息中的回复快照不受影响。
func (s *conversationService) EditMessage(ctx context.Context, messageID, userID uint, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	v, err := s.resolve(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, imerrors.Forbidden("only the author can edit a message")
	}
	if content == "" && msg.Attachment == nil {
		return nil, imerrors.BadRequest("message content is required", nil)
	}
	if max := s.cfg.MaxContentLength; max > 0 && utf8.RuneCountInString(content) > max {
		return nil, imerrors.BadRequest(fmt.Sprintf("message content exceeds %d characters", max), nil)
	}

	now := s.now()
	updated, err := s.repos.Messages.Mutate(ctx, messageID, func(m *models.Message) error {
		m.Content = content
		m.IsEdited = true
		m.EditedAt = &now
		m.UpdatedAt = now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, imerrors.NotFound("message", err)
	}
	if err != nil {
		return nil, fmt.Errorf("编辑消息 %d 失败: %w", messageID, err)
	}
	if err := s.markReplyTombstones(ctx, []*models.Message{updated}); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, v.conversation.Room(), imtypes.Event{
		Type:           imtypes.EventMessageUpdated,
		ConversationID: updated.ConversationID,
		Message:        updated,
		UserID:         userID,
		Timestamp:      now,
	})
	return updated, nil
}

func (s *conversationService) Block(ctx context.Context, blockerID, blockedID uint) (*models.Block, error) {
	if blockerID == blockedID {
		return nil, imerrors.BadRequest("you cannot block yourself", nil)
	}
	if _, err := s.users.BasicInfo(ctx, blockedID); err != nil {
		return nil, err
	}
	block, err := s.repos.Blocks.Create(ctx, blockerID, blockedID)
	if err != nil {
		return nil, fmt.Errorf("屏蔽用户 %d 失败: %w", blockedID, err)
	}
	logger.Log.Info("user blocked", zap.Uint("blocker_id", blockerID), zap.Uint("blocked_id", blockedID))
	return block, nil
}

func (s *conversationService) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	if err := s.repos.Blocks.Delete(ctx, blockerID, blockedID); err != nil {
		return fmt.Errorf("取消屏蔽用户 %d 失败: %w", blockedID, err)
	}
	return nil
}

func (s *conversationService) ListBlocked(ctx context.Context, blockerID uint) ([]*models.Block, error) {
	blocks, err := s.repos.Blocks.ListByBlocker(ctx, blockerID)
	if err != nil {
		return nil, fmt.Errorf("获取屏蔽列表失败: %w", err)
	}
	return blocks, nil
}
