package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campus-im/internal/imerrors"
	"campus-im/internal/imtypes"
	"campus-im/internal/logger"
	"campus-im/internal/models"
	"campus-im/internal/presence"
)

// PendingStatus 是乐观发送条目的状态。
type PendingStatus string

const (
	PendingSending PendingStatus = "sending"
	PendingFailed  PendingStatus = "failed"
)

// Pending 是尚未被服务端确认的本地消息。失败的条目保留到调用方重试或丢弃。
type Pending struct {
	LocalID   string
	Request   SendRequest
	Status    PendingStatus
	Err       error
	CreatedAt time.Time
}

// View 是某一时刻会话流的快照。
type View struct {
	ConversationID uint
	State          State
	Messages       []*models.Message
	Pending        []Pending
	Typing         []presence.Session
}

// Coordinator 管理单个打开会话的状态机：
// Idle → Joining → Synced ⇄ Degraded → Closed。
// 所有到达的消息（推送或轮询）都经过 merge，按 id 幂等。
type Coordinator struct {
	conversationID uint
	room           string
	selfID         uint

	push    PushChannel
	fetcher Fetcher
	sender  Sender
	blocks  BlockLister // 可为 nil
	opts    Options
	now     func() time.Time
	typing  *presence.MemoryTracker

	// linkMu 串行化重新加入房间与补拉，连接事件和轮询不会并发重连
	linkMu sync.Mutex
	connCh chan bool

	mu         sync.Mutex
	state      State
	messages   []*models.Message // 按 (createdAt, id) 升序
	byID       map[uint]*models.Message
	insertSeq  map[uint]uint64 // 消息进入本地流时的序号
	seq        uint64
	tombstones map[uint]time.Time
	hidden     map[uint]time.Time // 已屏蔽的发送者 → 屏蔽时间
	pending    []*Pending
	generation uint64 // 会话被清空时递增，丢弃之前发起的拉取结果
	observers  []func(View)
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewCoordinator 创建处于 Idle 状态的 Coordinator。
func NewCoordinator(conversationID, selfID uint, push PushChannel, fetcher Fetcher, sender Sender, opts Options) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		conversationID: conversationID,
		room:           models.ConversationRoom(conversationID),
		selfID:         selfID,
		push:           push,
		fetcher:        fetcher,
		sender:         sender,
		opts:           opts,
		now:            time.Now,
		connCh:         make(chan bool, 1),
		state:          StateIdle,
		byID:           make(map[uint]*models.Message),
		insertSeq:      make(map[uint]uint64),
		tombstones:     make(map[uint]time.Time),
		hidden:         make(map[uint]time.Time),
	}
	if bl, ok := fetcher.(BlockLister); ok {
		c.blocks = bl
	}
	c.typing = presence.NewMemoryTracker(opts.TypingTTL, func() time.Time { return c.now() }).WithoutMetrics()
	return c
}

// OnChange 注册观察者，每次状态或消息流变化后以快照回调。回调在锁外执行。
func (c *Coordinator) OnChange(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) ConversationID() uint { return c.conversationID }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages 返回已确认消息的副本（旧到新）。
func (c *Coordinator) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyMessagesLocked()
}

// Pending 返回尚未确认的本地消息。
func (c *Coordinator) Pending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyPendingLocked()
}

// Typing 返回对方正在输入的会话（自己除外）。
func (c *Coordinator) Typing() []presence.Session {
	sessions, _ := c.typing.Typing(context.Background(), c.room)
	return sessions
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	v := c.viewLocked()
	c.mu.Unlock()
	v.Typing = c.Typing()
	return v
}

func (c *Coordinator) viewLocked() View {
	return View{
		ConversationID: c.conversationID,
		State:          c.state,
		Messages:       c.copyMessagesLocked(),
		Pending:        c.copyPendingLocked(),
	}
}

func (c *Coordinator) copyMessagesLocked() []*models.Message {
	out := make([]*models.Message, len(c.messages))
	for i, m := range c.messages {
		cp := *m
		cp.Reactions = append([]models.Reaction(nil), m.Reactions...)
		out[i] = &cp
	}
	return out
}

func (c *Coordinator) copyPendingLocked() []Pending {
	out := make([]Pending, len(c.pending))
	for i, p := range c.pending {
		out[i] = *p
	}
	return out
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	observers := append([]func(View){}, c.observers...)
	c.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	v := c.View()
	for _, fn := range observers {
		fn(v)
	}
}

// transition 仅在当前状态属于 from 时切换到 to。
func (c *Coordinator) transition(to State, from ...State) bool {
	c.mu.Lock()
	ok := false
	for _, s := range from {
		if c.state == s {
			ok = true
			break
		}
	}
	prev := c.state
	if ok {
		c.state = to
	}
	c.mu.Unlock()
	if ok && prev != to {
		logger.Log.Debug("delivery state changed",
			zap.Uint("conversation_id", c.conversationID),
			zap.Stringer("from", prev),
			zap.Stringer("to", to))
		c.notify()
	}
	return ok
}

// Open 先加入房间再执行首次拉取，拉取结果覆盖加入之前写入的消息，之后的消息由推送送达。
// 传输失败不会返回错误，而是进入 Degraded 并由轮询恢复。
func (c *Coordinator) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return imerrors.Conflict("conversation is already open", nil)
	}
	c.state = StateJoining
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()
	c.notify()

	c.wg.Add(1)
	go c.loop(loopCtx)

	joinErr := c.join(ctx)
	if joinErr == nil {
		c.loadBlocks(ctx)
	}
	fetchErr := c.reconcile(ctx)
	if fetchErr == nil && joinErr == nil {
		c.transition(StateSynced, StateJoining)
	} else {
		c.transition(StateDegraded, StateJoining)
	}
	return nil
}

func (c *Coordinator) join(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	if err := c.push.Join(ctx, c.conversationID); err != nil {
		logger.Log.Debug("join room failed", zap.String("room", c.room), zap.Error(err))
		return err
	}
	return nil
}

func (c *Coordinator) loadBlocks(ctx context.Context) {
	if c.blocks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	blocks, err := c.blocks.ListBlocked(ctx)
	if err != nil {
		logger.Log.Debug("list blocked users failed", zap.Error(err))
		return
	}
	hidden := make(map[uint]time.Time, len(blocks))
	for _, b := range blocks {
		if b != nil && b.BlockerID == c.selfID {
			hidden[b.BlockedID] = b.CreatedAt
		}
	}
	c.mu.Lock()
	c.hidden = hidden
	c.mu.Unlock()
}

// SetConnected 响应推送连接的断开与恢复。恢复时总是重新加入并补拉一次，
// 因此合并掉的一次断开不会留下空洞。
func (c *Coordinator) SetConnected(ctx context.Context, connected bool) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()

	if !connected {
		c.transition(StateDegraded, StateSynced, StateJoining)
		return
	}
	switch c.State() {
	case StateSynced, StateDegraded:
	default:
		return
	}
	if err := c.resync(ctx); err != nil {
		c.transition(StateDegraded, StateSynced)
	}
}

// resync 重新加入房间并拉取一次；两者都成功时回到 Synced。
// 加入失败时仍然拉取，作为轮询。调用方持有 linkMu。
func (c *Coordinator) resync(ctx context.Context) error {
	joinErr := c.join(ctx)
	if joinErr == nil {
		c.loadBlocks(ctx)
	}
	if err := c.reconcile(ctx); err != nil {
		return err
	}
	if joinErr != nil {
		return joinErr
	}
	c.transition(StateSynced, StateDegraded)
	return nil
}

// queueConnectivity 把连接状态交给 loop 按顺序处理，只保留最新的值。
func (c *Coordinator) queueConnectivity(up bool) {
	for {
		select {
		case c.connCh <- up:
			return
		default:
		}
		select {
		case <-c.connCh:
		default:
		}
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case up := <-c.connCh:
			c.SetConnected(ctx, up)
		case <-ticker.C:
			if expired, _ := c.typing.Sweep(ctx); len(expired) > 0 {
				c.notify()
			}
			c.linkMu.Lock()
			if c.State() == StateDegraded {
				_ = c.resync(ctx)
			}
			c.linkMu.Unlock()
		}
	}
}

// reconcile 拉取最近的消息并合并。拉取窗口内本地已有、但服务端不再返回的消息被移除。
func (c *Coordinator) reconcile(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	seq := c.seq
	c.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	msgs, err := c.fetcher.FetchRecent(fetchCtx, c.conversationID, c.opts.InitialFetchLimit)
	if err != nil {
		logger.Log.Debug("fetch recent messages failed",
			zap.Uint("conversation_id", c.conversationID), zap.Error(err))
		return imerrors.TransportUnavailable(err)
	}

	c.mu.Lock()
	if c.generation != gen || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	changed := c.pruneLocked(msgs, seq)
	if c.mergeLocked(msgs) {
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return nil
}

// pruneLocked 移除在 seq 之前已进入本地流、位于快照窗口内却不在快照中的消息。
// 快照不足一页时窗口覆盖整个历史。拉取期间推送进来的消息不受影响。
func (c *Coordinator) pruneLocked(snapshot []*models.Message, seq uint64) bool {
	full := len(snapshot) < c.opts.InitialFetchLimit
	present := make(map[uint]bool, len(snapshot))
	var oldest *models.Message
	for _, m := range snapshot {
		if m == nil {
			continue
		}
		present[m.ID] = true
		if oldest == nil || m.Before(oldest) {
			oldest = m
		}
	}
	if oldest == nil && !full {
		return false
	}

	changed := false
	kept := make([]*models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		inWindow := full || !m.Before(oldest)
		if inWindow && !present[m.ID] && c.insertSeq[m.ID] <= seq {
			delete(c.byID, m.ID)
			delete(c.insertSeq, m.ID)
			changed = true
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	return changed
}

// mergeLocked 按 id 幂等地合并消息，返回是否有变化。
func (c *Coordinator) mergeLocked(msgs []*models.Message) bool {
	now := c.now()
	for id, until := range c.tombstones {
		if !now.Before(until) {
			delete(c.tombstones, id)
		}
	}

	changed := false
	for _, in := range msgs {
		if in == nil || in.ID == 0 || in.ConversationID != c.conversationID {
			continue
		}
		if _, dead := c.tombstones[in.ID]; dead {
			continue
		}
		if since, ok := c.hidden[in.SenderID]; ok && !in.CreatedAt.Before(since) {
			continue
		}
		if c.confirmPendingLocked(in.ClientMsgID) {
			changed = true
		}

		existing, ok := c.byID[in.ID]
		if !ok {
			cp := *in
			c.insertLocked(&cp)
			changed = true
			continue
		}
		if in.UpdatedAt.After(existing.UpdatedAt) {
			read, readAt := existing.IsRead, existing.ReadAt
			*existing = *in
			if read && !existing.IsRead {
				existing.IsRead, existing.ReadAt = read, readAt
			}
			changed = true
		} else if in.IsRead && !existing.IsRead {
			existing.IsRead, existing.ReadAt = true, in.ReadAt
			changed = true
		}
	}
	return changed
}

func (c *Coordinator) insertLocked(m *models.Message) {
	i := sort.Search(len(c.messages), func(i int) bool { return m.Before(c.messages[i]) })
	c.messages = append(c.messages, nil)
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
	c.byID[m.ID] = m
	c.seq++
	c.insertSeq[m.ID] = c.seq
}

func (c *Coordinator) removeLocked(id uint) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	delete(c.insertSeq, id)
	for i, m := range c.messages {
		if m.ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	return true
}

func (c *Coordinator) confirmPendingLocked(clientMsgID string) bool {
	if clientMsgID == "" {
		return false
	}
	for i, p := range c.pending {
		if p.LocalID == clientMsgID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// HandleEvent 应用一条推送事件。
func (c *Coordinator) HandleEvent(ev imtypes.Event) {
	if ev.ConversationID != c.conversationID {
		return
	}
	ctx := context.Background()

	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	changed := false
	refetch := false
	switch ev.Type {
	case imtypes.EventMessageCreated:
		if ev.Message != nil {
			changed = c.mergeLocked([]*models.Message{ev.Message})
			if stopped, _ := c.typing.StopTyping(ctx, c.room, ev.Message.SenderID); stopped {
				changed = true
			}
		}
	case imtypes.EventMessageUpdated:
		// 只更新本地已有的消息：已清除或不可见的消息不会因别人的回应或编辑重新出现
		if ev.Message != nil {
			if _, ok := c.byID[ev.Message.ID]; ok {
				changed = c.mergeLocked([]*models.Message{ev.Message})
			}
		}
	case imtypes.EventMessageDeleted:
		c.tombstones[ev.MessageID] = c.now().Add(c.opts.TombstoneTTL)
		changed = c.removeLocked(ev.MessageID)
	case imtypes.EventConversationCleared:
		c.generation++
		c.messages = nil
		c.byID = make(map[uint]*models.Message)
		c.insertSeq = make(map[uint]uint64)
		changed, refetch = true, true
		c.wg.Add(1)
	case imtypes.EventConversationRead:
		if ev.UserID != c.selfID {
			for _, m := range c.messages {
				if m.SenderID == c.selfID && !m.IsRead {
					at := ev.Timestamp
					m.IsRead, m.ReadAt = true, &at
					changed = true
				}
			}
		}
	case imtypes.EventTyping:
		if ev.UserID != c.selfID {
			changed, _ = c.typing.StartTyping(ctx, c.room, ev.UserID, ev.UserName)
		}
	case imtypes.EventTypingStop:
		changed, _ = c.typing.StopTyping(ctx, c.room, ev.UserID)
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
	if refetch {
		go func() {
			defer c.wg.Done()
			_ = c.reconcile(context.Background())
		}()
	}
}

// ApplyLocalDelete 乐观地移除一条消息，并防止之后的轮询把它带回来。
func (c *Coordinator) ApplyLocalDelete(messageID uint) {
	c.mu.Lock()
	c.tombstones[messageID] = c.now().Add(c.opts.TombstoneTTL)
	changed := c.removeLocked(messageID)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Send 乐观地追加一条本地消息并提交。失败时条目保留为 failed，返回 localID 以便重试或丢弃。
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (string, *models.Message, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return "", nil, imerrors.BadRequest("conversation is closed", nil)
	}
	p := &Pending{LocalID: uuid.NewString(), Request: req, Status: PendingSending, CreatedAt: c.now()}
	p.Request.ClientMsgID = p.LocalID
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	c.notify()

	msg, err := c.submit(ctx, p.LocalID)
	return p.LocalID, msg, err
}

// Retry 重新提交一条失败的本地消息。
func (c *Coordinator) Retry(ctx context.Context, localID string) (*models.Message, error) {
	c.mu.Lock()
	p := c.findPendingLocked(localID)
	if p == nil {
		c.mu.Unlock()
		return nil, imerrors.NotFound("pending message", nil)
	}
	if p.Status != PendingFailed {
		c.mu.Unlock()
		return nil, imerrors.Conflict("message is already being sent", nil)
	}
	p.Status, p.Err = PendingSending, nil
	c.mu.Unlock()
	c.notify()

	return c.submit(ctx, localID)
}

// Discard 丢弃一条失败的本地消息。
func (c *Coordinator) Discard(localID string) bool {
	c.mu.Lock()
	p := c.findPendingLocked(localID)
	if p == nil || p.Status != PendingFailed {
		c.mu.Unlock()
		return false
	}
	c.confirmPendingLocked(localID)
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Coordinator) findPendingLocked(localID string) *Pending {
	for _, p := range c.pending {
		if p.LocalID == localID {
			return p
		}
	}
	return nil
}

func (c *Coordinator) submit(ctx context.Context, localID string) (*models.Message, error) {
	c.mu.Lock()
	p := c.findPendingLocked(localID)
	if p == nil {
		c.mu.Unlock()
		return nil, imerrors.NotFound("pending message", nil)
	}
	req := p.Request
	c.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	msg, err := c.sender.Send(sendCtx, c.conversationID, req)
	cancel()

	c.mu.Lock()
	if err != nil {
		if p := c.findPendingLocked(localID); p != nil {
			p.Status, p.Err = PendingFailed, err
		}
		c.mu.Unlock()
		c.notify()
		return nil, err
	}
	c.confirmPendingLocked(localID)
	if msg != nil && c.state != StateClosed {
		c.mergeLocked([]*models.Message{msg})
	}
	c.mu.Unlock()
	c.notify()
	return msg, nil
}

// Close 离开房间并停止轮询。进行中的发送不会被取消。
func (c *Coordinator) Close(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasJoined := c.state != StateIdle
	c.state = StateClosed
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasJoined {
		leaveCtx, done := context.WithTimeout(ctx, c.opts.RequestTimeout)
		if err := c.push.Leave(leaveCtx, c.conversationID); err != nil {
			logger.Log.Debug("leave room failed", zap.String("room", c.room), zap.Error(err))
		}
		done()
	}
	c.wg.Wait()
	c.notify()
}
