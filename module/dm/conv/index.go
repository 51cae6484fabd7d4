package conv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"DirectIM/logger"
	"DirectIM/module/dm/model"
	"DirectIM/module/dm/user"
	"DirectIM/tools/safe"
)

// Row 会话列表的一行：以 current user 视角看某个对端。
type Row struct {
	CounterpartID      int64     `json:"counterpart_id"`
	DisplayName        string    `json:"counterpart_display_name"`
	AvatarURL          string    `json:"avatar_url,omitempty"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastMessageAt      time.Time `json:"last_message_at"`
	UnreadCount        int       `json:"unread_count"`
	Online             bool      `json:"online"`
}

// MarkReadFunc 向消息库下发置读；由 Index 在打开会话时 fire-and-forget
// 调用（带退避重试），永不阻塞调用方。
type MarkReadFunc func(ctx context.Context, counterpartID int64) (int64, error)

// PresenceFunc 在线查询，best-effort；nil 表示不展示在线态。
type PresenceFunc func(userID int64) bool

// Index 维护 counterpart -> 行 的映射与未读数。
//
// 并发模型：Apply 只由 reconcile 层的单一 owner goroutine 调用；
// Open/Close/Snapshot 来自 API goroutine，内部用互斥量把所有修改
// 收拢成一个临界区。展示层永远拿 Snapshot 的副本，不碰活结构。
type Index struct {
	mu     sync.Mutex
	userID int64
	rows   map[int64]*Row
	lastID map[int64]int64 // counterpart -> 已应用的最大消息 id（时间戳并列时定序）
	open   int64           // 当前打开的会话对端；0 = 无

	users    user.Directory
	markRead MarkReadFunc
	presence PresenceFunc

	version  uint64
	watchers map[int]chan struct{}
	nextWID  int
}

func NewIndex(userID int64, users user.Directory, markRead MarkReadFunc, presence PresenceFunc) *Index {
	return &Index{
		userID:   userID,
		rows:     make(map[int64]*Row),
		lastID:   make(map[int64]int64),
		users:    users,
		markRead: markRead,
		presence: presence,
		watchers: make(map[int]chan struct{}),
	}
}

// Apply 把一条（已去重的）消息折叠进索引。纯内存，不做 I/O，
// 名字解析异步补齐。
func (x *Index) Apply(msg *model.Message) {
	cp := msg.Counterpart(x.userID)

	x.mu.Lock()
	row, ok := x.rows[cp]
	if !ok {
		row = &Row{CounterpartID: cp, DisplayName: fallbackName(cp)}
		x.rows[cp] = row
		if x.users != nil {
			x.resolveNameAsync(cp)
		}
	}

	// 预览/时间戳只进不退：晚到的旧消息不得回退排序键
	if msg.CreatedAt.After(row.LastMessageAt) ||
		(msg.CreatedAt.Equal(row.LastMessageAt) && msg.ID > x.lastID[cp]) {
		row.LastMessagePreview = msg.Content
		row.LastMessageAt = msg.CreatedAt
	}
	if msg.ID > x.lastID[cp] {
		x.lastID[cp] = msg.ID
	}

	// 未读：仅收件方向、未读、且不是当前打开的会话
	if msg.InboundFor(x.userID) && !msg.Read && cp != x.open {
		row.UnreadCount++
	}
	x.bumpLocked()
	x.mu.Unlock()
}

// OpenConversation 打开会话：未读清零、登记豁免、异步下发置读。
// UI 乐观更新，不等存储确认。
func (x *Index) OpenConversation(counterpartID int64) {
	x.mu.Lock()
	x.open = counterpartID
	if row, ok := x.rows[counterpartID]; ok {
		row.UnreadCount = 0
	}
	x.bumpLocked()
	x.mu.Unlock()

	if x.markRead != nil {
		safe.Go(func() { x.markReadWithRetry(counterpartID) })
	}
}

// CloseConversation 清除豁免；之后该对端的新消息恢复累积未读。
func (x *Index) CloseConversation() {
	x.mu.Lock()
	x.open = 0
	x.bumpLocked()
	x.mu.Unlock()
}

// Open 当前打开的会话对端；0 = 无。
func (x *Index) Open() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.open
}

// Snapshot 按最近活跃降序（并列按对端 id 升序）返回副本。
func (x *Index) Snapshot() []Row {
	x.mu.Lock()
	out := make([]Row, 0, len(x.rows))
	for _, r := range x.rows {
		out = append(out, *r)
	}
	x.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].CounterpartID < out[j].CounterpartID
	})
	if x.presence != nil {
		for i := range out {
			out[i].Online = x.presence(out[i].CounterpartID)
		}
	}
	return out
}

// Version 自增计数，快照是否过期的廉价判断。
func (x *Index) Version() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.version
}

// Watch 注册一个变更通知 channel（容量1，合并通知）。
func (x *Index) Watch() (<-chan struct{}, func()) {
	x.mu.Lock()
	defer x.mu.Unlock()
	id := x.nextWID
	x.nextWID++
	ch := make(chan struct{}, 1)
	x.watchers[id] = ch
	return ch, func() {
		x.mu.Lock()
		delete(x.watchers, id)
		x.mu.Unlock()
	}
}

func (x *Index) bumpLocked() {
	x.version++
	for _, ch := range x.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (x *Index) resolveNameAsync(cp int64) {
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		u, err := x.users.Lookup(ctx, cp)
		if err != nil {
			logger.Warnf("[conv] resolve user %d: %v", cp, err)
			return
		}
		x.mu.Lock()
		if row, ok := x.rows[cp]; ok {
			row.DisplayName = u.DisplayName
			row.AvatarURL = u.AvatarURL
			x.bumpLocked()
		}
		x.mu.Unlock()
	})
}

const (
	markReadAttempts = 5
	markReadBackoff  = 200 * time.Millisecond
)

// markReadWithRetry 有界指数退避；最终失败只记日志——本地未读已清零，
// 下次会话引导（bootstrap）还会再对账一次。
func (x *Index) markReadWithRetry(counterpartID int64) {
	backoff := markReadBackoff
	for i := 0; i < markReadAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_, err := x.markRead(ctx, counterpartID)
		cancel()
		if err == nil {
			return
		}
		logger.Warnf("[conv] mark read %d->%d attempt %d: %v", x.userID, counterpartID, i+1, err)
		time.Sleep(backoff)
		backoff *= 2
	}
}

func fallbackName(id int64) string {
	return "user " + strconv.FormatInt(id, 10)
}
