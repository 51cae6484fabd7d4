package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"DirectIM/logger"
	"DirectIM/module/dm/conv"
	"DirectIM/module/dm/delivery"
	"DirectIM/module/dm/model"
	"DirectIM/module/dm/poll"
	"DirectIM/module/dm/reconcile"
	"DirectIM/module/dm/store"
	"DirectIM/module/dm/user"
	"DirectIM/service/storage"
	"DirectIM/tools/errs"
	"DirectIM/tools/safe"
)

type Config struct {
	PollInterval   time.Duration
	PresenceTTL    time.Duration // <=0 关闭在线态上报
	PresenceLookup conv.PresenceFunc
}

// Session 把消息库、推送订阅、轮询兜底和 reconcile owner 绑成一个
// 用户的消息会话。生命周期：New -> Open -> (Send/Open/Close会话...)
// -> Close。Close 是一次性的原子拆除——订阅句柄、轮询定时器、owner
// goroutine 同时终止，杜绝向残留 reconciler 的重复投递。
type Session struct {
	userID int64
	st     store.Store
	sub    *delivery.Subscriber
	pub    *delivery.Publisher
	idx    *conv.Index
	rec    *reconcile.Reconciler
	poller *poll.Poller

	handle    *delivery.Handle
	stop      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	opened    atomic.Bool

	presenceTTL time.Duration
}

func New(userID int64, st store.Store, tr delivery.Transport, users user.Directory, cfg Config) *Session {
	idx := conv.NewIndex(userID, users,
		func(ctx context.Context, counterpartID int64) (int64, error) {
			return st.MarkRead(ctx, userID, counterpartID)
		},
		cfg.PresenceLookup,
	)
	rec := reconcile.New(userID, st, idx)
	return &Session{
		userID:      userID,
		st:          st,
		sub:         delivery.NewSubscriber(tr),
		pub:         delivery.NewPublisher(tr),
		idx:         idx,
		rec:         rec,
		poller:      poll.New(userID, st, rec.Enqueue, cfg.PollInterval),
		stop:        make(chan struct{}),
		presenceTTL: cfg.PresenceTTL,
	}
}

// Open 先订阅（实时事件进队列缓冲），再做权威引导拉取，然后启动
// owner 与轮询。顺序保证离线期间的消息既不丢也不被重放二次计数。
func (s *Session) Open(ctx context.Context) error {
	if s.closed.Load() {
		return errs.ErrSessionClosed
	}
	events, handle, err := s.sub.Subscribe(s.userID)
	if err != nil {
		return err
	}
	s.handle = handle

	if err := s.rec.Bootstrap(ctx); err != nil {
		handle.Close()
		return err
	}
	s.rec.Run()

	safe.Go(func() {
		for {
			select {
			case m := <-events:
				s.rec.Enqueue(m)
			case <-s.stop:
				return
			}
		}
	})

	s.poller.SetWatermark(s.rec.Watermark())
	s.poller.Start()

	if s.presenceTTL > 0 {
		s.heartbeat()
	}
	s.opened.Store(true)
	logger.Infof("[session] user %d opened", s.userID)
	return nil
}

// Send 发消息：本地校验失败同步报 ErrValidation；落库失败原样上抛
// （UI 给这条气泡一个可重试的失败态——静默吞掉用户敲的字不可接受）。
// 成功后立即回灌自己的 reconciler，再向推送通道发布；发布失败只记
// 日志，对端靠轮询补。
func (s *Session) Send(ctx context.Context, counterpartID int64, content string) (*model.Message, error) {
	if s.closed.Load() {
		return nil, errs.ErrSessionClosed
	}
	if err := store.ValidateSend(s.userID, counterpartID, content); err != nil {
		return nil, err
	}
	msg, err := s.st.Send(ctx, s.userID, counterpartID, content)
	if err != nil {
		return nil, err
	}
	s.rec.Enqueue(msg)
	if err := s.pub.Publish(msg); err != nil {
		logger.Warnf("[session] publish id=%d: %v", msg.ID, err)
	}
	return msg, nil
}

// Conversations 会话列表快照。
func (s *Session) Conversations() []conv.Row {
	return s.idx.Snapshot()
}

// Messages 打开的会话的历史，按 id 升序。
func (s *Session) Messages(ctx context.Context, counterpartID int64) ([]*model.Message, error) {
	return s.st.ListSince(ctx, s.userID, counterpartID, 0, store.Asc)
}

func (s *Session) OpenConversation(counterpartID int64) {
	s.idx.OpenConversation(counterpartID)
}

func (s *Session) CloseConversation() {
	s.idx.CloseConversation()
}

// Watch 订阅会话列表变更通知（容量1，合并触发）。
func (s *Session) Watch() (<-chan struct{}, func()) {
	return s.idx.Watch()
}

func (s *Session) Version() uint64 { return s.idx.Version() }
func (s *Session) UserID() int64   { return s.userID }

// Close 原子拆除，可重复调用。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		if s.handle != nil {
			s.handle.Close()
		}
		s.poller.Stop()
		s.rec.Stop()
		if s.presenceTTL > 0 {
			if err := storage.PresenceOffline(s.userID); err != nil {
				logger.Warnf("[session] presence offline user %d: %v", s.userID, err)
			}
		}
		logger.Infof("[session] user %d closed", s.userID)
	})
}

// heartbeat 周期续约在线态；redis 故障降级为离线展示，不影响消息流。
func (s *Session) heartbeat() {
	refresh := s.presenceTTL / 2
	if refresh <= 0 {
		refresh = time.Second
	}
	_ = storage.PresenceOnline(s.userID, s.presenceTTL)
	safe.Go(func() {
		t := time.NewTicker(refresh)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				if err := storage.PresenceOnline(s.userID, s.presenceTTL); err != nil {
					logger.Warnf("[session] presence refresh user %d: %v", s.userID, err)
				}
			}
		}
	})
}
