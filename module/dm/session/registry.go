package session

import (
	"context"
	"sync"

	"DirectIM/module/dm/delivery"
	"DirectIM/module/dm/store"
	"DirectIM/module/dm/user"
)

// entry 一个用户的会话占位。ready 在 Open 结束（成功或失败）后关闭；
// err 只在 ready 关闭前写入，读方先等 ready 再读。
type entry struct {
	sess  *Session
	ready chan struct{}
	err   error
}

// Registry 按用户维护活跃会话；同一用户的多个连接共享同一个
// Session（及其 reconciler / 索引）。
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*entry

	st    store.Store
	tr    delivery.Transport
	users user.Directory
	cfg   Config
}

func NewRegistry(st store.Store, tr delivery.Transport, users user.Directory, cfg Config) *Registry {
	return &Registry{
		sessions: make(map[int64]*entry),
		st:       st,
		tr:       tr,
		users:    users,
		cfg:      cfg,
	}
}

// GetOrOpen 返回该用户的活跃会话；首次访问时创建并引导。并发的
// 后来者阻塞到首个调用方的引导结束——拿到的要么是引导完成的会话，
// 要么是引导失败的错误，绝不会是半成品。
func (r *Registry) GetOrOpen(ctx context.Context, userID int64) (*Session, error) {
	r.mu.Lock()
	if e, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.sess, nil
	}
	e := &entry{
		sess:  New(userID, r.st, r.tr, r.users, r.cfg),
		ready: make(chan struct{}),
	}
	r.sessions[userID] = e
	r.mu.Unlock()

	// 引导在锁外做（会打存储）；失败则回收占位
	if err := e.sess.Open(ctx); err != nil {
		e.err = err
		r.mu.Lock()
		delete(r.sessions, userID)
		r.mu.Unlock()
		e.sess.Close()
		close(e.ready)
		return nil, err
	}
	close(e.ready)
	return e.sess, nil
}

// Peek 只查不建；引导中或引导失败的占位不算活跃会话。
func (r *Registry) Peek(userID int64) (*Session, bool) {
	r.mu.Lock()
	e, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, false
		}
		return e.sess, true
	default:
		return nil, false
	}
}

// Drop 关闭并移除该用户的会话（登出）。引导还在路上时等它结束再拆。
func (r *Registry) Drop(userID int64) {
	r.mu.Lock()
	e, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		return
	}
	<-e.ready
	if e.err == nil {
		e.sess.Close()
	}
}

// CloseAll 进程退出时统一拆除。
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		all = append(all, e)
	}
	r.sessions = make(map[int64]*entry)
	r.mu.Unlock()
	for _, e := range all {
		<-e.ready
		if e.err == nil {
			e.sess.Close()
		}
	}
}
