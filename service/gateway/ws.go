package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"DirectIM/logger"
	"DirectIM/middleware/security"
	"DirectIM/module/dm/session"
	"DirectIM/tools/safe"
)

const (
	pingEvery    = 30 * time.Second
	readDeadline = 60 * time.Second
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 把活跃会话的会话列表变化推给浏览器端。一个用户可以开多个
// WS 连接（多标签页），各自独立 watch 同一个 Session。
type Hub struct {
	reg *session.Registry
}

func NewHub(reg *session.Registry) *Hub {
	return &Hub{reg: reg}
}

type frame struct {
	Type          string      `json:"type"`
	Version       uint64      `json:"version"`
	Conversations interface{} `json:"conversations"`
}

// Handler 升级连接后：先推一帧全量快照，之后索引每次变更合并推送。
// 30s ping / 60s 读超时；读断即拆该连接（Session 仍在，靠 logout 或
// 进程退出拆除）。
func (h *Hub) Handler(c *gin.Context) {
	uid := security.UserID(c)
	sess, err := h.reg.GetOrOpen(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"msg": "session unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("[gateway] upgrade for user %d: %v", uid, err)
		return
	}

	notify, unwatch := sess.Watch()
	done := make(chan struct{})

	// 写侧：快照推送 + 心跳
	safe.Go(func() {
		defer func() {
			unwatch()
			_ = conn.Close()
		}()
		push := func() bool {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(frame{
				Type:          "conversations",
				Version:       sess.Version(),
				Conversations: sess.Conversations(),
			})
			if err != nil {
				return false
			}
			return true
		}
		if !push() {
			return
		}
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-notify:
				if !push() {
					return
				}
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})

	// 读侧：只消费 pong/关闭
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	safe.Go(func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}
