package api

import (
	"github.com/gin-gonic/gin"

	"DirectIM/middleware/security"
	sec "DirectIM/tools/security"
)

// NewRouter 组装 DM 的 HTTP 面。wsHandler 由 gateway 提供，挂同一套
// 鉴权。
func NewRouter(s *Server, jwtOpts sec.Options, wsHandler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	auth := security.Middleware(jwtOpts)
	g := r.Group("/dm", auth)
	g.GET("/conversations", s.listConversations)
	g.GET("/conversations/:counterpart/messages", s.listMessages)
	g.POST("/conversations/:counterpart/open", s.openConversation)
	g.POST("/conversations/close", s.closeConversation)
	g.POST("/messages", s.send)
	if wsHandler != nil {
		g.GET("/ws", wsHandler)
	}
	r.POST("/logout", auth, s.logout)
	return r
}
