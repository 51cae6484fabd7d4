package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"DirectIM/middleware/security"
	"DirectIM/module/dm/session"
	"DirectIM/tools/errs"
)

type Server struct {
	reg *session.Registry
}

func NewServer(reg *session.Registry) *Server {
	return &Server{reg: reg}
}

type sendReq struct {
	ReceiverID int64  `json:"receiver_id" binding:"required"`
	Content    string `json:"content"`
}

func (s *Server) send(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeValidation, "msg": "bad request body"})
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	msg, err := sess.Send(c.Request.Context(), req.ReceiverID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) listConversations(c *gin.Context) {
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": sess.Conversations()})
}

func (s *Server) listMessages(c *gin.Context) {
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	cp, ok := counterpartParam(c)
	if !ok {
		return
	}
	msgs, err := sess.Messages(c.Request.Context(), cp)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) openConversation(c *gin.Context) {
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	cp, ok := counterpartParam(c)
	if !ok {
		return
	}
	sess.OpenConversation(cp)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) closeConversation(c *gin.Context) {
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	sess.CloseConversation()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) logout(c *gin.Context) {
	s.reg.Drop(security.UserID(c))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) sessionOf(c *gin.Context) (*session.Session, error) {
	sess, err := s.reg.GetOrOpen(c.Request.Context(), security.UserID(c))
	if err != nil {
		writeError(c, err)
		return nil, err
	}
	return sess, nil
}

func counterpartParam(c *gin.Context) (int64, bool) {
	cp, err := strconv.ParseInt(c.Param("counterpart"), 10, 64)
	if err != nil || cp <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeValidation, "msg": "bad counterpart id"})
		return 0, false
	}
	return cp, true
}

// writeError 错误分类映射到 HTTP：校验 400；存储故障 502 且标记可重试
// （send 的失败必须让 UI 能给出重试入口）；其余 500。
func writeError(c *gin.Context, err error) {
	switch errs.Code(err) {
	case errs.CodeValidation:
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeValidation, "msg": err.Error()})
	case errs.CodeStoreUnavailable:
		c.JSON(http.StatusBadGateway, gin.H{"code": errs.CodeStoreUnavailable, "msg": err.Error(), "retryable": true})
	case errs.CodeSessionClosed:
		c.JSON(http.StatusConflict, gin.H{"code": errs.CodeSessionClosed, "msg": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
	}
}
