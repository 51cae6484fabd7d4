package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	sec "DirectIM/tools/security"
)

// CtxUserIDKey 后续 handler 统一用这个 key 读取已认证的用户ID（int64）。
const CtxUserIDKey = "dmUserID"

// Middleware 校验 Authorization: Bearer <jwt>，把 userID 写进 gin context。
// token 也可以通过 query 参数 "token" 传入（websocket 握手用）。
func Middleware(opts sec.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing token"})
			return
		}
		uid, err := sec.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid token"})
			return
		}
		c.Set(CtxUserIDKey, uid)
		c.Next()
	}
}

// UserID 从 gin context 读取认证后的用户ID。
func UserID(c *gin.Context) int64 {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0
	}
	id, _ := v.(int64)
	return id
}
