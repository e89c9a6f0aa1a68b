package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-backend/internal/service"
	"github.com/pu-ac-cn/cas-backend/pkg/response"
)

// TGCCookieName SSO 会话 Cookie 名称
const TGCCookieName = "CASTGC"

// 上下文键
const (
	ContextKeyTGT       = "tgt"
	ContextKeyPrincipal = "principal"
)

// RequireTGC 要求有效 SSO 会话的中间件（管理端点使用）
// 从 CASTGC Cookie 解析 TGT 并校验，失效即拒绝
func RequireTGC(casService service.CASService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tgtID, err := c.Cookie(TGCCookieName)
		if err != nil || tgtID == "" {
			response.Error(c, response.CodeSessionExpired)
			c.Abort()
			return
		}

		tgt, err := casService.GetTGT(c.Request.Context(), tgtID)
		if err != nil {
			response.Error(c, response.CodeSessionExpired)
			c.Abort()
			return
		}

		c.Set(ContextKeyTGT, tgt)
		c.Set(ContextKeyPrincipal, tgt.Authentication.Principal)
		c.Next()
	}
}

// OptionalTGC 可选 SSO 会话中间件（登录端点使用，不强制要求已有会话）
func OptionalTGC(casService service.CASService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tgtID, err := c.Cookie(TGCCookieName)
		if err != nil || tgtID == "" {
			c.Next()
			return
		}

		if tgt, err := casService.GetTGT(c.Request.Context(), tgtID); err == nil {
			c.Set(ContextKeyTGT, tgt)
			c.Set(ContextKeyPrincipal, tgt.Authentication.Principal)
		}

		c.Next()
	}
}
