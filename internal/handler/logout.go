package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-backend/internal/middleware"
	"github.com/pu-ac-cn/cas-backend/internal/repository"
	"github.com/pu-ac-cn/cas-backend/internal/service"
	"github.com/pu-ac-cn/cas-backend/pkg/response"
	"go.uber.org/zap"
)

// LogoutHandler 单点登出端点
type LogoutHandler struct {
	casService   service.CASService
	services     repository.ServiceRepository
	cookieSecure bool
	logger       *zap.Logger
}

// NewLogoutHandler 创建单点登出端点
func NewLogoutHandler(casService service.CASService, services repository.ServiceRepository, cookieSecure bool, logger *zap.Logger) *LogoutHandler {
	return &LogoutHandler{
		casService:   casService,
		services:     services,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// Logout GET /cas/logout
// 销毁 SSO 会话并扇出登出通知；登出本身不依赖任何通知成功
func (h *LogoutHandler) Logout(c *gin.Context) {
	redirect := c.Query("service")

	tgtID, err := c.Cookie(middleware.TGCCookieName)
	c.SetCookie(middleware.TGCCookieName, "", -1, "/cas", "", h.cookieSecure, true)

	var result *service.SLOResult
	if err == nil && tgtID != "" {
		if result, err = h.casService.Logout(c.Request.Context(), tgtID); err != nil {
			// 会话可能已过期，登出仍视为成功
			h.logger.Info("登出时销毁会话失败", zap.String("tgt", tgtID), zap.Error(err))
		}
	}

	// 仅允许重定向到已注册服务，否则忽略该参数
	if redirect != "" {
		if _, err := h.services.FindMatching(c.Request.Context(), redirect); err == nil {
			c.Redirect(http.StatusFound, redirect)
			return
		}
		h.logger.Warn("登出重定向目标未注册，已忽略", zap.String("service", redirect))
	}

	data := gin.H{"logged_out": true}
	if result != nil {
		data["notified"] = result.Notified
		data["failed"] = result.Failed
		if len(result.FrontChannelURLs) > 0 {
			data["front_channel_urls"] = result.FrontChannelURLs
		}
	}
	response.Success(c, data)
}
