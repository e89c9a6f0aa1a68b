// Package handler CAS 协议与管理端点
package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-backend/internal/auth"
	"github.com/pu-ac-cn/cas-backend/internal/middleware"
	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/pu-ac-cn/cas-backend/internal/service"
	"github.com/pu-ac-cn/cas-backend/pkg/response"
	"go.uber.org/zap"
)

// LoginHandler 登录端点
type LoginHandler struct {
	casService    service.CASService
	otp           *auth.OTPProvider
	passwordless  *auth.PasswordlessHandler
	trustedHeader string // 上游网关认证头名称，空则禁用
	cookieSecure  bool
	logger        *zap.Logger
}

// NewLoginHandler 创建登录端点
func NewLoginHandler(
	casService service.CASService,
	otp *auth.OTPProvider,
	passwordless *auth.PasswordlessHandler,
	trustedHeader string,
	cookieSecure bool,
	logger *zap.Logger,
) *LoginHandler {
	return &LoginHandler{
		casService:    casService,
		otp:           otp,
		passwordless:  passwordless,
		trustedHeader: trustedHeader,
		cookieSecure:  cookieSecure,
		logger:        logger,
	}
}

// setTGC 写入 SSO 会话 Cookie
func (h *LoginHandler) setTGC(c *gin.Context, tgtID string) {
	c.SetCookie(middleware.TGCCookieName, tgtID, 0, "/cas", "", h.cookieSecure, true)
}

// clearTGC 清除 SSO 会话 Cookie
func (h *LoginHandler) clearTGC(c *gin.Context) {
	c.SetCookie(middleware.TGCCookieName, "", -1, "/cas", "", h.cookieSecure, true)
}

// redirectWithTicket 携带 ST 重定向回服务
func redirectWithTicket(c *gin.Context, serviceURL, ticketID string) {
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		response.Error(c, response.CodeInvalidRequest)
		return
	}
	q := parsed.Query()
	q.Set("ticket", ticketID)
	parsed.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, parsed.String())
}

// Login GET /cas/login
// 已有会话且服务允许 SSO 时直接签发 ST 重定向；否则要求提交凭据
func (h *LoginHandler) Login(c *gin.Context) {
	serviceURL := c.Query("service")
	renew := c.Query("renew") == "true"
	gateway := c.Query("gateway") == "true"

	tgtVal, hasSession := c.Get(middleware.ContextKeyTGT)

	if serviceURL == "" {
		if hasSession {
			tgt := tgtVal.(*model.Ticket)
			response.Success(c, gin.H{
				"principal":     tgt.Authentication.Principal,
				"authenticated": true,
			})
			return
		}
		response.Error(c, response.CodeSessionExpired)
		return
	}

	if hasSession && !renew {
		tgt := tgtVal.(*model.Ticket)
		st, err := h.casService.GrantServiceTicket(c.Request.Context(), tgt.ID, serviceURL,
			service.GrantOptions{})
		if err == nil {
			redirectWithTicket(c, serviceURL, st.ID)
			return
		}
		if h.respondMFARequired(c, tgt, err) {
			return
		}
		if !errors.Is(err, service.ErrFreshCredentialsRequired) {
			h.respondGrantError(c, err)
			return
		}
		// 服务不参与 SSO，落入凭据提交流程
	}

	// 上游网关已认证：以可信请求头直接建立会话
	if h.trustedHeader != "" {
		if principal := c.GetHeader(h.trustedHeader); principal != "" {
			tgt, err := h.casService.Login(c.Request.Context(),
				auth.TrustedHeader{Principal: principal}, nil)
			if err == nil {
				h.setTGC(c, tgt.ID)
				st, err := h.casService.GrantServiceTicket(c.Request.Context(), tgt.ID, serviceURL,
					service.GrantOptions{FreshLogin: true})
				if err == nil {
					redirectWithTicket(c, serviceURL, st.ID)
					return
				}
				if h.respondMFARequired(c, tgt, err) {
					return
				}
				h.respondGrantError(c, err)
				return
			}
		}
	}

	// gateway：无会话时不打扰用户，原样送回服务
	if gateway && !hasSession {
		c.Redirect(http.StatusFound, serviceURL)
		return
	}

	response.Error(c, response.CodeSessionExpired)
}

// loginRequest 凭据提交请求
type loginRequest struct {
	Username   string `json:"username" form:"username"`
	Password   string `json:"password" form:"password"`
	Token      string `json:"token" form:"token"` // 无密码一次性令牌
	RememberMe bool   `json:"remember_me" form:"rememberMe"`
	Service    string `json:"service" form:"service"`
	Renew      bool   `json:"renew" form:"renew"`
}

// buildCredential 依据提交内容构造凭据
// 用户名形如 "目标用户+主用户" 时走代理登录
func buildCredential(req *loginRequest) auth.Credential {
	if req.Token != "" {
		return auth.PasswordlessToken{Username: req.Username, Token: req.Token}
	}
	primary := auth.UsernamePassword{
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	}
	if target, surrogate, ok := strings.Cut(req.Username, "+"); ok && target != "" && surrogate != "" {
		primary.Username = surrogate
		return auth.Surrogate{TargetUsername: target, Primary: primary}
	}
	return primary
}

// LoginPost POST /cas/login
// 验证凭据、建立 SSO 会话；带 service 时随即签发 ST
func (h *LoginHandler) LoginPost(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || req.Username == "" {
		response.Error(c, response.CodeInvalidRequest)
		return
	}

	tgt, err := h.casService.Login(c.Request.Context(), buildCredential(&req), nil)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	h.setTGC(c, tgt.ID)

	if req.Service == "" {
		response.Success(c, gin.H{
			"principal": tgt.Authentication.Principal,
			"tgt":       tgt.ID,
		})
		return
	}

	st, err := h.casService.GrantServiceTicket(c.Request.Context(), tgt.ID, req.Service,
		service.GrantOptions{Renew: req.Renew, FreshLogin: true})
	if err != nil {
		if h.respondMFARequired(c, tgt, err) {
			return
		}
		h.respondGrantError(c, err)
		return
	}
	redirectWithTicket(c, req.Service, st.ID)
}

// mfaRequest MFA 验证码提交请求
type mfaRequest struct {
	Code    string `json:"code" form:"code"`
	Service string `json:"service" form:"service"`
}

// MFAVerify POST /cas/login/mfa
// 校验验证码并将提供者记入会话；带 service 时补发被 MFA 拦下的 ST
func (h *LoginHandler) MFAVerify(c *gin.Context) {
	tgtVal, ok := c.Get(middleware.ContextKeyTGT)
	if !ok {
		response.Error(c, response.CodeSessionExpired)
		return
	}
	tgt := tgtVal.(*model.Ticket)

	var req mfaRequest
	if err := c.ShouldBind(&req); err != nil || req.Code == "" {
		response.Error(c, response.CodeInvalidRequest)
		return
	}

	if err := h.otp.VerifyCode(c.Request.Context(), tgt.Authentication.Principal, req.Code); err != nil {
		response.Error(c, response.CodeInvalidCode)
		return
	}
	if err := h.casService.SatisfyMFA(c.Request.Context(), tgt.ID, auth.MFAProviderOTP); err != nil {
		h.logger.Error("记录 MFA 状态失败", zap.String("tgt", tgt.ID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	if req.Service == "" {
		response.Success(c, nil)
		return
	}

	st, err := h.casService.GrantServiceTicket(c.Request.Context(), tgt.ID, req.Service,
		service.GrantOptions{FreshLogin: true})
	if err != nil {
		h.respondGrantError(c, err)
		return
	}
	redirectWithTicket(c, req.Service, st.ID)
}

// MFAChallenge POST /cas/login/mfa/send
// 为当前会话主体签发一次性验证码（实际投递通道由部署方对接）
func (h *LoginHandler) MFAChallenge(c *gin.Context) {
	tgtVal, ok := c.Get(middleware.ContextKeyTGT)
	if !ok {
		response.Error(c, response.CodeSessionExpired)
		return
	}
	tgt := tgtVal.(*model.Ticket)

	if _, err := h.otp.IssueCode(c.Request.Context(), tgt.Authentication.Principal); err != nil {
		h.logger.Error("签发验证码失败", zap.String("principal", tgt.Authentication.Principal), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	response.SuccessWithMsg(c, "验证码已发送", nil)
}

// PasswordlessRequest POST /cas/passwordless/request
// 为用户签发一次性登录令牌
func (h *LoginHandler) PasswordlessRequest(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username"`
	}
	if err := c.ShouldBind(&req); err != nil || req.Username == "" {
		response.Error(c, response.CodeInvalidRequest)
		return
	}
	if _, err := h.passwordless.IssueToken(c.Request.Context(), req.Username); err != nil {
		h.logger.Error("签发一次性令牌失败", zap.String("username", req.Username), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	response.SuccessWithMsg(c, "一次性令牌已发送", nil)
}

// respondMFARequired MFA 未满足时返回提示，告知所需提供者
func (h *LoginHandler) respondMFARequired(c *gin.Context, tgt *model.Ticket, err error) bool {
	var mfaErr *service.MFARequiredError
	if !errors.As(err, &mfaErr) {
		return false
	}
	c.JSON(http.StatusUnauthorized, response.Response{
		Code: response.CodeMFARequired,
		Msg:  "需要进行多因素认证",
		Data: gin.H{"provider": mfaErr.Provider},
	})
	return true
}

// respondAuthError 认证链失败转业务错误码
func (h *LoginHandler) respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		response.Error(c, response.CodeAccountLocked)
	case errors.Is(err, auth.ErrAccountDisabled):
		response.ErrorWithMsg(c, response.CodeForbidden, "账户已被禁用")
	case errors.Is(err, auth.ErrCredentialExpired):
		response.Error(c, response.CodePasswordExpired)
	case errors.Is(err, auth.ErrMustChangePassword):
		response.Error(c, response.CodeMustChangePassword)
	default:
		// 账户不存在与密码错误对外一致，避免用户枚举
		response.Error(c, response.CodeInvalidCredentials)
	}
}

// respondGrantError ST 签发失败转业务错误码
func (h *LoginHandler) respondGrantError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrServiceUnauthorized):
		response.ErrorWithMsg(c, response.CodeForbidden, "服务未注册或未授权")
	case errors.Is(err, service.ErrFreshCredentialsRequired):
		response.Error(c, response.CodeSessionExpired)
	default:
		h.logger.Error("签发服务票据失败", zap.Error(err))
		response.Error(c, response.CodeServerError)
	}
}
