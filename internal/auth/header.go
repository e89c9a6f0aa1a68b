package auth

import (
	"context"
)

// HeaderHandlerName 可信请求头处理器名称
const HeaderHandlerName = "TRUSTED_HEADER"

// HeaderHandler 可信请求头处理器
// 信任上游网关已完成认证，直接采纳头部声明的主体
type HeaderHandler struct{}

// NewHeaderHandler 创建可信请求头处理器
func NewHeaderHandler() *HeaderHandler {
	return &HeaderHandler{}
}

// Name 实现 Handler 接口
func (h *HeaderHandler) Name() string { return HeaderHandlerName }

// Supports 实现 Handler 接口
func (h *HeaderHandler) Supports(c Credential) bool {
	_, ok := c.(TrustedHeader)
	return ok
}

// Authenticate 实现 Handler 接口
func (h *HeaderHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(TrustedHeader)
	if cred.Principal == "" {
		return nil, ErrInvalidCredentials
	}
	return &Result{
		Principal:  cred.Principal,
		Attributes: cred.Attributes,
		Handler:    h.Name(),
	}, nil
}
