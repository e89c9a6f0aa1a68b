package auth

import (
	"context"
)

// StaticHandlerName 静态处理器名称，作为 authenticationMethod 属性释放
const StaticHandlerName = "STATIC"

// StaticHandler 静态用户表处理器
// 从配置装载固定的用户名密码表，用于开发与验收环境
type StaticHandler struct {
	users map[string]string
}

// NewStaticHandler 创建静态处理器
// users 形如 {"casuser": "Mellon"}
func NewStaticHandler(users map[string]string) *StaticHandler {
	return &StaticHandler{users: users}
}

// Name 实现 Handler 接口
func (h *StaticHandler) Name() string { return StaticHandlerName }

// Supports 实现 Handler 接口
func (h *StaticHandler) Supports(c Credential) bool {
	_, ok := c.(UsernamePassword)
	return ok
}

// Authenticate 实现 Handler 接口
func (h *StaticHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(UsernamePassword)
	password, ok := h.users[cred.Username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if password != cred.Password {
		return nil, ErrInvalidCredentials
	}
	return &Result{
		Principal:  cred.Username,
		Handler:    h.Name(),
		RememberMe: cred.RememberMe,
	}, nil
}
