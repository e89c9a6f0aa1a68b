package auth

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-backend/internal/repository"
)

// DatabaseHandlerName 数据库密码处理器名称
const DatabaseHandlerName = "DATABASE"

// DatabaseHandler 数据库密码处理器
// 校验锁定/禁用状态与 bcrypt 密码，维护失败计数
type DatabaseHandler struct {
	userRepo repository.UserRepository
}

// NewDatabaseHandler 创建数据库密码处理器
func NewDatabaseHandler(userRepo repository.UserRepository) *DatabaseHandler {
	return &DatabaseHandler{userRepo: userRepo}
}

// Name 实现 Handler 接口
func (h *DatabaseHandler) Name() string { return DatabaseHandlerName }

// Supports 实现 Handler 接口
func (h *DatabaseHandler) Supports(c Credential) bool {
	_, ok := c.(UsernamePassword)
	return ok
}

// Authenticate 实现 Handler 接口
func (h *DatabaseHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(UsernamePassword)

	user, err := h.userRepo.GetByUsername(ctx, cred.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	// 检查账户是否被锁定
	if user.IsLocked() {
		return nil, ErrAccountLocked
	}

	// 检查账户是否被禁用
	if !user.IsActive() {
		return nil, ErrAccountDisabled
	}

	// 验证密码
	if !user.VerifyPassword(cred.Password) {
		// 增加失败次数
		user.IncrementFailedLogin()
		_ = h.userRepo.Update(ctx, user)
		return nil, ErrInvalidCredentials
	}

	// 密码策略检查
	if user.IsPasswordExpired() {
		return nil, ErrCredentialExpired
	}
	if user.MustChangePassword {
		return nil, ErrMustChangePassword
	}

	// 登录成功，重置失败次数
	if user.FailedLoginCount > 0 {
		user.ResetFailedLogin()
		_ = h.userRepo.Update(ctx, user)
	}

	attrs := map[string][]string{
		"email": {user.Email},
	}
	if user.DisplayName != "" {
		attrs["displayName"] = []string{user.DisplayName}
	}

	return &Result{
		Principal:  user.Username,
		Attributes: attrs,
		Handler:    h.Name(),
		RememberMe: cred.RememberMe,
	}, nil
}
