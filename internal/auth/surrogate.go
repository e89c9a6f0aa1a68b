package auth

import (
	"context"
	"fmt"

	"github.com/pu-ac-cn/cas-backend/internal/repository"
)

// SurrogateHandlerName 代理登录处理器名称
const SurrogateHandlerName = "SURROGATE"

// SurrogateHandler 代理登录处理器
// 先以内层链完成主认证，再核对代理授权，以目标用户身份产出结果
type SurrogateHandler struct {
	primary       *Chain
	surrogateRepo repository.SurrogateRepository
}

// NewSurrogateHandler 创建代理登录处理器
func NewSurrogateHandler(primary *Chain, surrogateRepo repository.SurrogateRepository) *SurrogateHandler {
	return &SurrogateHandler{
		primary:       primary,
		surrogateRepo: surrogateRepo,
	}
}

// Name 实现 Handler 接口
func (h *SurrogateHandler) Name() string { return SurrogateHandlerName }

// Supports 实现 Handler 接口
func (h *SurrogateHandler) Supports(c Credential) bool {
	_, ok := c.(Surrogate)
	return ok
}

// Authenticate 实现 Handler 接口
func (h *SurrogateHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(Surrogate)

	// 主认证必须先成功，失败类型原样透传
	primary, err := h.primary.Authenticate(ctx, cred.Primary)
	if err != nil {
		return nil, err
	}

	// 核对代理授权
	allowed, err := h.surrogateRepo.IsAuthorized(ctx, primary.Principal, cred.TargetUsername)
	if err != nil {
		return nil, fmt.Errorf("查询代理授权失败: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: 无权以 %s 的身份登录", ErrInvalidCredentials, cred.TargetUsername)
	}

	return &Result{
		Principal:     cred.TargetUsername,
		Attributes:    primary.Attributes,
		Handler:       h.Name(),
		RememberMe:    primary.RememberMe,
		SurrogateUser: primary.Principal,
	}, nil
}
