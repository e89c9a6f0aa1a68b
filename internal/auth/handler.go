package auth

import (
	"context"
	"errors"
	"time"

	"github.com/pu-ac-cn/cas-backend/internal/model"
	"go.uber.org/zap"
)

// 认证失败错误，各类失败贯穿处理器链保持可区分
var (
	ErrInvalidCredentials    = errors.New("用户名或密码错误")
	ErrAccountNotFound       = errors.New("账户不存在")
	ErrAccountDisabled       = errors.New("账户已禁用")
	ErrAccountLocked         = errors.New("账户已锁定，请稍后再试")
	ErrCredentialExpired     = errors.New("凭据已过期")
	ErrMustChangePassword    = errors.New("必须修改密码后才能登录")
	ErrUnsupportedCredential = errors.New("没有处理器支持该凭据")
)

// failureSpecificity 失败特异性排序，聚合时保留最具体的失败
// 数值越大越具体
var failureSpecificity = map[error]int{
	ErrInvalidCredentials: 1,
	ErrAccountNotFound:    2,
	ErrAccountDisabled:    3,
	ErrAccountLocked:      4,
	ErrCredentialExpired:  5,
	ErrMustChangePassword: 6,
}

// Result 单个处理器的认证结果
type Result struct {
	Principal  string              // 主体标识
	Attributes map[string][]string // 主体属性
	Handler    string              // 处理器名称
	RememberMe bool                // 记住我
	// SurrogateUser 代理登录时的真实用户（仅代理处理器填写）
	SurrogateUser string
}

// Handler 认证处理器接口
type Handler interface {
	// Name 处理器名称，写入 successfulAuthenticationHandlers 属性
	Name() string
	// Supports 是否支持该凭据
	Supports(c Credential) bool
	// Authenticate 验证凭据
	Authenticate(ctx context.Context, c Credential) (*Result, error)
}

// 链式策略：任一成功 / 全部一致
const (
	PolicyAnySuccess = "any" // 任一处理器成功即成功
	PolicyAllAgree   = "all" // 所有支持该凭据的处理器都必须成功
)

// Chain 认证处理器链
// 按配置顺序尝试处理器，按策略聚合结果
type Chain struct {
	handlers []Handler
	policy   string
	logger   *zap.Logger
}

// NewChain 创建认证处理器链
func NewChain(policy string, logger *zap.Logger, handlers ...Handler) *Chain {
	if policy != PolicyAllAgree {
		policy = PolicyAnySuccess
	}
	return &Chain{
		handlers: handlers,
		policy:   policy,
		logger:   logger,
	}
}

// Authenticate 遍历处理器验证凭据并聚合为认证结果
// 多个处理器失败时保留最具体的失败类型，绝不坍缩为笼统错误
func (c *Chain) Authenticate(ctx context.Context, cred Credential) (*model.Authentication, error) {
	var (
		results   []*Result
		bestErr   error
		supported int
	)

	for _, h := range c.handlers {
		if !h.Supports(cred) {
			continue
		}
		supported++

		result, err := h.Authenticate(ctx, cred)
		if err != nil {
			c.logger.Info("认证处理器失败",
				zap.String("handler", h.Name()),
				zap.String("credential_class", cred.Class()),
				zap.Error(err),
			)
			bestErr = moreSpecific(bestErr, err)
			if c.policy == PolicyAllAgree {
				return nil, bestErr
			}
			continue
		}

		results = append(results, result)
		if c.policy == PolicyAnySuccess {
			break
		}
	}

	if supported == 0 {
		return nil, ErrUnsupportedCredential
	}
	if len(results) == 0 {
		return nil, bestErr
	}

	return c.merge(results, cred), nil
}

// merge 聚合各处理器结果：首个成功者提供主体与认证方式
func (c *Chain) merge(results []*Result, cred Credential) *model.Authentication {
	first := results[0]
	auth := &model.Authentication{
		Principal:       first.Principal,
		Attributes:      make(map[string][]string),
		Method:          first.Handler,
		CredentialClass: cred.Class(),
		AuthenticatedAt: time.Now(),
		RememberMe:      first.RememberMe,
		SurrogateUser:   first.SurrogateUser,
	}
	for _, r := range results {
		auth.Handlers = append(auth.Handlers, r.Handler)
		for k, v := range r.Attributes {
			auth.Attributes[k] = append([]string(nil), v...)
		}
	}
	return auth
}

// moreSpecific 返回两个失败中更具体的一个
func moreSpecific(a, b error) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if specificity(b) > specificity(a) {
		return b
	}
	return a
}

func specificity(err error) int {
	for sentinel, rank := range failureSpecificity {
		if errors.Is(err, sentinel) {
			return rank
		}
	}
	return 0
}
