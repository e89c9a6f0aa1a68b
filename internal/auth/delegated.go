package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DelegatedProvider 外部 IdP 配置
type DelegatedProvider struct {
	Issuer string // 断言的 iss 声明
	Secret []byte // HMAC 验签密钥
}

// DelegatedHandler 委托认证处理器
// 外部 IdP 回调携带的 JWT 断言在此解析为本地主体
type DelegatedHandler struct {
	providers map[string]DelegatedProvider
}

// NewDelegatedHandler 创建委托认证处理器
func NewDelegatedHandler(providers map[string]DelegatedProvider) *DelegatedHandler {
	return &DelegatedHandler{providers: providers}
}

// Name 实现 Handler 接口
func (h *DelegatedHandler) Name() string { return "DELEGATED" }

// Supports 实现 Handler 接口
func (h *DelegatedHandler) Supports(c Credential) bool {
	_, ok := c.(DelegatedAssertion)
	return ok
}

// Authenticate 实现 Handler 接口
func (h *DelegatedHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(DelegatedAssertion)

	provider, ok := h.providers[cred.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: 未知的身份提供者 %s", ErrInvalidCredentials, cred.Provider)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cred.Assertion, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名算法: %v", t.Header["alg"])
		}
		return provider.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, ErrInvalidCredentials
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	if provider.Issuer != "" && claims.Issuer != provider.Issuer {
		return nil, ErrInvalidCredentials
	}

	return &Result{
		Principal: claims.Subject,
		Attributes: map[string][]string{
			"clientName": {cred.Provider},
		},
		Handler: h.Name() + "-" + cred.Provider,
	}, nil
}
