package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PasswordlessHandlerName 无密码处理器名称
const PasswordlessHandlerName = "PASSWORDLESS"

// passwordlessKeyPrefix 一次性令牌的 Redis key 前缀
const passwordlessKeyPrefix = "cas:pwdless:"

// PasswordlessHandler 无密码认证处理器
// 令牌经带外渠道送达用户，一次性使用，验证即销毁
type PasswordlessHandler struct {
	redis  *redis.Client
	expiry time.Duration
}

// NewPasswordlessHandler 创建无密码处理器
func NewPasswordlessHandler(client *redis.Client, expiry time.Duration) *PasswordlessHandler {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &PasswordlessHandler{redis: client, expiry: expiry}
}

// Name 实现 Handler 接口
func (h *PasswordlessHandler) Name() string { return PasswordlessHandlerName }

// Supports 实现 Handler 接口
func (h *PasswordlessHandler) Supports(c Credential) bool {
	_, ok := c.(PasswordlessToken)
	return ok
}

// IssueToken 为用户签发一次性令牌，由带外渠道（邮件/短信）送达
func (h *PasswordlessHandler) IssueToken(ctx context.Context, username string) (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成令牌失败: %w", err)
	}
	token := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)

	key := passwordlessKeyPrefix + username
	if err := h.redis.Set(ctx, key, token, h.expiry).Err(); err != nil {
		return "", fmt.Errorf("存储令牌失败: %w", err)
	}
	return token, nil
}

// Authenticate 实现 Handler 接口
// GETDEL 保证令牌恰好兑换一次
func (h *PasswordlessHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(PasswordlessToken)

	key := passwordlessKeyPrefix + cred.Username
	stored, err := h.redis.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialExpired
		}
		return nil, fmt.Errorf("读取令牌失败: %w", err)
	}
	if stored != cred.Token {
		return nil, ErrInvalidCredentials
	}

	return &Result{
		Principal: cred.Username,
		Handler:   h.Name(),
	}, nil
}
