package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// MFAProviderOTP 一次性验证码 MFA 提供者标识
// 注册服务的 RequiredMFA 字段引用该标识
const MFAProviderOTP = "mfa-otp"

// MFA 相关错误
var (
	ErrMFACodeInvalid = errors.New("验证码错误")
	ErrMFACodeExpired = errors.New("验证码已过期")
)

// mfaKeyPrefix 验证码的 Redis key 前缀
const mfaKeyPrefix = "cas:mfa:"

// OTPProvider 一次性验证码 MFA 提供者
// 验证码经带外渠道送达，验证成功后记入 TGT 的已满足 MFA 集合
type OTPProvider struct {
	redis  *redis.Client
	expiry time.Duration
}

// NewOTPProvider 创建验证码提供者
func NewOTPProvider(client *redis.Client, expiry time.Duration) *OTPProvider {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &OTPProvider{redis: client, expiry: expiry}
}

// ID 提供者标识
func (p *OTPProvider) ID() string { return MFAProviderOTP }

// IssueCode 为主体签发 6 位验证码
func (p *OTPProvider) IssueCode(ctx context.Context, principal string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("生成验证码失败: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	key := mfaKeyPrefix + principal
	if err := p.redis.Set(ctx, key, code, p.expiry).Err(); err != nil {
		return "", fmt.Errorf("存储验证码失败: %w", err)
	}
	return code, nil
}

// VerifyCode 校验验证码，成功即销毁
func (p *OTPProvider) VerifyCode(ctx context.Context, principal, code string) error {
	key := mfaKeyPrefix + principal
	stored, err := p.redis.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMFACodeExpired
		}
		return fmt.Errorf("读取验证码失败: %w", err)
	}
	if stored != code {
		return ErrMFACodeInvalid
	}
	return nil
}
