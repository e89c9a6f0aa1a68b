package model

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User 用户模型
type User struct {
	BaseModel
	Username         string     `gorm:"type:varchar(100);uniqueIndex" json:"username"`
	Email            string     `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Phone            string     `gorm:"type:varchar(20);index" json:"phone,omitempty"`
	PasswordHash     string     `gorm:"type:varchar(255)" json:"-"`
	DisplayName      string     `gorm:"type:varchar(100)" json:"display_name"`
	AvatarURL        string     `gorm:"type:varchar(500)" json:"avatar_url,omitempty"`
	Status           string     `gorm:"type:varchar(20);default:active" json:"status"`
	EmailVerified    bool       `gorm:"default:false" json:"email_verified"`
	PhoneVerified    bool       `gorm:"default:false" json:"phone_verified"`
	FailedLoginCount int        `gorm:"default:0" json:"-"`
	LockedUntil      *time.Time `json:"-"`

	MustChangePassword bool       `gorm:"default:false" json:"-"` // 下次登录必须修改密码
	PasswordExpiresAt  *time.Time `json:"-"`                      // 密码过期时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// SetPassword 设置密码（哈希存储）
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// VerifyPassword 验证密码
func (u *User) VerifyPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// IsActive 检查用户是否启用
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// IsLocked 检查用户是否被锁定
func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}

// IsPasswordExpired 检查密码是否已过期
func (u *User) IsPasswordExpired() bool {
	if u.PasswordExpiresAt == nil {
		return false
	}
	return time.Now().After(*u.PasswordExpiresAt)
}

// IncrementFailedLogin 增加登录失败次数
func (u *User) IncrementFailedLogin() {
	u.FailedLoginCount++
	if u.FailedLoginCount >= 5 {
		lockTime := time.Now().Add(15 * time.Minute)
		u.LockedUntil = &lockTime
	}
}

// ResetFailedLogin 重置登录失败次数
func (u *User) ResetFailedLogin() {
	u.FailedLoginCount = 0
	u.LockedUntil = nil
}

// SurrogateAuthorization 代理登录授权
// 允许 SurrogateUsername 以 PrincipalUsername 的身份完成认证
type SurrogateAuthorization struct {
	BaseModel
	SurrogateUsername string `gorm:"type:varchar(100);index;not null" json:"surrogate_username"`
	PrincipalUsername string `gorm:"type:varchar(100);index;not null" json:"principal_username"`
}

// TableName 指定表名
func (SurrogateAuthorization) TableName() string {
	return "surrogate_authorizations"
}
