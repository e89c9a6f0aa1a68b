// Package expiry 票据过期策略引擎
package expiry

import (
	"time"
)

// State 策略判定所需的票据状态快照
type State struct {
	CreatedAt  time.Time // 创建时间
	LastUsedAt time.Time // 最近使用时间
	RememberMe bool      // 是否为"记住我"会话
}

// Policy 过期策略接口
type Policy interface {
	// IsExpired 判断票据在 now 时刻是否已过期
	IsExpired(s State, now time.Time) bool
}

// PolicyFunc 函数式策略
type PolicyFunc func(s State, now time.Time) bool

// IsExpired 实现 Policy 接口
func (f PolicyFunc) IsExpired(s State, now time.Time) bool {
	return f(s, now)
}

// Absolute 绝对超时策略：now - CreatedAt > maxLifetime 即过期
func Absolute(maxLifetime time.Duration) Policy {
	return PolicyFunc(func(s State, now time.Time) bool {
		return now.Sub(s.CreatedAt) > maxLifetime
	})
}

// Sliding 滑动（空闲）超时策略：now - LastUsedAt > idleTimeout 即过期
// LastUsedAt 为零值时以 CreatedAt 计算
func Sliding(idleTimeout time.Duration) Policy {
	return PolicyFunc(func(s State, now time.Time) bool {
		last := s.LastUsedAt
		if last.IsZero() {
			last = s.CreatedAt
		}
		return now.Sub(last) > idleTimeout
	})
}

// Never 永不过期策略
func Never() Policy {
	return PolicyFunc(func(s State, now time.Time) bool {
		return false
	})
}

// Any 组合策略：任一子策略判定过期即过期（OR 语义）
// 空闲超时与绝对超时各自独立生效，绝对寿命有剩余不影响空闲超时判定
func Any(policies ...Policy) Policy {
	return PolicyFunc(func(s State, now time.Time) bool {
		for _, p := range policies {
			if p.IsExpired(s, now) {
				return true
			}
		}
		return false
	})
}

// RememberMe "记住我"策略：普通会话与记住我会话使用不同的子策略
func RememberMe(normal, extended Policy) Policy {
	return PolicyFunc(func(s State, now time.Time) bool {
		if s.RememberMe {
			return extended.IsExpired(s, now)
		}
		return normal.IsExpired(s, now)
	})
}

// Ticket 票据过期参数（创建时固化，之后不可变）
// MaxLifetime/IdleTimeout 为 0 表示对应维度不限制；
// RememberMeLifetime 仅对记住我会话生效，替代 MaxLifetime
type Ticket struct {
	MaxLifetime        time.Duration `json:"max_lifetime"`
	IdleTimeout        time.Duration `json:"idle_timeout,omitempty"`
	RememberMeLifetime time.Duration `json:"remember_me_lifetime,omitempty"`
}

// Policy 根据参数构建组合策略
func (t Ticket) Policy() Policy {
	var policies []Policy
	if t.MaxLifetime > 0 {
		abs := Absolute(t.MaxLifetime)
		if t.RememberMeLifetime > 0 {
			abs = RememberMe(abs, Absolute(t.RememberMeLifetime))
		}
		policies = append(policies, abs)
	}
	if t.IdleTimeout > 0 {
		policies = append(policies, Sliding(t.IdleTimeout))
	}
	if len(policies) == 0 {
		return Never()
	}
	return Any(policies...)
}

// HardLifetime 票据的最长可能存活时长，用于存储层的兜底 TTL
func (t Ticket) HardLifetime() time.Duration {
	max := t.MaxLifetime
	if t.RememberMeLifetime > max {
		max = t.RememberMeLifetime
	}
	if max == 0 && t.IdleTimeout > 0 {
		// 纯滑动超时的票据每次使用都会续期，兜底 TTL 由存储层在刷新时重设
		max = t.IdleTimeout
	}
	return max
}
