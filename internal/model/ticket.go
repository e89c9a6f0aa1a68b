// Package model 票据数据模型（CAS 协议）
package model

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"

	"github.com/pu-ac-cn/cas-backend/internal/expiry"
)

// 票据类型（同时作为票据 ID 前缀）
const (
	KindTGT = "TGT" // Ticket Granting Ticket，SSO 会话根票据
	KindST  = "ST"  // Service Ticket，单次使用的服务票据
	KindPGT = "PGT" // Proxy Granting Ticket，代理授权票据
	KindPT  = "PT"  // Proxy Ticket，代理票据

	// PrefixPGTIOU PGT 回调关联标识前缀（不入注册表）
	PrefixPGTIOU = "PGTIOU"
)

// 协议内置属性名
const (
	AttrAuthenticationMethod = "authenticationMethod"
	AttrAuthenticationDate   = "authenticationDate"
	AttrSuccessfulHandlers   = "successfulAuthenticationHandlers"
	AttrLongTermAuth         = "longTermAuthenticationRequestTokenUsed"
	AttrIsFromNewLogin       = "isFromNewLogin"
	AttrSurrogateUser        = "surrogateUser"
	AttrSurrogateEnabled     = "surrogateEnabled"
)

// Authentication 一次主认证的结果：主体、属性及处理器来源
// 创建后不可变，随 TGT/PGT 一同存储
type Authentication struct {
	Principal       string              `json:"principal"`                // 主体标识
	Attributes      map[string][]string `json:"attributes,omitempty"`     // 主体属性
	Handlers        []string            `json:"handlers"`                 // 成功的认证处理器名称
	Method          string              `json:"method"`                   // 主认证方式（首个成功处理器）
	CredentialClass string              `json:"credential_class"`         // 凭据类别
	AuthenticatedAt time.Time           `json:"authenticated_at"`         // 认证时间
	RememberMe      bool                `json:"remember_me,omitempty"`    // 记住我
	SatisfiedMFA    []string            `json:"satisfied_mfa,omitempty"`  // 已满足的 MFA 提供者
	SurrogateUser   string              `json:"surrogate_user,omitempty"` // 代理登录的真实用户
}

// HasSatisfiedMFA 检查指定 MFA 提供者是否已满足
func (a *Authentication) HasSatisfiedMFA(provider string) bool {
	for _, p := range a.SatisfiedMFA {
		if p == provider {
			return true
		}
	}
	return false
}

// ProtocolAttributes 合并主体属性与协议内置属性，供验证响应释放
func (a *Authentication) ProtocolAttributes() map[string][]string {
	attrs := make(map[string][]string, len(a.Attributes)+4)
	for k, v := range a.Attributes {
		attrs[k] = append([]string(nil), v...)
	}
	attrs[AttrAuthenticationMethod] = []string{a.Method}
	attrs[AttrAuthenticationDate] = []string{a.AuthenticatedAt.UTC().Format(time.RFC3339)}
	attrs[AttrSuccessfulHandlers] = append([]string(nil), a.Handlers...)
	if a.RememberMe {
		attrs[AttrLongTermAuth] = []string{"true"}
	}
	if a.SurrogateUser != "" {
		attrs[AttrSurrogateUser] = []string{a.SurrogateUser}
		attrs[AttrSurrogateEnabled] = []string{"true"}
	}
	return attrs
}

// Ticket 票据统一模型
// ID 全局唯一且不可猜测；过期参数创建后不可变；
// 主体/服务绑定创建后不可变；LastUsedAt 的权威副本由注册表维护
type Ticket struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsedAt time.Time     `json:"last_used_at"`
	Expiry     expiry.Ticket `json:"expiry"`

	// TGT/PGT 字段
	Authentication *Authentication `json:"authentication,omitempty"`

	// ST/PT 字段
	Service      string `json:"service,omitempty"`        // 绑定的服务标识
	ParentID     string `json:"parent_id,omitempty"`      // 父票据 ID（弱引用）
	FromNewLogin bool   `json:"from_new_login,omitempty"` // 是否由新鲜主认证签发
	MultiUse     bool   `json:"multi_use,omitempty"`      // 是否可多次验证

	// 代理链：PGT/PT 记录从源服务到当前服务的回调地址序列
	ProxyChain []string `json:"proxy_chain,omitempty"`
}

// NewTicketID 生成票据 ID：前缀 + 随机部分（crypto/rand，约 160 位熵）
func NewTicketID(prefix string) string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		panic("生成票据随机数失败: " + err.Error())
	}
	return prefix + "-" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// KindOf 根据票据 ID 前缀解析票据类型，未知前缀返回空串
func KindOf(id string) string {
	for _, kind := range []string{PrefixPGTIOU, KindPGT, KindTGT, KindST, KindPT} {
		if strings.HasPrefix(id, kind+"-") {
			return kind
		}
	}
	return ""
}

// NewTGT 创建 TGT
func NewTGT(auth *Authentication, exp expiry.Ticket) *Ticket {
	now := time.Now()
	return &Ticket{
		ID:             NewTicketID(KindTGT),
		Kind:           KindTGT,
		CreatedAt:      now,
		LastUsedAt:     now,
		Expiry:         exp,
		Authentication: auth,
	}
}

// NewServiceTicket 创建 ST，父票据为 TGT
func NewServiceTicket(tgt *Ticket, service string, fromNewLogin, multiUse bool, exp expiry.Ticket) *Ticket {
	now := time.Now()
	return &Ticket{
		ID:           NewTicketID(KindST),
		Kind:         KindST,
		CreatedAt:    now,
		LastUsedAt:   now,
		Expiry:       exp,
		Service:      service,
		ParentID:     tgt.ID,
		FromNewLogin: fromNewLogin,
		MultiUse:     multiUse,
	}
}

// NewPGT 创建 PGT：在 ST 验证时签发，继承认证上下文并追加代理链
func NewPGT(parent *Ticket, auth *Authentication, pgtURL string, exp expiry.Ticket) *Ticket {
	now := time.Now()
	chain := append(append([]string(nil), parent.ProxyChain...), pgtURL)
	return &Ticket{
		ID:             NewTicketID(KindPGT),
		Kind:           KindPGT,
		CreatedAt:      now,
		LastUsedAt:     now,
		Expiry:         exp,
		Authentication: auth,
		ParentID:       parent.ParentID,
		ProxyChain:     chain,
	}
}

// NewProxyTicket 创建 PT，父票据为 PGT
func NewProxyTicket(pgt *Ticket, targetService string, exp expiry.Ticket) *Ticket {
	now := time.Now()
	return &Ticket{
		ID:         NewTicketID(KindPT),
		Kind:       KindPT,
		CreatedAt:  now,
		LastUsedAt: now,
		Expiry:     exp,
		Service:    targetService,
		ParentID:   pgt.ID,
		ProxyChain: append([]string(nil), pgt.ProxyChain...),
	}
}

// NewPGTIOU 生成 PGT 回调关联标识
func NewPGTIOU() string {
	return NewTicketID(PrefixPGTIOU)
}

// ExpiryState 构建策略判定用的状态快照
func (t *Ticket) ExpiryState() expiry.State {
	rememberMe := false
	if t.Authentication != nil {
		rememberMe = t.Authentication.RememberMe
	}
	return expiry.State{
		CreatedAt:  t.CreatedAt,
		LastUsedAt: t.LastUsedAt,
		RememberMe: rememberMe,
	}
}

// IsExpired 判断票据在 now 时刻是否过期
func (t *Ticket) IsExpired(now time.Time) bool {
	return t.Expiry.Policy().IsExpired(t.ExpiryState(), now)
}

// IsGranting 是否为可签发子票据的类型（TGT/PGT）
func (t *Ticket) IsGranting() bool {
	return t.Kind == KindTGT || t.Kind == KindPGT
}

// IsSingleUse 是否为单次使用类型（未配置多次验证的 ST/PT）
func (t *Ticket) IsSingleUse() bool {
	return (t.Kind == KindST || t.Kind == KindPT) && !t.MultiUse
}
