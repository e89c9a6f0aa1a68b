// Package auth 认证处理器链：可插拔的凭据验证器
package auth

// 凭据类别
const (
	ClassPassword     = "password"     // 用户名密码
	ClassHeader       = "header"       // 可信请求头
	ClassX509         = "x509"         // X.509 客户端证书
	ClassDelegated    = "delegated"    // 外部 IdP 委托认证
	ClassPasswordless = "passwordless" // 无密码一次性令牌
	ClassSurrogate    = "surrogate"    // 代理登录
	ClassRest         = "rest"         // 外部 REST 认证
)

// Credential 凭据类型的标记接口
type Credential interface {
	// Class 凭据类别
	Class() string
}

// UsernamePassword 用户名密码凭据
type UsernamePassword struct {
	Username   string
	Password   string
	RememberMe bool
}

// Class 实现 Credential 接口
func (UsernamePassword) Class() string { return ClassPassword }

// TrustedHeader 可信请求头凭据：上游网关已完成认证
type TrustedHeader struct {
	Principal  string
	Attributes map[string][]string
}

// Class 实现 Credential 接口
func (TrustedHeader) Class() string { return ClassHeader }

// X509 客户端证书凭据（PEM，来自请求头或 TLS 上下文）
type X509 struct {
	CertPEM string
}

// Class 实现 Credential 接口
func (X509) Class() string { return ClassX509 }

// DelegatedAssertion 外部 IdP 回调断言（JWT）
type DelegatedAssertion struct {
	Provider  string // 提供者标识
	Assertion string // IdP 签发的 JWT
}

// Class 实现 Credential 接口
func (DelegatedAssertion) Class() string { return ClassDelegated }

// PasswordlessToken 无密码一次性令牌凭据
type PasswordlessToken struct {
	Username string
	Token    string
}

// Class 实现 Credential 接口
func (PasswordlessToken) Class() string { return ClassPasswordless }

// Surrogate 代理登录凭据：以 Primary 完成主认证后冒充 TargetUsername
type Surrogate struct {
	TargetUsername string
	Primary        Credential
}

// Class 实现 Credential 接口
func (Surrogate) Class() string { return ClassSurrogate }
