package auth

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"time"
)

// X509HandlerName X.509 证书处理器名称
const X509HandlerName = "X509"

// X509Handler X.509 客户端证书处理器
// 证书来自请求头（PEM）或 TLS 上下文，主体取自 Subject CN
type X509Handler struct {
	roots *x509.CertPool
}

// NewX509Handler 创建 X.509 处理器
// roots 为 nil 时仅校验有效期，不校验签发链
func NewX509Handler(roots *x509.CertPool) *X509Handler {
	return &X509Handler{roots: roots}
}

// Name 实现 Handler 接口
func (h *X509Handler) Name() string { return X509HandlerName }

// Supports 实现 Handler 接口
func (h *X509Handler) Supports(c Credential) bool {
	_, ok := c.(X509)
	return ok
}

// Authenticate 实现 Handler 接口
func (h *X509Handler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(X509)

	block, _ := pem.Decode([]byte(cred.CertPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidCredentials
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	if now.After(cert.NotAfter) {
		return nil, ErrCredentialExpired
	}
	if now.Before(cert.NotBefore) {
		return nil, ErrInvalidCredentials
	}

	if h.roots != nil {
		if _, err := cert.Verify(x509.VerifyOptions{Roots: h.roots}); err != nil {
			return nil, ErrInvalidCredentials
		}
	}

	if cert.Subject.CommonName == "" {
		return nil, ErrInvalidCredentials
	}

	attrs := map[string][]string{
		"certificateSubject": {cert.Subject.String()},
		"certificateIssuer":  {cert.Issuer.String()},
	}
	return &Result{
		Principal:  cert.Subject.CommonName,
		Attributes: attrs,
		Handler:    h.Name(),
	}, nil
}
