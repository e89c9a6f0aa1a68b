package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RestHandlerName REST 认证处理器名称
const RestHandlerName = "REST"

// RestHandler 外部 REST 认证处理器
// 将凭据 POST 到外部端点，按状态码映射失败类型；请求有界超时
type RestHandler struct {
	endpoint string
	client   *http.Client
}

// NewRestHandler 创建 REST 认证处理器
func NewRestHandler(endpoint string, timeout time.Duration) *RestHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RestHandler{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name 实现 Handler 接口
func (h *RestHandler) Name() string { return RestHandlerName }

// Supports 实现 Handler 接口
func (h *RestHandler) Supports(c Credential) bool {
	_, ok := c.(UsernamePassword)
	return ok
}

// restResponse 外部端点的成功响应
type restResponse struct {
	Principal  string              `json:"principal"`
	Attributes map[string][]string `json:"attributes"`
}

// Authenticate 实现 Handler 接口
func (h *RestHandler) Authenticate(ctx context.Context, c Credential) (*Result, error) {
	cred := c.(UsernamePassword)

	body, err := json.Marshal(map[string]string{
		"username": cred.Username,
		"password": cred.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化认证请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构建认证请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用外部认证端点失败: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case http.StatusForbidden:
		return nil, ErrAccountDisabled
	case http.StatusLocked:
		return nil, ErrAccountLocked
	case http.StatusNotFound:
		return nil, ErrAccountNotFound
	default:
		return nil, fmt.Errorf("外部认证端点异常: %s", resp.Status)
	}

	var payload restResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("解析认证响应失败: %w", err)
	}
	principal := payload.Principal
	if principal == "" {
		principal = cred.Username
	}

	return &Result{
		Principal:  principal,
		Attributes: payload.Attributes,
		Handler:    h.Name(),
		RememberMe: cred.RememberMe,
	}, nil
}
