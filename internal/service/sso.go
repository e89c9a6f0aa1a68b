package service

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/pu-ac-cn/cas-backend/internal/repository"
	"github.com/pu-ac-cn/cas-backend/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ssoServicesKeyPrefix SSO 会话访问过的服务列表
const ssoServicesKeyPrefix = "cas:sso:services:"

// ServiceAccess 一次服务接入记录：单点登出按此扇出
type ServiceAccess struct {
	Service    string    `json:"service"`
	TicketID   string    `json:"ticket_id"` // 服务当初收到的 ST，作为登出通知的会话索引
	AccessedAt time.Time `json:"accessed_at"`
}

// SLOResult 单点登出扇出结果
type SLOResult struct {
	Notified         int      // 后端通道通知成功数
	Failed           int      // 后端通道通知失败数
	FrontChannelURLs []string // 前端通道登出地址，交由浏览器逐个访问
}

// SSOCoordinator SSO 会话协调器
// 维护会话到服务的映射并驱动单点登出扇出
type SSOCoordinator struct {
	client      *redis.Client
	serviceRepo repository.ServiceRepository
	httpClient  *http.Client
	sessionTTL  time.Duration
	logger      *zap.Logger
}

// NewSSOCoordinator 创建 SSO 会话协调器
// sessionTTL 应不小于 TGT 的兜底寿命，callbackTimeout 约束单个登出回调
func NewSSOCoordinator(
	client *redis.Client,
	serviceRepo repository.ServiceRepository,
	sessionTTL, callbackTimeout time.Duration,
	logger *zap.Logger,
) *SSOCoordinator {
	if callbackTimeout == 0 {
		callbackTimeout = 5 * time.Second
	}
	return &SSOCoordinator{
		client:      client,
		serviceRepo: serviceRepo,
		httpClient:  &http.Client{Timeout: callbackTimeout},
		sessionTTL:  sessionTTL,
		logger:      logger,
	}
}

// RecordService 登记会话的一次服务接入
// 同一服务重复接入只保留最近一次（最新 ST 作为会话索引）
func (c *SSOCoordinator) RecordService(ctx context.Context, tgtID, serviceURL, stID string) error {
	access := ServiceAccess{
		Service:    serviceURL,
		TicketID:   stID,
		AccessedAt: time.Now(),
	}
	data, err := json.Marshal(access)
	if err != nil {
		return err
	}
	key := ssoServicesKeyPrefix + tgtID
	if err := c.client.HSet(ctx, key, serviceURL, data).Err(); err != nil {
		return err
	}
	if c.sessionTTL > 0 {
		c.client.PExpire(ctx, key, c.sessionTTL)
	}
	return nil
}

// Services 列出会话接入过的全部服务
func (c *SSOCoordinator) Services(ctx context.Context, tgtID string) ([]ServiceAccess, error) {
	entries, err := c.client.HGetAll(ctx, ssoServicesKeyPrefix+tgtID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	accesses := make([]ServiceAccess, 0, len(entries))
	for _, raw := range entries {
		var access ServiceAccess
		if err := json.Unmarshal([]byte(raw), &access); err != nil {
			continue
		}
		accesses = append(accesses, access)
	}
	return accesses, nil
}

// Remove 清除会话的服务列表
func (c *SSOCoordinator) Remove(ctx context.Context, tgtID string) error {
	return c.client.Del(ctx, ssoServicesKeyPrefix+tgtID).Err()
}

// NotifyLogout 向会话接入过的服务扇出登出通知
// 后端通道并发通知且互不阻塞，单个失败只计数不中断；
// 前端通道只收集重定向地址，由浏览器完成访问
func (c *SSOCoordinator) NotifyLogout(ctx context.Context, accesses []ServiceAccess) *SLOResult {
	result := &SLOResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, access := range accesses {
		svc, err := c.serviceRepo.FindMatching(ctx, access.Service)
		if err != nil {
			c.logger.Warn("登出扇出跳过未注册服务",
				zap.String("service", access.Service), zap.Error(err))
			continue
		}

		request := protocol.LogoutRequest("LR-"+uuid.NewString(), access.TicketID, time.Now())
		callback := svc.SLOCallbackURL(access.Service)

		switch svc.LogoutType {
		case model.LogoutTypeBack:
			wg.Add(1)
			go func(callback, request, service string) {
				defer wg.Done()
				ok := c.postLogout(ctx, callback, request)
				mu.Lock()
				if ok {
					result.Notified++
				} else {
					result.Failed++
				}
				mu.Unlock()
				if !ok {
					c.logger.Warn("后端通道登出通知失败",
						zap.String("service", service), zap.String("callback", callback))
				}
			}(callback, request, access.Service)
		case model.LogoutTypeFront:
			if u := frontChannelURL(callback, request); u != "" {
				mu.Lock()
				result.FrontChannelURLs = append(result.FrontChannelURLs, u)
				mu.Unlock()
			}
		}
	}

	wg.Wait()
	return result
}

// postLogout 后端通道：POST 表单 logoutRequest=<xml>
func (c *SSOCoordinator) postLogout(ctx context.Context, callback, request string) bool {
	form := url.Values{"logoutRequest": {request}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// frontChannelURL 前端通道：登出报文 deflate 压缩后 base64 编码挂到 SAMLRequest 参数
func frontChannelURL(callback, request string) string {
	parsed, err := url.Parse(callback)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return ""
	}
	if _, err := w.Write([]byte(request)); err != nil {
		return ""
	}
	if err := w.Close(); err != nil {
		return ""
	}
	q := parsed.Query()
	q.Set("SAMLRequest", base64.StdEncoding.EncodeToString(buf.Bytes()))
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
