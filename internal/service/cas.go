// Package service CAS 票据签发与验证协议引擎
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pu-ac-cn/cas-backend/internal/auth"
	"github.com/pu-ac-cn/cas-backend/internal/expiry"
	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/pu-ac-cn/cas-backend/internal/repository"
	"github.com/pu-ac-cn/cas-backend/internal/ticket"
	"go.uber.org/zap"
)

// 协议引擎错误
var (
	ErrServiceUnauthorized      = errors.New("服务未注册或未授权")
	ErrServiceMismatch          = errors.New("服务与票据绑定不匹配")
	ErrRenewMismatch            = errors.New("票据并非由新鲜凭据签发")
	ErrFreshCredentialsRequired = errors.New("需要重新提交凭据")
	ErrProxyUnauthorized        = errors.New("服务未被授权使用代理")
	ErrProxyCallbackFailed      = errors.New("PGT 回调验证失败")
)

// MFARequiredError 服务要求的 MFA 尚未满足
// 携带提供者标识，驱动登录流程进入 MFA 环节
type MFARequiredError struct {
	Provider string
}

// Error 实现 error 接口
func (e *MFARequiredError) Error() string {
	return "需要完成多因素认证: " + e.Provider
}

// Config 票据生命周期配置
type Config struct {
	TGTMaxLifetime        time.Duration // TGT 绝对寿命
	TGTIdleTimeout        time.Duration // TGT 空闲超时
	TGTRememberMeLifetime time.Duration // 记住我会话的绝对寿命
	STLifetime            time.Duration // ST 有效期
	PGTMaxLifetime        time.Duration // PGT 绝对寿命
	PTLifetime            time.Duration // PT 有效期
	ProxyCallbackTimeout  time.Duration // PGT 回调超时
}

// withDefaults 填充默认值
func (c *Config) withDefaults() {
	if c.TGTMaxLifetime == 0 {
		c.TGTMaxLifetime = 8 * time.Hour
	}
	if c.TGTIdleTimeout == 0 {
		c.TGTIdleTimeout = 2 * time.Hour
	}
	if c.STLifetime == 0 {
		c.STLifetime = 10 * time.Second
	}
	if c.PGTMaxLifetime == 0 {
		c.PGTMaxLifetime = c.TGTMaxLifetime
	}
	if c.PTLifetime == 0 {
		c.PTLifetime = c.STLifetime
	}
	if c.ProxyCallbackTimeout == 0 {
		c.ProxyCallbackTimeout = 5 * time.Second
	}
}

// GrantOptions 服务票据签发选项
type GrantOptions struct {
	Renew      bool // 客户端要求新鲜凭据
	FreshLogin bool // 本次签发紧随一次成功的主认证
}

// ValidateOptions 票据验证选项
type ValidateOptions struct {
	Renew            bool   // 拒绝非新鲜凭据签发的票据
	PGTURL           string // 代理回调地址，非空时尝试签发 PGT
	AllowProxyTicket bool   // 是否接受 PT（proxyValidate 端点）
}

// Assertion 验证成功后的断言：主体与按服务策略释放的属性
type Assertion struct {
	Principal  string
	Attributes map[string][]string
	PGTIOU     string
	Proxies    []string // 代理链，最近的代理在前
}

// CASService CAS 协议引擎接口
type CASService interface {
	// Login 验证凭据并创建 TGT（SSO 会话根）
	Login(ctx context.Context, cred auth.Credential, satisfiedMFA []string) (*model.Ticket, error)
	// GetTGT 读取并校验 TGT
	GetTGT(ctx context.Context, tgtID string) (*model.Ticket, error)
	// SatisfyMFA 将已完成的 MFA 提供者记入 TGT 认证上下文
	SatisfyMFA(ctx context.Context, tgtID, provider string) error
	// GrantServiceTicket 依据注册服务策略为 TGT 签发 ST
	GrantServiceTicket(ctx context.Context, tgtID, serviceURL string, opts GrantOptions) (*model.Ticket, error)
	// Validate 验证 ST/PT 并产出断言，单次使用票据恰好消费一次
	Validate(ctx context.Context, ticketID, serviceURL string, opts ValidateOptions) (*Assertion, error)
	// GrantProxyTicket 从 PGT 签发 PT，各 PT 相互独立
	GrantProxyTicket(ctx context.Context, pgtID, targetService string) (*model.Ticket, error)
	// Logout 销毁 TGT 并触发单点登出扇出
	Logout(ctx context.Context, tgtID string) (*SLOResult, error)
}

// casService 协议引擎实现
type casService struct {
	registry    ticket.Registry
	chain       *auth.Chain
	serviceRepo repository.ServiceRepository
	sso         *SSOCoordinator
	config      *Config
	callback    *http.Client
	logger      *zap.Logger
}

// NewCASService 创建协议引擎
func NewCASService(
	registry ticket.Registry,
	chain *auth.Chain,
	serviceRepo repository.ServiceRepository,
	sso *SSOCoordinator,
	config *Config,
	logger *zap.Logger,
) CASService {
	if config == nil {
		config = &Config{}
	}
	config.withDefaults()
	return &casService{
		registry:    registry,
		chain:       chain,
		serviceRepo: serviceRepo,
		sso:         sso,
		config:      config,
		callback:    &http.Client{Timeout: config.ProxyCallbackTimeout},
		logger:      logger,
	}
}

// tgtExpiry TGT 过期参数
func (s *casService) tgtExpiry() expiry.Ticket {
	return expiry.Ticket{
		MaxLifetime:        s.config.TGTMaxLifetime,
		IdleTimeout:        s.config.TGTIdleTimeout,
		RememberMeLifetime: s.config.TGTRememberMeLifetime,
	}
}

// Login 验证凭据并创建 TGT
func (s *casService) Login(ctx context.Context, cred auth.Credential, satisfiedMFA []string) (*model.Ticket, error) {
	authn, err := s.chain.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	authn.SatisfiedMFA = satisfiedMFA

	tgt := model.NewTGT(authn, s.tgtExpiry())
	if err := s.registry.Put(ctx, tgt); err != nil {
		return nil, err
	}

	s.logger.Info("SSO 会话已建立",
		zap.String("tgt", tgt.ID),
		zap.String("principal", authn.Principal),
		zap.Strings("handlers", authn.Handlers),
	)
	return tgt, nil
}

// GetTGT 读取并校验 TGT
func (s *casService) GetTGT(ctx context.Context, tgtID string) (*model.Ticket, error) {
	return s.registry.Get(ctx, tgtID, model.KindTGT)
}

// SatisfyMFA 将已完成的 MFA 提供者记入 TGT
func (s *casService) SatisfyMFA(ctx context.Context, tgtID, provider string) error {
	tgt, err := s.registry.Get(ctx, tgtID, model.KindTGT)
	if err != nil {
		return err
	}
	if tgt.Authentication.HasSatisfiedMFA(provider) {
		return nil
	}
	tgt.Authentication.SatisfiedMFA = append(tgt.Authentication.SatisfiedMFA, provider)
	return s.registry.UpdateAuthentication(ctx, tgt)
}

// GrantServiceTicket 签发 ST
func (s *casService) GrantServiceTicket(ctx context.Context, tgtID, serviceURL string, opts GrantOptions) (*model.Ticket, error) {
	tgt, err := s.registry.Get(ctx, tgtID, model.KindTGT)
	if err != nil {
		return nil, err
	}

	svc, err := s.lookupService(ctx, serviceURL)
	if err != nil {
		return nil, err
	}

	// renew 或服务不参与 SSO 时，既有会话不得静默满足请求
	if (opts.Renew || !svc.SSOEnabled) && !opts.FreshLogin {
		return nil, ErrFreshCredentialsRequired
	}

	// MFA 门禁：要求未满足时不签发票据，交由登录流程补足
	if svc.RequiredMFA != "" && !tgt.Authentication.HasSatisfiedMFA(svc.RequiredMFA) {
		return nil, &MFARequiredError{Provider: svc.RequiredMFA}
	}

	st := model.NewServiceTicket(tgt, serviceURL, opts.FreshLogin, svc.MultiUseST,
		expiry.Ticket{MaxLifetime: s.config.STLifetime})
	if err := s.registry.Put(ctx, st); err != nil {
		return nil, err
	}
	if err := s.registry.AddChild(ctx, tgt.ID, st.ID); err != nil {
		return nil, err
	}

	// 刷新 TGT 滑动过期，登记服务访问（SSO 复用判定与登出扇出）
	if err := s.registry.UpdateLastUsed(ctx, tgt); err != nil {
		return nil, err
	}
	if err := s.sso.RecordService(ctx, tgt.ID, serviceURL, st.ID); err != nil {
		s.logger.Warn("登记服务访问失败", zap.String("tgt", tgt.ID), zap.Error(err))
	}

	return st, nil
}

// Validate 验证 ST/PT
func (s *casService) Validate(ctx context.Context, ticketID, serviceURL string, opts ValidateOptions) (*Assertion, error) {
	t, err := s.registry.Get(ctx, ticketID, "")
	if err != nil {
		return nil, err
	}

	switch t.Kind {
	case model.KindST:
	case model.KindPT:
		if !opts.AllowProxyTicket {
			return nil, ticket.ErrWrongTicketType
		}
	default:
		return nil, ticket.ErrWrongTicketType
	}

	// 单次使用票据：原子消费，并发验证恰好一个成功
	if t.IsSingleUse() {
		if t, err = s.registry.Consume(ctx, ticketID); err != nil {
			return nil, err
		}
	} else if err := s.registry.UpdateLastUsed(ctx, t); err != nil {
		return nil, err
	}

	// 防票据盗用：验证方必须与签发时绑定的服务一致
	if normalizeService(t.Service) != normalizeService(serviceURL) {
		return nil, ErrServiceMismatch
	}

	// renew 语义：非新鲜凭据签发的票据不满足 renew 验证
	if opts.Renew && !t.FromNewLogin {
		return nil, ErrRenewMismatch
	}

	// 认证上下文取自父票据（TGT 或 PGT），父票据失效则级联失效
	parent, err := s.registry.Get(ctx, t.ParentID, "")
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			return nil, ticket.ErrTicketExpired
		}
		return nil, err
	}
	authn := parent.Authentication

	svc, err := s.lookupService(ctx, serviceURL)
	if err != nil {
		return nil, err
	}

	attrs := authn.ProtocolAttributes()
	attrs[model.AttrIsFromNewLogin] = []string{fmt.Sprintf("%t", t.FromNewLogin)}

	assertion := &Assertion{
		Principal:  authn.Principal,
		Attributes: svc.ReleaseAttributes(attrs),
		Proxies:    reverseChain(t.ProxyChain),
	}

	// pgtUrl 回调成功后签发 PGT
	if opts.PGTURL != "" {
		if !svc.AllowProxy {
			return nil, ErrProxyUnauthorized
		}
		pgtiou, err := s.issuePGT(ctx, t, authn, opts.PGTURL)
		if err != nil {
			// 回调失败不阻断验证，响应中不含 PGT
			s.logger.Warn("PGT 回调失败",
				zap.String("ticket", ticketID),
				zap.String("pgt_url", opts.PGTURL),
				zap.Error(err),
			)
		} else {
			assertion.PGTIOU = pgtiou
		}
	}

	return assertion, nil
}

// issuePGT 验证回调地址并签发 PGT，返回 PGTIOU
func (s *casService) issuePGT(ctx context.Context, st *model.Ticket, authn *model.Authentication, pgtURL string) (string, error) {
	parsed, err := url.Parse(pgtURL)
	if err != nil || parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: 回调必须使用 HTTPS", ErrProxyCallbackFailed)
	}

	pgt := model.NewPGT(st, authn, pgtURL, expiry.Ticket{MaxLifetime: s.config.PGTMaxLifetime})
	pgtiou := model.NewPGTIOU()

	// 回调确认：服务必须应答 2xx 才认为其持有回调端点
	q := parsed.Query()
	q.Set("pgtIou", pgtiou)
	q.Set("pgtId", pgt.ID)
	parsed.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProxyCallbackFailed, err)
	}
	resp, err := s.callback.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProxyCallbackFailed, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: 回调返回 %s", ErrProxyCallbackFailed, resp.Status)
	}

	if err := s.registry.Put(ctx, pgt); err != nil {
		return "", err
	}
	// PGT 挂到 SSO 会话根（ST 的父 TGT）下，随会话级联销毁
	if err := s.registry.AddChild(ctx, st.ParentID, pgt.ID); err != nil {
		return "", err
	}
	return pgtiou, nil
}

// GrantProxyTicket 从 PGT 签发 PT
// 每次签发相互独立，不在无关 PGT 上做任何串行化
func (s *casService) GrantProxyTicket(ctx context.Context, pgtID, targetService string) (*model.Ticket, error) {
	pgt, err := s.registry.Get(ctx, pgtID, model.KindPGT)
	if err != nil {
		return nil, err
	}

	pt := model.NewProxyTicket(pgt, targetService, expiry.Ticket{MaxLifetime: s.config.PTLifetime})
	if err := s.registry.Put(ctx, pt); err != nil {
		return nil, err
	}
	if err := s.registry.AddChild(ctx, pgt.ID, pt.ID); err != nil {
		return nil, err
	}
	if err := s.registry.UpdateLastUsed(ctx, pgt); err != nil {
		return nil, err
	}
	return pt, nil
}

// Logout 销毁 TGT 并触发单点登出扇出
// 票据销毁不依赖任何回调成功，扇出失败只记录不阻断
func (s *casService) Logout(ctx context.Context, tgtID string) (*SLOResult, error) {
	accesses, err := s.sso.Services(ctx, tgtID)
	if err != nil {
		s.logger.Warn("读取会话服务列表失败", zap.String("tgt", tgtID), zap.Error(err))
		accesses = nil
	}

	if err := s.registry.Delete(ctx, tgtID); err != nil {
		return nil, err
	}

	result := s.sso.NotifyLogout(ctx, accesses)
	if err := s.sso.Remove(ctx, tgtID); err != nil {
		s.logger.Warn("清除会话服务列表失败", zap.String("tgt", tgtID), zap.Error(err))
	}

	s.logger.Info("SSO 会话已销毁",
		zap.String("tgt", tgtID),
		zap.Int("notified", result.Notified),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// lookupService 查找注册服务，未注册或停用视为未授权
func (s *casService) lookupService(ctx context.Context, serviceURL string) (*model.RegisteredService, error) {
	svc, err := s.serviceRepo.FindMatching(ctx, serviceURL)
	if err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			return nil, ErrServiceUnauthorized
		}
		return nil, fmt.Errorf("查询注册服务失败: %w", err)
	}
	return svc, nil
}

// reverseChain 代理链反序：响应中最近的代理在前
func reverseChain(chain []string) []string {
	if len(chain) == 0 {
		return nil
	}
	out := make([]string, len(chain))
	for i, v := range chain {
		out[len(chain)-1-i] = v
	}
	return out
}

// normalizeService 服务地址归一化（比较前去除末尾斜杠）
func normalizeService(serviceURL string) string {
	return strings.TrimRight(serviceURL, "/")
}
