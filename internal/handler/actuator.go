package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/pu-ac-cn/cas-backend/internal/repository"
	"github.com/pu-ac-cn/cas-backend/internal/service"
	"github.com/pu-ac-cn/cas-backend/internal/ticket"
	"github.com/pu-ac-cn/cas-backend/pkg/response"
	"go.uber.org/zap"
)

// ActuatorHandler 运维管理端点
// 面向运维与审计，不在协议路径上
type ActuatorHandler struct {
	registry    ticket.Registry
	casService  service.CASService
	sso         *service.SSOCoordinator
	serviceRepo repository.ServiceRepository
	logger      *zap.Logger
}

// NewActuatorHandler 创建运维管理端点
func NewActuatorHandler(
	registry ticket.Registry,
	casService service.CASService,
	sso *service.SSOCoordinator,
	serviceRepo repository.ServiceRepository,
	logger *zap.Logger,
) *ActuatorHandler {
	return &ActuatorHandler{
		registry:    registry,
		casService:  casService,
		sso:         sso,
		serviceRepo: serviceRepo,
		logger:      logger,
	}
}

// ticketView 票据的对外视图，不暴露认证属性明细
type ticketView struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Principal    string    `json:"principal,omitempty"`
	Service      string    `json:"service,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	FromNewLogin bool      `json:"from_new_login,omitempty"`
	ProxyChain   []string  `json:"proxy_chain,omitempty"`
}

func newTicketView(t *model.Ticket) ticketView {
	v := ticketView{
		ID:           t.ID,
		Kind:         t.Kind,
		Service:      t.Service,
		CreatedAt:    t.CreatedAt,
		LastUsedAt:   t.LastUsedAt,
		FromNewLogin: t.FromNewLogin,
		ProxyChain:   t.ProxyChain,
	}
	if t.Authentication != nil {
		v.Principal = t.Authentication.Principal
	}
	return v
}

// ListTickets GET /actuator/ticketRegistry
// 按类型枚举未过期票据
func (h *ActuatorHandler) ListTickets(c *gin.Context) {
	kind := c.Query("type")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	tickets, err := h.registry.Query(c.Request.Context(), kind, limit)
	if err != nil {
		h.logger.Error("枚举票据失败", zap.Error(err))
		response.Error(c, response.CodeUnavailable)
		return
	}

	views := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, newTicketView(t))
	}
	response.Success(c, gin.H{"total": len(views), "tickets": views})
}

// TicketStats GET /actuator/ticketRegistry/stats
// 各类型票据存量
func (h *ActuatorHandler) TicketStats(c *gin.Context) {
	stats := gin.H{}
	for _, kind := range []string{model.KindTGT, model.KindST, model.KindPGT, model.KindPT} {
		count, err := h.registry.Count(c.Request.Context(), kind)
		if err != nil {
			h.logger.Error("统计票据失败", zap.String("kind", kind), zap.Error(err))
			response.Error(c, response.CodeUnavailable)
			return
		}
		stats[kind] = count
	}
	response.Success(c, stats)
}

// DeleteTicket DELETE /actuator/ticketRegistry/:id
// 强制移除票据及其全部后代
func (h *ActuatorHandler) DeleteTicket(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("删除票据失败", zap.String("ticket", id), zap.Error(err))
		response.Error(c, response.CodeUnavailable)
		return
	}
	response.Success(c, nil)
}

// ssoSessionView SSO 会话视图
type ssoSessionView struct {
	TGT       string                  `json:"tgt"`
	Principal string                  `json:"principal"`
	CreatedAt time.Time               `json:"created_at"`
	Services  []service.ServiceAccess `json:"services"`
}

// ListSSOSessions GET /actuator/ssoSessions
// 枚举活跃 SSO 会话及各会话接入的服务
func (h *ActuatorHandler) ListSSOSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	tgts, err := h.registry.Query(c.Request.Context(), model.KindTGT, limit)
	if err != nil {
		h.logger.Error("枚举会话失败", zap.Error(err))
		response.Error(c, response.CodeUnavailable)
		return
	}

	sessions := make([]ssoSessionView, 0, len(tgts))
	for _, tgt := range tgts {
		accesses, err := h.sso.Services(c.Request.Context(), tgt.ID)
		if err != nil {
			accesses = nil
		}
		view := ssoSessionView{
			TGT:       tgt.ID,
			CreatedAt: tgt.CreatedAt,
			Services:  accesses,
		}
		if tgt.Authentication != nil {
			view.Principal = tgt.Authentication.Principal
		}
		sessions = append(sessions, view)
	}
	response.Success(c, gin.H{"total": len(sessions), "sessions": sessions})
}

// DestroySSOSession DELETE /actuator/ssoSessions/:tgtId
// 管理员强制登出：销毁会话并触发登出扇出
func (h *ActuatorHandler) DestroySSOSession(c *gin.Context) {
	tgtID := c.Param("tgtId")
	result, err := h.casService.Logout(c.Request.Context(), tgtID)
	if err != nil {
		if errors.Is(err, ticket.ErrTicketNotFound) {
			response.Error(c, response.CodeTicketNotFound)
			return
		}
		h.logger.Error("强制登出失败", zap.String("tgt", tgtID), zap.Error(err))
		response.Error(c, response.CodeUnavailable)
		return
	}
	response.Success(c, gin.H{"notified": result.Notified, "failed": result.Failed})
}

// ListServices GET /actuator/registeredServices
func (h *ActuatorHandler) ListServices(c *gin.Context) {
	services, err := h.serviceRepo.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("枚举注册服务失败", zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	response.Success(c, gin.H{"total": len(services), "services": services})
}

// CreateService POST /actuator/registeredServices
func (h *ActuatorHandler) CreateService(c *gin.Context) {
	var svc model.RegisteredService
	if err := c.ShouldBindJSON(&svc); err != nil || svc.Name == "" || svc.ServicePattern == "" {
		response.Error(c, response.CodeInvalidRequest)
		return
	}
	if svc.Status == "" {
		svc.Status = model.StatusActive
	}
	if err := h.serviceRepo.Create(c.Request.Context(), &svc); err != nil {
		h.logger.Error("创建注册服务失败", zap.String("name", svc.Name), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	response.Success(c, svc)
}

// UpdateService PUT /actuator/registeredServices/:id
func (h *ActuatorHandler) UpdateService(c *gin.Context) {
	existing, err := h.serviceRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			response.Error(c, response.CodeServiceNotFound)
			return
		}
		response.Error(c, response.CodeServerError)
		return
	}

	var svc model.RegisteredService
	if err := c.ShouldBindJSON(&svc); err != nil {
		response.Error(c, response.CodeInvalidRequest)
		return
	}
	svc.BaseModel = existing.BaseModel

	if err := h.serviceRepo.Update(c.Request.Context(), &svc); err != nil {
		h.logger.Error("更新注册服务失败", zap.String("id", svc.ID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	response.Success(c, svc)
}

// DeleteService DELETE /actuator/registeredServices/:id
func (h *ActuatorHandler) DeleteService(c *gin.Context) {
	if err := h.serviceRepo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("删除注册服务失败", zap.String("id", c.Param("id")), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	response.Success(c, nil)
}
