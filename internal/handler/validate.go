package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pu-ac-cn/cas-backend/internal/service"
	"github.com/pu-ac-cn/cas-backend/internal/ticket"
	"github.com/pu-ac-cn/cas-backend/pkg/protocol"
	"go.uber.org/zap"
)

// 响应内容类型
const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeXML  = "application/xml; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// ValidateHandler 票据验证端点
// 协议响应一律 HTTP 200，成败编码在响应体中
type ValidateHandler struct {
	casService service.CASService
	serverName string // SAML 断言的 Issuer
	logger     *zap.Logger
}

// NewValidateHandler 创建票据验证端点
func NewValidateHandler(casService service.CASService, serverName string, logger *zap.Logger) *ValidateHandler {
	return &ValidateHandler{
		casService: casService,
		serverName: serverName,
		logger:     logger,
	}
}

// failureFor 协议引擎错误转协议失败载荷
func failureFor(err error, ticketID string) *protocol.Failure {
	switch {
	case errors.Is(err, ticket.ErrTicketNotFound),
		errors.Is(err, ticket.ErrTicketExpired),
		errors.Is(err, ticket.ErrTicketConsumed):
		return &protocol.Failure{
			Code:        protocol.CodeInvalidTicket,
			Description: "Ticket '" + ticketID + "' not recognized",
		}
	case errors.Is(err, ticket.ErrWrongTicketType):
		return &protocol.Failure{
			Code:        protocol.CodeInvalidTicketSpec,
			Description: "Ticket '" + ticketID + "' does not satisfy the validation specification",
		}
	case errors.Is(err, service.ErrRenewMismatch):
		return &protocol.Failure{
			Code:        protocol.CodeInvalidTicket,
			Description: "Ticket '" + ticketID + "' does not satisfy renew requirement",
		}
	case errors.Is(err, service.ErrServiceMismatch):
		return &protocol.Failure{
			Code:        protocol.CodeInvalidService,
			Description: "Ticket '" + ticketID + "' does not match supplied service",
		}
	case errors.Is(err, service.ErrServiceUnauthorized):
		return &protocol.Failure{
			Code:        protocol.CodeUnauthorizedService,
			Description: "Service unauthorized",
		}
	case errors.Is(err, service.ErrProxyUnauthorized):
		return &protocol.Failure{
			Code:        protocol.CodeUnauthorizedProxy,
			Description: "Service unauthorized to obtain proxy tickets",
		}
	default:
		return &protocol.Failure{
			Code:        protocol.CodeInternalError,
			Description: "Internal error",
		}
	}
}

// successFor 断言转协议成功载荷
func successFor(a *service.Assertion) *protocol.Success {
	return &protocol.Success{
		User:       a.Principal,
		Attributes: a.Attributes,
		PGTIOU:     a.PGTIOU,
		Proxies:    a.Proxies,
	}
}

// ValidateV1 GET /cas/validate
// CAS 1.0 纯文本响应，不支持代理票据与属性释放
func (h *ValidateHandler) ValidateV1(c *gin.Context) {
	serviceURL := c.Query("service")
	ticketID := c.Query("ticket")
	if serviceURL == "" || ticketID == "" {
		c.Data(http.StatusOK, contentTypeText, []byte(protocol.CAS1Failure()))
		return
	}

	assertion, err := h.casService.Validate(c.Request.Context(), ticketID, serviceURL,
		service.ValidateOptions{Renew: c.Query("renew") == "true"})
	if err != nil {
		h.logValidateFailure("validate", ticketID, serviceURL, err)
		c.Data(http.StatusOK, contentTypeText, []byte(protocol.CAS1Failure()))
		return
	}
	c.Data(http.StatusOK, contentTypeText, []byte(protocol.CAS1Success(assertion.Principal)))
}

// ServiceValidate GET /cas/serviceValidate
// CAS 2.0 XML 响应，释放属性，不接受 PT
func (h *ValidateHandler) ServiceValidate(c *gin.Context) {
	h.validateXML(c, false)
}

// ServiceValidateV3 GET /cas/p3/serviceValidate
// CAS 3.0 响应，支持 format=JSON
func (h *ValidateHandler) ServiceValidateV3(c *gin.Context) {
	h.validateXML(c, false)
}

// ProxyValidate GET /cas/proxyValidate
// 同 serviceValidate，且接受 PT
func (h *ValidateHandler) ProxyValidate(c *gin.Context) {
	h.validateXML(c, true)
}

// ProxyValidateV3 GET /cas/p3/proxyValidate
func (h *ValidateHandler) ProxyValidateV3(c *gin.Context) {
	h.validateXML(c, true)
}

// validateXML CAS 2.0/3.0 验证的公共路径
func (h *ValidateHandler) validateXML(c *gin.Context, allowProxy bool) {
	jsonFormat := strings.EqualFold(c.Query("format"), "json")
	serviceURL := c.Query("service")
	ticketID := c.Query("ticket")

	if serviceURL == "" || ticketID == "" {
		h.writeFailure(c, jsonFormat, &protocol.Failure{
			Code:        protocol.CodeInvalidRequest,
			Description: "'service' and 'ticket' parameters are both required",
		})
		return
	}

	assertion, err := h.casService.Validate(c.Request.Context(), ticketID, serviceURL,
		service.ValidateOptions{
			Renew:            c.Query("renew") == "true",
			PGTURL:           c.Query("pgtUrl"),
			AllowProxyTicket: allowProxy,
		})
	if err != nil {
		h.logValidateFailure("serviceValidate", ticketID, serviceURL, err)
		h.writeFailure(c, jsonFormat, failureFor(err, ticketID))
		return
	}

	success := successFor(assertion)
	if jsonFormat {
		c.Data(http.StatusOK, contentTypeJSON, []byte(protocol.JSONSuccess(success)))
		return
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(protocol.CASSuccess(success)))
}

// writeFailure 按格式输出失败响应
func (h *ValidateHandler) writeFailure(c *gin.Context, jsonFormat bool, f *protocol.Failure) {
	if jsonFormat {
		c.Data(http.StatusOK, contentTypeJSON, []byte(protocol.JSONFailure(f)))
		return
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(protocol.CASFailure(f)))
}

// Proxy GET /cas/proxy
// 以 PGT 换取面向后端服务的 PT
func (h *ValidateHandler) Proxy(c *gin.Context) {
	pgtID := c.Query("pgt")
	targetService := c.Query("targetService")
	if pgtID == "" || targetService == "" {
		c.Data(http.StatusOK, contentTypeXML, []byte(protocol.ProxyFailure(&protocol.Failure{
			Code:        protocol.CodeInvalidRequest,
			Description: "'pgt' and 'targetService' parameters are both required",
		})))
		return
	}

	pt, err := h.casService.GrantProxyTicket(c.Request.Context(), pgtID, targetService)
	if err != nil {
		h.logValidateFailure("proxy", pgtID, targetService, err)
		f := failureFor(err, pgtID)
		if f.Code == protocol.CodeInvalidTicketSpec {
			f = &protocol.Failure{
				Code:        protocol.CodeInvalidTicket,
				Description: "Ticket '" + pgtID + "' is not a proxy-granting ticket",
			}
		}
		c.Data(http.StatusOK, contentTypeXML, []byte(protocol.ProxyFailure(f)))
		return
	}
	c.Data(http.StatusOK, contentTypeXML, []byte(protocol.ProxySuccess(pt.ID)))
}

// SAMLValidate POST /cas/samlValidate
// SAML 1.1 断言交换：TARGET 为服务地址，票据在 SOAP 体内
func (h *ValidateHandler) SAMLValidate(c *gin.Context) {
	serviceURL := c.Query("TARGET")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	ticketID := ""
	if err == nil {
		ticketID = protocol.ParseSAMLArtifact(body)
	}

	now := time.Now()
	responseID := "_" + uuid.NewString()
	if serviceURL == "" || ticketID == "" {
		c.Data(http.StatusOK, contentTypeXML, []byte(protocol.SAML1Failure(&protocol.Failure{
			Code:        protocol.CodeInvalidRequest,
			Description: "TARGET parameter and AssertionArtifact are both required",
		}, responseID, now)))
		return
	}

	assertion, err := h.casService.Validate(c.Request.Context(), ticketID, serviceURL,
		service.ValidateOptions{})
	if err != nil {
		h.logValidateFailure("samlValidate", ticketID, serviceURL, err)
		c.Data(http.StatusOK, contentTypeXML,
			[]byte(protocol.SAML1Failure(failureFor(err, ticketID), responseID, now)))
		return
	}

	c.Data(http.StatusOK, contentTypeXML, []byte(protocol.SAML1Success(
		successFor(assertion), h.serverName, serviceURL, responseID, "_"+uuid.NewString(), now)))
}

// logValidateFailure 记录验证失败，内部错误升级为 Error 级别
func (h *ValidateHandler) logValidateFailure(endpoint, ticketID, serviceURL string, err error) {
	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.String("ticket", ticketID),
		zap.String("service", serviceURL),
		zap.Error(err),
	}
	if errors.Is(err, ticket.ErrRegistryUnavailable) {
		h.logger.Error("票据验证失败", fields...)
		return
	}
	h.logger.Info("票据验证未通过", fields...)
}
