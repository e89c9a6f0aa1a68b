package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-backend/internal/middleware"
	"github.com/pu-ac-cn/cas-backend/internal/service"
)

// Router 路由依赖
type Router struct {
	Login      *LoginHandler
	Validate   *ValidateHandler
	Logout     *LogoutHandler
	Actuator   *ActuatorHandler
	CASService service.CASService
}

// Setup 注册全部路由
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Logger())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.CORS())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	cas := engine.Group("/cas")
	{
		cas.GET("/login", middleware.OptionalTGC(r.CASService), r.Login.Login)
		cas.POST("/login", r.Login.LoginPost)
		cas.POST("/login/mfa", middleware.RequireTGC(r.CASService), r.Login.MFAVerify)
		cas.POST("/login/mfa/send", middleware.RequireTGC(r.CASService), r.Login.MFAChallenge)
		cas.POST("/passwordless/request", r.Login.PasswordlessRequest)

		cas.GET("/logout", r.Logout.Logout)
		cas.POST("/logout", r.Logout.Logout)

		// 协议验证端点：响应一律 HTTP 200
		cas.GET("/validate", r.Validate.ValidateV1)
		cas.GET("/serviceValidate", r.Validate.ServiceValidate)
		cas.GET("/proxyValidate", r.Validate.ProxyValidate)
		cas.GET("/p3/serviceValidate", r.Validate.ServiceValidateV3)
		cas.GET("/p3/proxyValidate", r.Validate.ProxyValidateV3)
		cas.GET("/proxy", r.Validate.Proxy)
		cas.POST("/samlValidate", r.Validate.SAMLValidate)
	}

	actuator := engine.Group("/actuator")
	{
		actuator.GET("/ticketRegistry", r.Actuator.ListTickets)
		actuator.GET("/ticketRegistry/stats", r.Actuator.TicketStats)
		actuator.DELETE("/ticketRegistry/:id", r.Actuator.DeleteTicket)

		actuator.GET("/ssoSessions", r.Actuator.ListSSOSessions)
		actuator.DELETE("/ssoSessions/:tgtId", r.Actuator.DestroySSOSession)

		actuator.GET("/registeredServices", r.Actuator.ListServices)
		actuator.POST("/registeredServices", r.Actuator.CreateService)
		actuator.PUT("/registeredServices/:id", r.Actuator.UpdateService)
		actuator.DELETE("/registeredServices/:id", r.Actuator.DeleteService)
	}
}
