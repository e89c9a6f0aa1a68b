package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-backend/internal/auth"
	"github.com/pu-ac-cn/cas-backend/internal/config"
	"github.com/pu-ac-cn/cas-backend/internal/database"
	"github.com/pu-ac-cn/cas-backend/internal/handler"
	"github.com/pu-ac-cn/cas-backend/internal/middleware"
	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/pu-ac-cn/cas-backend/internal/redis"
	"github.com/pu-ac-cn/cas-backend/internal/repository"
	"github.com/pu-ac-cn/cas-backend/internal/service"
	"github.com/pu-ac-cn/cas-backend/internal/ticket"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库连接
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()
	log.Println("数据库连接成功")

	// 初始化 Redis 连接
	if err := redis.Init(&cfg.Redis); err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	defer redis.Close()
	log.Println("Redis 连接成功")

	// 自动迁移数据库表
	if err := database.AutoMigrate(
		&model.User{},
		&model.RegisteredService{},
		&model.SurrogateAuthorization{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库迁移完成")

	logger := middleware.GetLogger()

	// 初始化 Repository
	userRepo := repository.NewUserRepository(database.GetDB())
	serviceRepo := repository.NewServiceRepository(database.GetDB())
	surrogateRepo := repository.NewSurrogateRepository(database.GetDB())

	// 组装认证处理器链
	handlers := []auth.Handler{
		auth.NewDatabaseHandler(userRepo),
	}
	if len(cfg.Auth.StaticUsers) > 0 {
		handlers = append(handlers, auth.NewStaticHandler(cfg.Auth.StaticUsers))
	}
	if cfg.Auth.RESTEndpoint != "" {
		handlers = append(handlers, auth.NewRestHandler(cfg.Auth.RESTEndpoint, 5*time.Second))
	}
	primaryChain := auth.NewChain(cfg.Auth.ChainPolicy, logger, handlers...)

	passwordless := auth.NewPasswordlessHandler(redis.GetClient(), cfg.Auth.OTPLifetime)
	chainHandlers := append([]auth.Handler{}, handlers...)
	chainHandlers = append(chainHandlers,
		auth.NewHeaderHandler(),
		passwordless,
		auth.NewSurrogateHandler(primaryChain, surrogateRepo),
	)
	if cfg.Auth.X509Enabled {
		chainHandlers = append(chainHandlers, auth.NewX509Handler(nil))
	}
	if len(cfg.Auth.DelegatedProviders) > 0 {
		providers := make(map[string]auth.DelegatedProvider, len(cfg.Auth.DelegatedProviders))
		for name, p := range cfg.Auth.DelegatedProviders {
			providers[name] = auth.DelegatedProvider{Issuer: p.Issuer, Secret: []byte(p.Secret)}
		}
		chainHandlers = append(chainHandlers, auth.NewDelegatedHandler(providers))
	}
	chain := auth.NewChain(cfg.Auth.ChainPolicy, logger, chainHandlers...)

	otp := auth.NewOTPProvider(redis.GetClient(), cfg.Auth.OTPLifetime)

	// 票据注册表与过期清扫
	registry := ticket.NewRedisRegistry(redis.GetClient())
	sweeper := ticket.NewSweeper(registry, cfg.Ticket.SweepInterval, logger)

	// SSO 协调器与协议引擎
	sso := service.NewSSOCoordinator(redis.GetClient(), serviceRepo,
		cfg.Ticket.TGTMaxLifetime+time.Hour, cfg.SLO.CallbackTimeout, logger)
	casService := service.NewCASService(registry, chain, serviceRepo, sso, &service.Config{
		TGTMaxLifetime:        cfg.Ticket.TGTMaxLifetime,
		TGTIdleTimeout:        cfg.Ticket.TGTIdleTimeout,
		TGTRememberMeLifetime: cfg.Ticket.TGTRememberMeLifetime,
		STLifetime:            cfg.Ticket.STLifetime,
		PGTMaxLifetime:        cfg.Ticket.PGTMaxLifetime,
		PTLifetime:            cfg.Ticket.PTLifetime,
		ProxyCallbackTimeout:  cfg.Ticket.ProxyCallbackTimeout,
	}, logger)

	// 初始化 Handler
	router := &handler.Router{
		Login:      handler.NewLoginHandler(casService, otp, passwordless, cfg.Auth.TrustedHeader, cfg.Server.CookieSecure, logger),
		Validate:   handler.NewValidateHandler(casService, cfg.Server.Name, logger),
		Logout:     handler.NewLogoutHandler(casService, serviceRepo, cfg.Server.CookieSecure, logger),
		Actuator:   handler.NewActuatorHandler(registry, casService, sso, serviceRepo, logger),
		CASService: casService,
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	router.Setup(engine)

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 后台清扫过期票据
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	// 启动服务器
	go func() {
		log.Printf("服务启动，监听地址: %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")
	stopSweeper()

	// 优雅关闭，等待 5 秒
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务关闭失败: %v", err)
	}

	// 关闭数据库和 Redis 连接
	database.Close()
	redis.Close()

	log.Println("服务已关闭")
}
