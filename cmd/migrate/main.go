// Package main 数据库迁移工具
package main

import (
	"flag"
	"log"

	"github.com/pu-ac-cn/cas-backend/internal/config"
	"github.com/pu-ac-cn/cas-backend/internal/database"
	"github.com/pu-ac-cn/cas-backend/internal/model"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "配置文件路径")
	seed := flag.Bool("seed", false, "写入示例注册服务")
	flag.Parse()

	// 加载配置
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库连接
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()
	log.Println("数据库连接成功")

	// 执行迁移
	log.Println("开始执行数据库迁移...")

	// 迁移所有模型
	models := []any{
		&model.User{},
		&model.RegisteredService{},
		&model.SurrogateAuthorization{},
	}

	for _, m := range models {
		if err := database.AutoMigrate(m); err != nil {
			log.Fatalf("迁移失败: %v", err)
		}
	}

	log.Println("数据库迁移完成！")

	// 打印创建的表
	log.Println("已创建/更新的表:")
	log.Println("  - users (用户表)")
	log.Println("  - registered_services (注册服务表)")
	log.Println("  - surrogate_authorizations (代理登录授权表)")

	if *seed {
		seedServices()
	}
}

// seedServices 写入一条宽匹配的示例注册服务，方便本地联调
func seedServices() {
	db := database.GetDB()

	var count int64
	if err := db.Model(&model.RegisteredService{}).Count(&count).Error; err != nil {
		log.Fatalf("检查注册服务失败: %v", err)
	}
	if count > 0 {
		log.Println("注册服务表非空，跳过示例数据")
		return
	}

	svc := &model.RegisteredService{
		Name:              "本地联调服务",
		ServicePattern:    `^https?://localhost(:\d+)?(/.*)?$`,
		Status:            model.StatusActive,
		SSOEnabled:        true,
		AllowedAttributes: model.StringSlice{"email", "displayName"},
		LogoutType:        model.LogoutTypeBack,
		Description:       "匹配 localhost 的任意端口与路径，仅用于本地开发",
	}
	if err := db.Create(svc).Error; err != nil {
		log.Fatalf("写入示例注册服务失败: %v", err)
	}
	log.Printf("已写入示例注册服务: %s", svc.Name)
}
