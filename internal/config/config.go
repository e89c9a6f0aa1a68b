package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
	Auth     AuthConfig     `mapstructure:"auth"`
	SLO      SLOConfig      `mapstructure:"slo"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	Name         string        `mapstructure:"name"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	Charset   string `mapstructure:"charset"`
	ParseTime bool   `mapstructure:"parse_time"`
	Loc       string `mapstructure:"loc"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TicketConfig 票据生命周期配置
type TicketConfig struct {
	TGTMaxLifetime        time.Duration `mapstructure:"tgt_max_lifetime"`         // TGT 绝对寿命
	TGTIdleTimeout        time.Duration `mapstructure:"tgt_idle_timeout"`         // TGT 空闲超时
	TGTRememberMeLifetime time.Duration `mapstructure:"tgt_remember_me_lifetime"` // 记住我会话寿命
	STLifetime            time.Duration `mapstructure:"st_lifetime"`              // ST 有效期
	PGTMaxLifetime        time.Duration `mapstructure:"pgt_max_lifetime"`         // PGT 绝对寿命
	PTLifetime            time.Duration `mapstructure:"pt_lifetime"`              // PT 有效期
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`           // 过期票据清扫间隔
	ProxyCallbackTimeout  time.Duration `mapstructure:"proxy_callback_timeout"`   // PGT 回调超时
}

// AuthConfig 认证链配置
type AuthConfig struct {
	ChainPolicy        string                       `mapstructure:"chain_policy"`        // any / all
	StaticUsers        map[string]string            `mapstructure:"static_users"`        // 静态账号（测试/引导用）
	TrustedHeader      string                       `mapstructure:"trusted_header"`      // 信任的代理头名称，空则禁用
	RESTEndpoint       string                       `mapstructure:"rest_endpoint"`       // 外部 REST 认证端点，空则禁用
	X509Enabled        bool                         `mapstructure:"x509_enabled"`        // 是否接受客户端证书凭据
	DelegatedProviders map[string]DelegatedProvider `mapstructure:"delegated_providers"` // 外部 IdP
	OTPLifetime        time.Duration                `mapstructure:"otp_lifetime"`        // MFA 一次性验证码有效期
}

// DelegatedProvider 外部 IdP 配置
type DelegatedProvider struct {
	Issuer string `mapstructure:"issuer"` // 断言签发者
	Secret string `mapstructure:"secret"` // HMAC 共享密钥
}

// SLOConfig 单点登出配置
type SLOConfig struct {
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"` // 单个登出回调超时
}

// global 全局配置实例
var global *Config

// Load 加载配置
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 支持环境变量覆盖
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	global = &cfg
	return &cfg, nil
}

// LoadFromFile 从指定路径加载配置
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaultsOn(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	global = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	return global
}

// setDefaults 设置默认值
func setDefaults() {
	setDefaultsOn(viper.GetViper())
}

// setDefaultsOn 在指定 viper 实例上设置默认值
func setDefaultsOn(viper *viper.Viper) {
	// 服务器默认配置
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.name", "https://cas.example.org")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.cookie_secure", true)

	// 数据库默认配置
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.user", "postgres")
	viper.SetDefault("database.postgres.password", "")
	viper.SetDefault("database.postgres.dbname", "cas")
	viper.SetDefault("database.postgres.sslmode", "disable")

	// Redis 默认配置
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// 票据默认配置
	viper.SetDefault("ticket.tgt_max_lifetime", "8h")
	viper.SetDefault("ticket.tgt_idle_timeout", "2h")
	viper.SetDefault("ticket.tgt_remember_me_lifetime", "336h")
	viper.SetDefault("ticket.st_lifetime", "10s")
	viper.SetDefault("ticket.pgt_max_lifetime", "8h")
	viper.SetDefault("ticket.pt_lifetime", "10s")
	viper.SetDefault("ticket.sweep_interval", "1m")
	viper.SetDefault("ticket.proxy_callback_timeout", "5s")

	// 认证默认配置
	viper.SetDefault("auth.chain_policy", "any")
	viper.SetDefault("auth.otp_lifetime", "5m")

	// 单点登出默认配置
	viper.SetDefault("slo.callback_timeout", "5s")
}
