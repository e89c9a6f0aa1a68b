// Package model 注册服务模型
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
)

// 单点登出方式
const (
	LogoutTypeNone  = "none"  // 不通知
	LogoutTypeBack  = "back"  // 后端通道（服务端 POST）
	LogoutTypeFront = "front" // 前端通道（浏览器重定向）
)

// RegisteredService 注册服务模型
// 协议引擎只读查询的配置实体，核心流程不修改它
type RegisteredService struct {
	BaseModel
	Name              string      `gorm:"type:varchar(255);not null" json:"name"`                // 服务名称
	ServicePattern    string      `gorm:"type:varchar(500);not null;index" json:"service_pattern"` // 服务 URL 正则
	Status            string      `gorm:"type:varchar(20);default:active" json:"status"`         // 状态
	SSOEnabled        bool        `gorm:"default:true" json:"sso_enabled"`                       // 是否参与 SSO（否则每次访问都要求新鲜凭据）
	AllowedAttributes StringSlice `gorm:"type:json" json:"allowed_attributes"`                   // 属性释放白名单
	RequiredMFA       string      `gorm:"type:varchar(100)" json:"required_mfa,omitempty"`       // 要求的 MFA 提供者
	MultiUseST        bool        `gorm:"default:false" json:"multi_use_st"`                     // ST 是否允许多次验证
	AllowProxy        bool        `gorm:"default:false" json:"allow_proxy"`                      // 是否允许签发 PGT
	LogoutURL         string      `gorm:"type:varchar(500)" json:"logout_url,omitempty"`         // 登出回调地址（为空则用服务地址）
	LogoutType        string      `gorm:"type:varchar(10);default:back" json:"logout_type"`      // 登出方式
	Description       string      `gorm:"type:text" json:"description"`
}

// TableName 指定表名
func (RegisteredService) TableName() string {
	return "registered_services"
}

// IsActive 检查服务是否启用
func (s *RegisteredService) IsActive() bool {
	return s.Status == StatusActive
}

// Matches 检查服务 URL 是否匹配本服务的正则
func (s *RegisteredService) Matches(serviceURL string) bool {
	re, err := regexp.Compile(s.ServicePattern)
	if err != nil {
		return false
	}
	return re.MatchString(serviceURL)
}

// ReleaseAttributes 按属性释放白名单过滤属性
// 白名单为空时不释放任何主体属性，协议内置属性除外
func (s *RegisteredService) ReleaseAttributes(attrs map[string][]string) map[string][]string {
	released := make(map[string][]string)
	for _, name := range s.AllowedAttributes {
		if v, ok := attrs[name]; ok {
			released[name] = append([]string(nil), v...)
		}
	}
	// 协议内置属性始终释放
	for _, name := range []string{
		AttrAuthenticationMethod,
		AttrAuthenticationDate,
		AttrSuccessfulHandlers,
		AttrLongTermAuth,
		AttrIsFromNewLogin,
	} {
		if v, ok := attrs[name]; ok {
			released[name] = append([]string(nil), v...)
		}
	}
	return released
}

// SLOCallbackURL 单点登出回调地址
func (s *RegisteredService) SLOCallbackURL(serviceURL string) string {
	if s.LogoutURL != "" {
		return s.LogoutURL
	}
	return serviceURL
}

// StringSlice 字符串切片类型，用于 JSON 存储
type StringSlice []string

// Value 实现 driver.Valuer 接口
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan 实现 sql.Scanner 接口
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("无法将值转换为 []byte")
	}
	return json.Unmarshal(bytes, s)
}
