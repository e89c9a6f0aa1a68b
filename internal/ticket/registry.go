// Package ticket 票据注册表：票据的存储、过期与单次使用语义
package ticket

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-backend/internal/model"
)

// 注册表相关错误
var (
	ErrTicketNotFound      = errors.New("票据不存在")
	ErrTicketExpired       = errors.New("票据已过期")
	ErrTicketConsumed      = errors.New("票据已被使用")
	ErrWrongTicketType     = errors.New("票据类型不匹配")
	ErrDuplicateTicket     = errors.New("票据 ID 已存在")
	ErrRegistryUnavailable = errors.New("票据注册表不可用")
)

// Registry 票据注册表接口
// 后端故障必须以 ErrRegistryUnavailable 暴露，绝不与"票据不存在"混淆
type Registry interface {
	// Put 存储新票据，ID 已存在时返回 ErrDuplicateTicket
	Put(ctx context.Context, t *model.Ticket) error

	// Get 读取票据并校验过期
	// kind 非空时校验票据类型；过期票据返回 ErrTicketExpired 并被清除
	Get(ctx context.Context, id, kind string) (*model.Ticket, error)

	// UpdateLastUsed 刷新滑动过期状态，相对并发 Get 原子
	UpdateLastUsed(ctx context.Context, t *model.Ticket) error

	// UpdateAuthentication 重写票据的认证上下文（MFA 满足集等），不改动过期状态
	UpdateAuthentication(ctx context.Context, t *model.Ticket) error

	// Consume 原子地消费单次使用票据
	// 并发调用同一票据时恰好一个成功，其余返回 ErrTicketConsumed
	Consume(ctx context.Context, id string) (*model.Ticket, error)

	// Delete 删除票据，幂等；TGT/PGT 级联删除其全部后代
	Delete(ctx context.Context, id string) error

	// AddChild 登记父子关系，用于级联删除
	AddChild(ctx context.Context, parentID, childID string) error

	// Query 枚举指定类型的未过期票据（管理端点使用，limit<=0 表示不限）
	Query(ctx context.Context, kind string, limit int) ([]*model.Ticket, error)

	// Count 统计指定类型的未过期票据数量
	Count(ctx context.Context, kind string) (int64, error)

	// SweepExpired 扫描并清除已过期票据，返回清除数量
	SweepExpired(ctx context.Context) (int, error)
}
