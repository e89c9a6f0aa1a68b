package repository

import (
	"context"

	"github.com/pu-ac-cn/cas-backend/internal/model"
	"gorm.io/gorm"
)

// SurrogateRepository 代理登录授权仓储接口
type SurrogateRepository interface {
	Create(ctx context.Context, authz *model.SurrogateAuthorization) error
	Delete(ctx context.Context, surrogateUsername, principalUsername string) error
	// IsAuthorized 检查 surrogate 是否被授权以 principal 的身份登录
	IsAuthorized(ctx context.Context, surrogateUsername, principalUsername string) (bool, error)
	// ListTargets 列出 surrogate 可冒充的全部目标用户
	ListTargets(ctx context.Context, surrogateUsername string) ([]string, error)
}

type surrogateRepository struct {
	db *gorm.DB
}

// NewSurrogateRepository 创建代理登录授权仓储
func NewSurrogateRepository(db *gorm.DB) SurrogateRepository {
	return &surrogateRepository{db: db}
}

func (r *surrogateRepository) Create(ctx context.Context, authz *model.SurrogateAuthorization) error {
	return r.db.WithContext(ctx).Create(authz).Error
}

func (r *surrogateRepository) Delete(ctx context.Context, surrogateUsername, principalUsername string) error {
	return r.db.WithContext(ctx).
		Where("surrogate_username = ? AND principal_username = ?", surrogateUsername, principalUsername).
		Delete(&model.SurrogateAuthorization{}).Error
}

func (r *surrogateRepository) IsAuthorized(ctx context.Context, surrogateUsername, principalUsername string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.SurrogateAuthorization{}).
		Where("surrogate_username = ? AND principal_username = ?", surrogateUsername, principalUsername).
		Count(&count).Error
	return count > 0, err
}

func (r *surrogateRepository) ListTargets(ctx context.Context, surrogateUsername string) ([]string, error) {
	var targets []string
	err := r.db.WithContext(ctx).Model(&model.SurrogateAuthorization{}).
		Where("surrogate_username = ?", surrogateUsername).
		Pluck("principal_username", &targets).Error
	return targets, err
}
