package repository

import (
	"context"
	"errors"

	"github.com/pu-ac-cn/cas-backend/internal/model"
	"gorm.io/gorm"
)

var (
	ErrServiceNotFound = errors.New("注册服务不存在")
)

// ServiceRepository 注册服务仓储接口
// 协议引擎以只读方式查询，管理操作仅限导入导出
type ServiceRepository interface {
	Create(ctx context.Context, svc *model.RegisteredService) error
	GetByID(ctx context.Context, id string) (*model.RegisteredService, error)
	Update(ctx context.Context, svc *model.RegisteredService) error
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*model.RegisteredService, error)
	// FindMatching 查找匹配服务 URL 的首个启用服务，未命中返回 ErrServiceNotFound
	FindMatching(ctx context.Context, serviceURL string) (*model.RegisteredService, error)
}

type serviceRepository struct {
	db *gorm.DB
}

// NewServiceRepository 创建注册服务仓储
func NewServiceRepository(db *gorm.DB) ServiceRepository {
	return &serviceRepository{db: db}
}

func (r *serviceRepository) Create(ctx context.Context, svc *model.RegisteredService) error {
	return r.db.WithContext(ctx).Create(svc).Error
}

func (r *serviceRepository) GetByID(ctx context.Context, id string) (*model.RegisteredService, error) {
	var svc model.RegisteredService
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&svc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

func (r *serviceRepository) Update(ctx context.Context, svc *model.RegisteredService) error {
	result := r.db.WithContext(ctx).Save(svc)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (r *serviceRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.RegisteredService{}).Error
}

func (r *serviceRepository) ListActive(ctx context.Context) ([]*model.RegisteredService, error) {
	var services []*model.RegisteredService
	err := r.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Order("created_at ASC").
		Find(&services).Error
	return services, err
}

// FindMatching 逐个匹配启用服务的 URL 正则
// 注册服务为读多写少的查找表，数量有限，全量装载后在内存匹配
func (r *serviceRepository) FindMatching(ctx context.Context, serviceURL string) (*model.RegisteredService, error) {
	services, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		if svc.Matches(serviceURL) {
			return svc, nil
		}
	}
	return nil, ErrServiceNotFound
}
