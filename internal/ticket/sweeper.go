package ticket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper 过期票据后台清扫器
// 与请求路径解耦，基于 SCAN 游标逐个判定，不持有阻塞签发/验证的锁
type Sweeper struct {
	registry Registry
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper 创建清扫器
func NewSweeper(registry Registry, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Run 周期执行清扫直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 执行一轮清扫，返回清除的票据数
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.registry.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("票据清扫失败", zap.Error(err))
		return removed
	}
	if removed > 0 {
		s.logger.Info("过期票据已清除", zap.Int("count", removed))
	}
	return removed
}
