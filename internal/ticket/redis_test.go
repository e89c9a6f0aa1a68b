package ticket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pu-ac-cn/cas-backend/internal/expiry"
	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 创建测试用的 Redis 注册表
func setupTestRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewRedisRegistry(client), mr, func() {
		client.Close()
		mr.Close()
	}
}

func testAuthentication() *model.Authentication {
	return &model.Authentication{
		Principal:       "casuser",
		Attributes:      map[string][]string{"email": {"casuser@example.org"}},
		Handlers:        []string{"STATIC"},
		Method:          "STATIC",
		AuthenticatedAt: time.Now(),
	}
}

func newTestTGT() *model.Ticket {
	return model.NewTGT(testAuthentication(), expiry.Ticket{
		MaxLifetime: 8 * time.Hour,
		IdleTimeout: 2 * time.Hour,
	})
}

func TestRedisRegistry_PutAndGet(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, registry.Put(ctx, tgt))

	got, err := registry.Get(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
	assert.Equal(t, tgt.ID, got.ID)
	assert.Equal(t, "casuser", got.Authentication.Principal)
	assert.Equal(t, []string{"casuser@example.org"}, got.Authentication.Attributes["email"])
}

func TestRedisRegistry_Get_NotFound(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()

	_, err := registry.Get(context.Background(), "TGT-NONEXISTENT", model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRedisRegistry_Get_WrongKind(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, registry.Put(ctx, tgt))

	_, err := registry.Get(ctx, tgt.ID, model.KindST)
	assert.ErrorIs(t, err, ErrWrongTicketType)
}

func TestRedisRegistry_Put_Duplicate(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, registry.Put(ctx, tgt))
	assert.ErrorIs(t, registry.Put(ctx, tgt), ErrDuplicateTicket)
}

func TestRedisRegistry_Get_Expired(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	tgt.CreatedAt = time.Now().Add(-9 * time.Hour)
	tgt.LastUsedAt = tgt.CreatedAt
	require.NoError(t, registry.Put(ctx, tgt))

	_, err := registry.Get(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketExpired)

	// 过期票据已被清除
	_, err = registry.Get(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRedisRegistry_IdleTimeoutDespiteRemainingLifetime(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	// 绝对寿命剩余充足，但空闲超时已命中
	tgt := newTestTGT()
	tgt.CreatedAt = time.Now().Add(-3 * time.Hour)
	tgt.LastUsedAt = tgt.CreatedAt
	require.NoError(t, registry.Put(ctx, tgt))

	_, err := registry.Get(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketExpired)
}

func TestRedisRegistry_UpdateLastUsed(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	tgt.CreatedAt = time.Now().Add(-3 * time.Hour)
	tgt.LastUsedAt = time.Now().Add(-90 * time.Minute)
	require.NoError(t, registry.Put(ctx, tgt))

	// 刷新后空闲计时重置
	require.NoError(t, registry.UpdateLastUsed(ctx, tgt))

	got, err := registry.Get(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got.LastUsedAt, 5*time.Second)
}

func TestRedisRegistry_UpdateAuthentication(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, registry.Put(ctx, tgt))

	tgt.Authentication.SatisfiedMFA = []string{"mfa-otp"}
	require.NoError(t, registry.UpdateAuthentication(ctx, tgt))

	got, err := registry.Get(ctx, tgt.ID, model.KindTGT)
	require.NoError(t, err)
	assert.True(t, got.Authentication.HasSatisfiedMFA("mfa-otp"))
}

func TestRedisRegistry_Consume_ExactlyOnce(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	st := model.NewServiceTicket(tgt, "https://app.example.org", true, false,
		expiry.Ticket{MaxLifetime: 10 * time.Second})
	require.NoError(t, registry.Put(ctx, st))

	got, err := registry.Consume(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)

	_, err = registry.Consume(ctx, st.ID)
	assert.ErrorIs(t, err, ErrTicketConsumed)
}

// 已消费的 ST 在兜底 TTL 淘汰前不得再被读取路径视为存活
func TestRedisRegistry_ConsumedInvisibleToReads(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	st := model.NewServiceTicket(tgt, "https://app.example.org", true, false,
		expiry.Ticket{MaxLifetime: time.Hour})
	require.NoError(t, registry.Put(ctx, st))

	_, err := registry.Consume(ctx, st.ID)
	require.NoError(t, err)

	_, err = registry.Get(ctx, st.ID, model.KindST)
	assert.ErrorIs(t, err, ErrTicketConsumed)

	sts, err := registry.Query(ctx, model.KindST, 0)
	require.NoError(t, err)
	assert.Empty(t, sts)

	count, err := registry.Count(ctx, model.KindST)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// 清扫器回收已消费票据，不等兜底 TTL
func TestSweeper_ReclaimsConsumed(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	st := model.NewServiceTicket(tgt, "https://app.example.org", true, false,
		expiry.Ticket{MaxLifetime: time.Hour})
	require.NoError(t, registry.Put(ctx, st))
	_, err := registry.Consume(ctx, st.ID)
	require.NoError(t, err)

	removed, err := registry.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = registry.Get(ctx, st.ID, model.KindST)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

// 并发消费同一 ST：恰好一个调用者成功
func TestRedisRegistry_Consume_Concurrent(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	st := model.NewServiceTicket(tgt, "https://app.example.org", true, false,
		expiry.Ticket{MaxLifetime: 10 * time.Second})
	require.NoError(t, registry.Put(ctx, st))

	const callers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, consumed := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Consume(ctx, st.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case err == ErrTicketConsumed:
				consumed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "应恰好一个调用者消费成功")
	assert.Equal(t, callers-1, consumed)
}

func TestRedisRegistry_Delete_Cascade(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, registry.Put(ctx, tgt))

	st := model.NewServiceTicket(tgt, "https://app.example.org", true, false,
		expiry.Ticket{MaxLifetime: time.Hour})
	require.NoError(t, registry.Put(ctx, st))
	require.NoError(t, registry.AddChild(ctx, tgt.ID, st.ID))

	pgt := model.NewPGT(st, tgt.Authentication, "https://app.example.org/pgtCallback",
		expiry.Ticket{MaxLifetime: time.Hour})
	require.NoError(t, registry.Put(ctx, pgt))
	require.NoError(t, registry.AddChild(ctx, tgt.ID, pgt.ID))

	pt := model.NewProxyTicket(pgt, "https://backend.example.org",
		expiry.Ticket{MaxLifetime: time.Hour})
	require.NoError(t, registry.Put(ctx, pt))
	require.NoError(t, registry.AddChild(ctx, pgt.ID, pt.ID))

	// 删除 TGT 级联销毁 ST/PGT/PT
	require.NoError(t, registry.Delete(ctx, tgt.ID))

	for _, id := range []string{tgt.ID, st.ID, pgt.ID, pt.ID} {
		_, err := registry.Get(ctx, id, "")
		assert.ErrorIs(t, err, ErrTicketNotFound, "票据 %s 应已被级联删除", id)
	}
}

func TestRedisRegistry_Delete_Idempotent(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()

	assert.NoError(t, registry.Delete(context.Background(), "TGT-NONEXISTENT"))
}

func TestRedisRegistry_QueryAndCount(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, registry.Put(ctx, newTestTGT()))
	}
	tgt := newTestTGT()
	st := model.NewServiceTicket(tgt, "https://app.example.org", true, false,
		expiry.Ticket{MaxLifetime: time.Hour})
	require.NoError(t, registry.Put(ctx, st))

	tgts, err := registry.Query(ctx, model.KindTGT, 0)
	require.NoError(t, err)
	assert.Len(t, tgts, 3)

	count, err := registry.Count(ctx, model.KindST)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// limit 生效
	limited, err := registry.Query(ctx, model.KindTGT, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRedisRegistry_Unavailable(t *testing.T) {
	registry, mr, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	tgt := newTestTGT()
	require.NoError(t, registry.Put(ctx, tgt))

	// 后端故障必须与"票据不存在"可区分
	mr.Close()
	_, err := registry.Get(ctx, tgt.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)
	assert.NotErrorIs(t, err, ErrTicketNotFound)
}

func TestSweeper_SweepOnce(t *testing.T) {
	registry, _, cleanup := setupTestRegistry(t)
	defer cleanup()
	ctx := context.Background()

	fresh := newTestTGT()
	require.NoError(t, registry.Put(ctx, fresh))

	stale := newTestTGT()
	stale.CreatedAt = time.Now().Add(-9 * time.Hour)
	stale.LastUsedAt = stale.CreatedAt
	require.NoError(t, registry.Put(ctx, stale))

	removed, err := registry.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = registry.Get(ctx, fresh.ID, model.KindTGT)
	assert.NoError(t, err)
	_, err = registry.Get(ctx, stale.ID, model.KindTGT)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}
