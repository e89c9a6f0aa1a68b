package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pu-ac-cn/cas-backend/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis key 前缀
const (
	ticketKeyPrefix   = "cas:ticket:"
	childrenKeyPrefix = "cas:children:"
)

// ttlGrace 兜底 TTL 的宽限时长，确保策略判定先于 Redis 淘汰生效
const ttlGrace = time.Hour

// putScript 原子创建票据，ID 已存在时返回 0
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'last_used', ARGV[2], 'consumed', '0')
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// consumeScript 原子比较并消费：并发下恰好一个调用者拿到 1
// 返回 {0} 不存在 / {2} 已消费 / {1, data, last_used} 消费成功
var consumeScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'data', 'consumed', 'last_used')
if not v[1] then
  return {0}
end
if v[2] == '1' then
  return {2}
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return {1, v[1], v[3]}
`)

// RedisRegistry Redis 票据注册表
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry 创建 Redis 票据注册表
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// unavailable 包装后端故障，保持与"不存在"可区分
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRegistryUnavailable, op, err)
}

// Put 存储新票据
func (r *RedisRegistry) Put(ctx context.Context, t *model.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("序列化票据失败: %w", err)
	}

	var ttlMillis int64
	if hard := t.Expiry.HardLifetime(); hard > 0 {
		ttlMillis = (hard + ttlGrace).Milliseconds()
	}

	created, err := putScript.Run(ctx, r.client,
		[]string{ticketKeyPrefix + t.ID},
		data, t.LastUsedAt.UnixNano(), ttlMillis,
	).Int()
	if err != nil {
		return unavailable("put", err)
	}
	if created == 0 {
		return ErrDuplicateTicket
	}
	return nil
}

// Get 读取票据并校验类型与过期
func (r *RedisRegistry) Get(ctx context.Context, id, kind string) (*model.Ticket, error) {
	t, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if kind != "" && t.Kind != kind {
		return nil, ErrWrongTicketType
	}
	if t.IsExpired(time.Now()) {
		// 过期即永久失效，顺手清除
		_ = r.Delete(ctx, id)
		return nil, ErrTicketExpired
	}
	return t, nil
}

// load 读取票据原始状态，不做过期判定
// 已消费票据对读取路径不可见，避免在兜底 TTL 淘汰前仍显示为存活
func (r *RedisRegistry) load(ctx context.Context, id string) (*model.Ticket, error) {
	fields, err := r.client.HMGet(ctx, ticketKeyPrefix+id, "data", "last_used", "consumed").Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if fields[0] == nil {
		return nil, ErrTicketNotFound
	}
	if consumed, ok := fields[2].(string); ok && consumed == "1" {
		return nil, ErrTicketConsumed
	}
	return decodeTicket(fields[0], fields[1])
}

// decodeTicket 反序列化票据并以注册表中的 last_used 为权威
func decodeTicket(data, lastUsed interface{}) (*model.Ticket, error) {
	raw, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("票据数据类型异常: %T", data)
	}
	var t model.Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("反序列化票据失败: %w", err)
	}
	if s, ok := lastUsed.(string); ok {
		if nanos, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.LastUsedAt = time.Unix(0, nanos)
		}
	}
	return &t, nil
}

// UpdateLastUsed 刷新滑动过期状态
// 单条 HSET 保证相对并发 Get 原子；纯滑动超时票据同时续期兜底 TTL
func (r *RedisRegistry) UpdateLastUsed(ctx context.Context, t *model.Ticket) error {
	now := time.Now()
	key := ticketKeyPrefix + t.ID
	if err := r.client.HSet(ctx, key, "last_used", now.UnixNano()).Err(); err != nil {
		return unavailable("update_last_used", err)
	}
	if t.Expiry.MaxLifetime == 0 && t.Expiry.IdleTimeout > 0 {
		r.client.PExpire(ctx, key, t.Expiry.IdleTimeout+ttlGrace)
	}
	t.LastUsedAt = now
	return nil
}

// UpdateAuthentication 重写票据序列化数据，last_used 与 TTL 不变
func (r *RedisRegistry) UpdateAuthentication(ctx context.Context, t *model.Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("序列化票据失败: %w", err)
	}
	if err := r.client.HSet(ctx, ticketKeyPrefix+t.ID, "data", data).Err(); err != nil {
		return unavailable("update_authentication", err)
	}
	return nil
}

// Consume 原子消费单次使用票据
func (r *RedisRegistry) Consume(ctx context.Context, id string) (*model.Ticket, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{ticketKeyPrefix + id}).Slice()
	if err != nil {
		return nil, unavailable("consume", err)
	}
	status, _ := res[0].(int64)
	switch status {
	case 0:
		return nil, ErrTicketNotFound
	case 2:
		return nil, ErrTicketConsumed
	}

	t, err := decodeTicket(res[1], res[2])
	if err != nil {
		return nil, err
	}
	if t.IsExpired(time.Now()) {
		_ = r.Delete(ctx, id)
		return nil, ErrTicketExpired
	}
	return t, nil
}

// Delete 删除票据，级联删除全部后代
func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	children, err := r.client.SMembers(ctx, childrenKeyPrefix+id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("delete", err)
	}
	for _, child := range children {
		if err := r.Delete(ctx, child); err != nil {
			return err
		}
	}
	if err := r.client.Del(ctx, ticketKeyPrefix+id, childrenKeyPrefix+id).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// AddChild 登记父子关系
func (r *RedisRegistry) AddChild(ctx context.Context, parentID, childID string) error {
	key := childrenKeyPrefix + parentID
	if err := r.client.SAdd(ctx, key, childID).Err(); err != nil {
		return unavailable("add_child", err)
	}
	// 子票据集合的存活以父票据为准，TTL 与父票据兜底对齐
	if ttl, err := r.client.PTTL(ctx, ticketKeyPrefix+parentID).Result(); err == nil && ttl > 0 {
		r.client.PExpire(ctx, key, ttl)
	}
	return nil
}

// Query 枚举指定类型的未过期票据
// 基于 SCAN 游标，不阻塞签发/验证路径
func (r *RedisRegistry) Query(ctx context.Context, kind string, limit int) ([]*model.Ticket, error) {
	match := ticketKeyPrefix + "*"
	if kind != "" {
		match = ticketKeyPrefix + kind + "-*"
	}

	var tickets []*model.Ticket
	now := time.Now()
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(ticketKeyPrefix):]
		t, err := r.load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTicketNotFound) || errors.Is(err, ErrTicketConsumed) {
				continue
			}
			return nil, err
		}
		if t.IsExpired(now) {
			continue
		}
		tickets = append(tickets, t)
		if limit > 0 && len(tickets) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("query", err)
	}
	return tickets, nil
}

// Count 统计指定类型的未过期票据数量
func (r *RedisRegistry) Count(ctx context.Context, kind string) (int64, error) {
	tickets, err := r.Query(ctx, kind, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(tickets)), nil
}

// SweepExpired 扫描全部票据并清除已过期者
// 逐票据判定与删除，扫描过程不阻塞并发的票据创建与验证
func (r *RedisRegistry) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()
	iter := r.client.Scan(ctx, 0, ticketKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(ticketKeyPrefix):]
		t, err := r.load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrTicketNotFound) {
				continue
			}
			// 已消费票据同样回收，不等兜底 TTL
			if errors.Is(err, ErrTicketConsumed) {
				if err := r.Delete(ctx, id); err != nil {
					return removed, err
				}
				removed++
				continue
			}
			return removed, err
		}
		if t.IsExpired(now) {
			if err := r.Delete(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable("sweep", err)
	}
	return removed, nil
}
