package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Lee_Social/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	EmailCodePrefix = "email:code"

	// 两阶段键：邮件发出前是 pending，发出后转为 confirmed 才能校验
	PendingSuffix   = "pending"
	ConfirmedSuffix = "confirmed"
)

var (
	ErrCodeNotFound        = fmt.Errorf("email code: %w", model.ErrNotFound)
	ErrCodeConfirmedFailed = errors.New("code confirmed failed")
)

// 取值+写入目标+设置 TTL+删除源
var confirmScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if not val then
  return 0
end
redis.call("SET", KEYS[2], val, "PX", ARGV[1])
redis.call("DEL", KEYS[1])
return 1
`)

type EmailCodeRepository struct {
	RDB *redis.Client
}

func NewEmailCodeRepository(rdb *redis.Client) *EmailCodeRepository {
	return &EmailCodeRepository{RDB: rdb}
}

func codeKey(scope, stage, email string) string {
	return fmt.Sprintf("%s:%s:%s:%s", EmailCodePrefix, scope, stage, email)
}

// Save 写入 pending 验证码
func (r *EmailCodeRepository) Save(ctx context.Context, scope, email, code string, ttl time.Duration) error {
	return r.RDB.Set(ctx, codeKey(scope, PendingSuffix, email), code, ttl).Err()
}

// Confirm 邮件发送成功后把 pending 转为 confirmed（重置 TTL）
func (r *EmailCodeRepository) Confirm(ctx context.Context, scope, email string, ttl time.Duration) error {
	src := codeKey(scope, PendingSuffix, email)
	dst := codeKey(scope, ConfirmedSuffix, email)
	n, err := confirmScript.Run(ctx, r.RDB, []string{src, dst}, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrCodeConfirmedFailed
	}
	return nil
}

// Get 获取 confirmed 的验证码（校验时使用）
func (r *EmailCodeRepository) Get(ctx context.Context, scope, email string) (string, error) {
	val, err := r.RDB.Get(ctx, codeKey(scope, ConfirmedSuffix, email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	return val, err
}

// Delete 删除两个阶段的键（幂等）
func (r *EmailCodeRepository) Delete(ctx context.Context, scope, email string) error {
	return r.RDB.Del(ctx, codeKey(scope, PendingSuffix, email), codeKey(scope, ConfirmedSuffix, email)).Err()
}
