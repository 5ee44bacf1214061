package mysql

import (
	"context"

	"Lee_Social/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	DB *gorm.DB
}

// Append 写 outbox 事件；调用方在成员变更的同一事务里调用
func (r *OutboxRepository) Append(ctx context.Context, ev *model.MembershipOutbox) error {
	if ev.Payload == "" {
		ev.Payload = "{}"
	}
	return r.DB.WithContext(ctx).Create(ev).Error
}

// ListPending 待投递和可重试的失败事件，按 id 升序
func (r *OutboxRepository) ListPending(ctx context.Context, batchSize, maxRetry int) ([]model.MembershipOutbox, error) {
	var list []model.MembershipOutbox
	if err := r.DB.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry < ?)", model.OutboxPending, model.OutboxFailed, maxRetry).
		Order("id ASC").
		Limit(batchSize).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// MarkFailed outbox记录消息失败重试
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.MembershipOutbox{}).Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxFailed, "retry": gorm.Expr("retry + 1")}).Error
}

// MarkSent outbox成功记录消息更新
func (r *OutboxRepository) MarkSent(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&model.MembershipOutbox{}).Where("id = ?", id).
		Update("status", model.OutboxSent).Error
}
