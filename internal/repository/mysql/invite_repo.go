package mysql

import (
	"context"
	"time"

	"Lee_Social/internal/model"

	"gorm.io/gorm"
)

type InviteRepository struct {
	DB *gorm.DB
}

func (r *InviteRepository) Create(ctx context.Context, inv *model.CommunityInvite) error {
	return translate(r.DB.WithContext(ctx).Create(inv).Error)
}

func (r *InviteRepository) GetByCode(ctx context.Context, code string) (*model.CommunityInvite, error) {
	var inv model.CommunityInvite
	if err := r.DB.WithContext(ctx).Where("code = ?", code).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (r *InviteRepository) GetByID(ctx context.Context, id string) (*model.CommunityInvite, error) {
	var inv model.CommunityInvite
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

// Update 只允许修改 active 和 max_uses；uses_count 只走 Redeem
func (r *InviteRepository) Update(ctx context.Context, inv *model.CommunityInvite) error {
	return r.DB.WithContext(ctx).Model(&model.CommunityInvite{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{"active": inv.Active, "max_uses": inv.MaxUses}).Error
}

func (r *InviteRepository) ListForCommunity(ctx context.Context, communityID string) ([]model.CommunityInvite, error) {
	var list []model.CommunityInvite
	err := r.DB.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// Redeem 有界条件更新：次数、有效期、状态都在同一条 UPDATE 里判断，
// 并发下最多成功 max_uses 次
func (r *InviteRepository) Redeem(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&model.CommunityInvite{}).
		Where("id = ? AND active = ? AND expires_at > ?", id, true, now).
		Where("max_uses IS NULL OR uses_count < max_uses").
		UpdateColumn("uses_count", gorm.Expr("uses_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
