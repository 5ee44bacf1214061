package mysql

import (
	"context"

	"Lee_Social/internal/model"

	"gorm.io/gorm"
)

type CommunityRepository struct {
	DB *gorm.DB
}

func (r *CommunityRepository) Create(ctx context.Context, c *model.Community) error {
	return translate(r.DB.WithContext(ctx).Create(c).Error)
}

func (r *CommunityRepository) GetByID(ctx context.Context, id string) (*model.Community, error) {
	var community model.Community
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&community).Error; err != nil {
		return nil, translate(err)
	}
	return &community, nil
}

// Update 保存可编辑字段；member_count 只走 AdjustMemberCount / SetMemberCount
func (r *CommunityRepository) Update(ctx context.Context, c *model.Community) error {
	return translate(r.DB.WithContext(ctx).Model(c).
		Select("name", "description", "cover_image_url", "privacy", "tags").
		Updates(c).Error)
}

// ListPublic 公开社区，新的在前
func (r *CommunityRepository) ListPublic(ctx context.Context, skip, limit int) ([]model.Community, error) {
	var list []model.Community
	err := r.DB.WithContext(ctx).
		Where("privacy = ?", model.PrivacyPublic).
		Order("created_at DESC").Order("id DESC").
		Offset(skip).Limit(limit).
		Find(&list).Error
	return list, err
}

// ListForUser 用户有效加入的社区
func (r *CommunityRepository) ListForUser(ctx context.Context, userID string, skip, limit int) ([]model.Community, error) {
	var list []model.Community
	err := r.DB.WithContext(ctx).
		Joins("JOIN community_members cm ON cm.community_id = communities.id").
		Where("cm.user_id = ? AND cm.status = ?", userID, model.MemberActive).
		Order("cm.joined_at DESC").
		Offset(skip).Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *CommunityRepository) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.Community{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// AdjustMemberCount 原子加减，GREATEST 保证不出现负数
func (r *CommunityRepository) AdjustMemberCount(ctx context.Context, id string, delta int64) error {
	return r.DB.WithContext(ctx).Model(&model.Community{}).
		Where("id = ?", id).
		UpdateColumn("member_count", gorm.Expr("GREATEST(0, member_count + ?)", delta)).Error
}

// SetMemberCount 对账修正
func (r *CommunityRepository) SetMemberCount(ctx context.Context, id string, count int64) error {
	return r.DB.WithContext(ctx).Model(&model.Community{}).
		Where("id = ?", id).
		UpdateColumn("member_count", count).Error
}

// ListAfter 对账批量查询，按 id 升序翻页
func (r *CommunityRepository) ListAfter(ctx context.Context, lastID string, limit int) ([]model.Community, error) {
	var list []model.Community
	err := r.DB.WithContext(ctx).
		Select("id", "member_count").
		Where("id > ?", lastID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
