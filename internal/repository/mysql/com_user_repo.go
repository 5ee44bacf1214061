package mysql

import (
	"context"
	"errors"

	"Lee_Social/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommunityMemberRepository struct {
	DB *gorm.DB
}

// Create 插入成员关系；(community_id, user_id) 已有退出记录时复用该行
func (r *CommunityMemberRepository) Create(ctx context.Context, member *model.CommunityMember) error {
	db := r.DB.WithContext(ctx)
	var rel model.CommunityMember
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("community_id = ? AND user_id = ?", member.CommunityID, member.UserID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return translate(db.Create(member).Error)
	}
	if err != nil {
		return err
	}
	if rel.Status == model.MemberActive {
		return model.ErrDuplicate
	}
	res := db.Model(&model.CommunityMember{}).
		Where("id = ? AND status = ?", rel.ID, model.MemberDeleted).
		Updates(map[string]any{
			"role":      member.Role,
			"status":    model.MemberActive,
			"joined_at": member.JoinedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrDuplicate
	}
	member.ID = rel.ID
	member.CreatedAt = rel.CreatedAt
	member.Status = model.MemberActive
	return nil
}

func (r *CommunityMemberRepository) GetMembership(ctx context.Context, communityID, userID string) (*model.CommunityMember, error) {
	var m model.CommunityMember
	err := r.DB.WithContext(ctx).
		Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberActive).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *CommunityMemberRepository) Update(ctx context.Context, m *model.CommunityMember) error {
	return r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("id = ?", m.ID).
		Update("role", m.Role).Error
}

// SoftDelete 只改 status；返回 ErrNotFound 表示已经不是成员
func (r *CommunityMemberRepository) SoftDelete(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("id = ? AND status = ?", id, model.MemberActive).
		Update("status", model.MemberDeleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *CommunityMemberRepository) ListForCommunity(ctx context.Context, communityID string) ([]model.CommunityMember, error) {
	var list []model.CommunityMember
	err := r.DB.WithContext(ctx).
		Where("community_id = ? AND status = ?", communityID, model.MemberActive).
		Order("role DESC").Order("joined_at ASC").
		Find(&list).Error
	return list, err
}

func (r *CommunityMemberRepository) CountForCommunity(ctx context.Context, communityID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND status = ?", communityID, model.MemberActive).
		Count(&n).Error
	return n, err
}

func (r *CommunityMemberRepository) IsMember(ctx context.Context, communityID, userID string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberActive).
		Count(&n).Error
	return n > 0, err
}
