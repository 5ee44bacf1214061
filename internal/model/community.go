package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type Privacy int8

const (
	PrivacyPublic  Privacy = 0 // 任何人可见、可加入
	PrivacyPrivate Privacy = 1 // 仅凭邀请码加入
)

func (p Privacy) Valid() bool {
	return p == PrivacyPublic || p == PrivacyPrivate
}

func (p Privacy) String() string {
	switch p {
	case PrivacyPublic:
		return "Public"
	case PrivacyPrivate:
		return "Private"
	default:
		return "Unknown"
	}
}

// ParsePrivacy accepts "Public"/"Private" in any case.
func ParsePrivacy(s string) (Privacy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return PrivacyPublic, true
	case "private":
		return PrivacyPrivate, true
	}
	return 0, false
}

type Role int8

const (
	RoleMember    Role = 0
	RoleModerator Role = 1
	RoleOwner     Role = 2
)

func (r Role) Valid() bool {
	return r >= RoleMember && r <= RoleOwner
}

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "Member"
	case RoleModerator:
		return "Moderator"
	case RoleOwner:
		return "Owner"
	default:
		return "Unknown"
	}
}

// CanManage reports whether the role may issue invites and change roles.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleModerator
}

func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember, true
	case "moderator":
		return RoleModerator, true
	case "owner":
		return RoleOwner, true
	}
	return 0, false
}

type Community struct {
	ID            string    `gorm:"primaryKey;size:26"`
	Name          string    `gorm:"size:100;not null"`
	Description   *string   `gorm:"type:text"`
	CoverImageURL *string   `gorm:"size:512"`
	Privacy       Privacy   `gorm:"not null;default:0;index"`
	OwnerID       string    `gorm:"size:26;not null;index"`
	MemberCount   int64     `gorm:"not null;default:0"`
	Tags          Tags      `gorm:"type:json"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

type MemberStatus int8

const (
	MemberDeleted MemberStatus = 0
	MemberActive  MemberStatus = 1
)

// CommunityMember 一个 (community, user) 只有一行；退出只改 status，重新加入时复用
type CommunityMember struct {
	ID          string       `gorm:"primaryKey;size:26"`
	CommunityID string       `gorm:"size:26;not null;uniqueIndex:uk_community_user"`
	UserID      string       `gorm:"size:26;not null;index;uniqueIndex:uk_community_user"`
	Role        Role         `gorm:"not null;default:0"`
	Status      MemberStatus `gorm:"not null;default:1;comment:'1=active,0=deleted'"`
	JoinedAt    time.Time    `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CommunityMember) TableName() string {
	return "community_members"
}

func (m *CommunityMember) Active() bool {
	return m.Status == MemberActive
}

type CommunityInvite struct {
	ID          string    `gorm:"primaryKey;size:26"`
	CommunityID string    `gorm:"size:26;not null;index"`
	Code        string    `gorm:"size:16;not null;uniqueIndex"`
	CreatedBy   string    `gorm:"size:26;not null"`
	ExpiresAt   time.Time `gorm:"not null"`
	MaxUses     *int      // nil 表示不限次数
	UsesCount   int       `gorm:"not null;default:0"`
	Active      bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CommunityInvite) TableName() string {
	return "community_invites"
}

func (i *CommunityInvite) IsExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

func (i *CommunityInvite) Exhausted() bool {
	return i.MaxUses != nil && i.UsesCount >= *i.MaxUses
}

// CommunityView is a community as seen by one caller.
type CommunityView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   *string   `json:"description,omitempty"`
	CoverImageURL *string   `json:"coverImageUrl,omitempty"`
	Privacy       string    `json:"privacy"`
	OwnerID       string    `json:"ownerId"`
	MemberCount   int64     `json:"memberCount"`
	Tags          []string  `json:"tags"`
	CreatedAt     time.Time `json:"createdAt"`
	CurrentRole   *string   `json:"currentUserRole,omitempty"`
}

func NewCommunityView(c *Community, role *Role) CommunityView {
	v := CommunityView{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		CoverImageURL: c.CoverImageURL,
		Privacy:       c.Privacy.String(),
		OwnerID:       c.OwnerID,
		MemberCount:   c.MemberCount,
		Tags:          []string(c.Tags),
		CreatedAt:     c.CreatedAt,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if role != nil {
		s := role.String()
		v.CurrentRole = &s
	}
	return v
}

// InviteView 邀请码对外结构
type InviteView struct {
	ID          string    `json:"id"`
	CommunityID string    `json:"communityId"`
	Code        string    `json:"code"`
	CreatedBy   string    `json:"createdBy"`
	ExpiresAt   time.Time `json:"expiresAt"`
	MaxUses     *int      `json:"maxUses,omitempty"`
	UsesCount   int       `json:"usesCount"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (i *CommunityInvite) View() InviteView {
	return InviteView{
		ID:          i.ID,
		CommunityID: i.CommunityID,
		Code:        i.Code,
		CreatedBy:   i.CreatedBy,
		ExpiresAt:   i.ExpiresAt,
		MaxUses:     i.MaxUses,
		UsesCount:   i.UsesCount,
		Active:      i.Active,
		CreatedAt:   i.CreatedAt,
	}
}

type MemberView struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (m *CommunityMember) View() MemberView {
	return MemberView{UserID: m.UserID, Role: m.Role.String(), JoinedAt: m.JoinedAt}
}
