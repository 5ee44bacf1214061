package model

import "time"

const (
	EventCommunityCreated = "community_created"
	EventMemberJoined     = "member_joined"
	EventMemberLeft       = "member_left"
	EventRoleChanged      = "role_changed"
)

type OutboxStatus int8

const (
	OutboxPending OutboxStatus = 0
	OutboxSent    OutboxStatus = 1
	OutboxFailed  OutboxStatus = 2
)

// MembershipOutbox 成员变更事件表，和变更写在同一个事务里，由 relayer 投递到 kafka
type MembershipOutbox struct {
	ID          uint64       `gorm:"primaryKey;autoIncrement"`
	EventType   string       `gorm:"size:32;not null"`
	CommunityID string       `gorm:"size:26;not null"`
	UserID      string       `gorm:"size:26;not null"`
	Payload     string       `gorm:"type:json;not null"`
	Status      OutboxStatus `gorm:"not null;default:0;index;comment:'0=pending,1=sent,2=failed'"`
	Retry       int          `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MembershipOutbox) TableName() string { return "membership_outbox" }
