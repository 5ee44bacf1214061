package service

import (
	"context"
	"time"

	"Lee_Social/internal/model"
	"Lee_Social/internal/pkg"
)

// UserRepository is the credential store.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
	// Update writes the profile columns only.
	Update(ctx context.Context, u *model.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	// TouchLastLogin records a login while the stored hash still equals
	// verifiedHash, holding the row until the surrounding transaction ends.
	// It reports false when the password changed after it was verified.
	TouchLastLogin(ctx context.Context, id, verifiedHash string, at time.Time) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// RefreshTokenRepository is the session ledger.
type RefreshTokenRepository interface {
	GetByTokenHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	Create(ctx context.Context, tok *model.RefreshToken) error
	Update(ctx context.Context, tok *model.RefreshToken) error
	// Revoke marks a live token revoked and links it to its successor.
	// It reports false when the token was already revoked.
	Revoke(ctx context.Context, id string, at time.Time, replacedBy *string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

type CommunityRepository interface {
	GetByID(ctx context.Context, id string) (*model.Community, error)
	Create(ctx context.Context, c *model.Community) error
	Update(ctx context.Context, c *model.Community) error
	ListPublic(ctx context.Context, skip, limit int) ([]model.Community, error)
	ListForUser(ctx context.Context, userID string, skip, limit int) ([]model.Community, error)
	Exists(ctx context.Context, id string) (bool, error)
	// AdjustMemberCount applies delta atomically in the store, never going below zero.
	AdjustMemberCount(ctx context.Context, id string, delta int64) error
	SetMemberCount(ctx context.Context, id string, count int64) error
	// ListAfter walks communities in id order for batch jobs.
	ListAfter(ctx context.Context, lastID string, limit int) ([]model.Community, error)
}

type MemberRepository interface {
	// GetMembership returns only an active membership.
	GetMembership(ctx context.Context, communityID, userID string) (*model.CommunityMember, error)
	// Create inserts the membership, or reactivates a previously deleted row for the same pair.
	Create(ctx context.Context, m *model.CommunityMember) error
	Update(ctx context.Context, m *model.CommunityMember) error
	SoftDelete(ctx context.Context, id string) error
	ListForCommunity(ctx context.Context, communityID string) ([]model.CommunityMember, error)
	CountForCommunity(ctx context.Context, communityID string) (int64, error)
	IsMember(ctx context.Context, communityID, userID string) (bool, error)
}

type InviteRepository interface {
	GetByCode(ctx context.Context, code string) (*model.CommunityInvite, error)
	GetByID(ctx context.Context, id string) (*model.CommunityInvite, error)
	Create(ctx context.Context, inv *model.CommunityInvite) error
	Update(ctx context.Context, inv *model.CommunityInvite) error
	ListForCommunity(ctx context.Context, communityID string) ([]model.CommunityInvite, error)
	// Redeem increments the use count only while the invite is active, unexpired
	// at now and under its bound. It reports false when no row qualified.
	Redeem(ctx context.Context, id string, now time.Time) (bool, error)
}

type OutboxRepository interface {
	Append(ctx context.Context, ev *model.MembershipOutbox) error
	ListPending(ctx context.Context, batchSize, maxRetry int) ([]model.MembershipOutbox, error)
	MarkSent(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64) error
}

// Store aggregates the repositories. Transaction runs fn against a store bound
// to one database transaction; fn's error rolls everything back.
type Store interface {
	Users() UserRepository
	RefreshTokens() RefreshTokenRepository
	Communities() CommunityRepository
	Members() MemberRepository
	Invites() InviteRepository
	Outbox() OutboxRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

type TokenIssuer interface {
	IssueAccessToken(u *model.User) (string, time.Time, error)
	IssueRefreshToken() (string, error)
	AccessTokenExpiry() time.Time
	RefreshTokenExpiry() time.Time
	ParseAccess(token string) (*pkg.Claims, error)
}

// Locker serializes work on one key across processes. Acquire reports false
// when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key, token string) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// CodeStore keeps short-lived one-time email codes. A saved code only becomes
// readable through Get once Confirm has run after the mail went out.
type CodeStore interface {
	Save(ctx context.Context, scope, email, code string, ttl time.Duration) error
	Confirm(ctx context.Context, scope, email string, ttl time.Duration) error
	Get(ctx context.Context, scope, email string) (string, error)
	Delete(ctx context.Context, scope, email string) error
}

// Publisher delivers one outbox event to the message bus.
type Publisher interface {
	Send(ctx context.Context, key string, value []byte) error
}
